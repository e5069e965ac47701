package output

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/LinkTsang/go-sniffer/internal/record"
)

var ErrCollision = errors.New("packet identifier already written")

// FileOutput writes each packet base64 encoded to <dir>/packet-<id>.bin.
type FileOutput struct {
	dir  string
	log  *zap.SugaredLogger
	seen map[string]struct{}
}

func NewFileOutput(dir string, log *zap.SugaredLogger) (*FileOutput, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileOutput{
		dir:  dir,
		log:  log,
		seen: make(map[string]struct{}),
	}, nil
}

// PacketPath is where the packet with the given identifier is stored.
func PacketPath(dir, id string) string {
	return filepath.Join(dir, "packet-"+id+".bin")
}

func (f *FileOutput) Consume(r *record.Record) error {
	if r == nil {
		return fmt.Errorf("%w: empty record", ErrPersistence)
	}
	if r.ID == "" || strings.ContainsAny(r.ID, `/\`) || strings.Contains(r.ID, "..") {
		return fmt.Errorf("%w: invalid identifier %q", ErrPersistence, r.ID)
	}

	encoded := base64.StdEncoding.EncodeToString(r.Payload)
	path := PacketPath(f.dir, r.ID)

	f.log.Info(r.Summary())

	if _, dup := f.seen[r.ID]; dup {
		return fmt.Errorf("%w: %w: %s", ErrPersistence, ErrCollision, path)
	}
	if err := os.WriteFile(path, []byte(encoded), 0644); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPersistence, r.ID, err)
	}
	f.seen[r.ID] = struct{}{}
	return nil
}

func (f *FileOutput) Close() error {
	return nil
}

// ReadPacketFile decodes a stored packet back to its raw bytes.
func ReadPacketFile(dir, id string) ([]byte, error) {
	data, err := os.ReadFile(PacketPath(dir, id))
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(string(data))
}
