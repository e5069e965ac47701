package record

import (
	"fmt"
	"time"
)

// Source is the direction of a packet relative to the monitored endpoint.
type Source uint8

const (
	Client Source = iota
	Server
)

func (s Source) String() string {
	switch s {
	case Client:
		return "Client"
	case Server:
		return "Server"
	default:
		return fmt.Sprintf("Source(%d)", uint8(s))
	}
}

// Opposite returns the other end of the conversation.
func (s Source) Opposite() Source {
	if s == Client {
		return Server
	}
	return Client
}

// Record is one captured packet travelling through the pipeline.
type Record struct {
	ID        string
	Source    Source
	Timestamp time.Time
	Payload   []byte
}

// Summary renders the per-packet diagnostic line.
func (r *Record) Summary() string {
	return fmt.Sprintf("%v -> %v: %s of length %d bytes", r.Source, r.Source.Opposite(), r.ID, len(r.Payload))
}
