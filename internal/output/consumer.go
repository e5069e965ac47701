package output

import (
	"errors"

	"go.uber.org/multierr"

	"github.com/LinkTsang/go-sniffer/internal/record"
)

var ErrPersistence = errors.New("failed to persist packet")

type RecordConsumer interface {
	Consume(*record.Record) error
	Close() error
}

// Multi hands every record to each consumer in order.
type Multi []RecordConsumer

func (m Multi) Consume(r *record.Record) error {
	var err error
	for _, c := range m {
		err = multierr.Append(err, c.Consume(r))
	}
	return err
}

func (m Multi) Close() error {
	var err error
	for _, c := range m {
		err = multierr.Append(err, c.Close())
	}
	return err
}
