package output

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/LinkTsang/go-sniffer/internal/record"
)

// Receiver is the consumer side of the packet pipeline.
type Receiver interface {
	Recv() (*record.Record, bool)
}

type DrainResult struct {
	Consumed int
	Failed   int
}

// Progress counts records handled by a running drain. It is safe to read
// while the drain is still going.
type Progress struct {
	consumed atomic.Int64
	failed   atomic.Int64
}

func (p *Progress) Result() DrainResult {
	return DrainResult{
		Consumed: int(p.consumed.Load()),
		Failed:   int(p.failed.Load()),
	}
}

// Drain feeds records to c one at a time until rx reports end-of-stream.
// A record that fails to persist is logged and skipped; the loop goes on.
func Drain(rx Receiver, c RecordConsumer, log *zap.SugaredLogger) DrainResult {
	return DrainInto(rx, c, log, &Progress{})
}

// DrainInto is Drain reporting into progress as each record completes.
func DrainInto(rx Receiver, c RecordConsumer, log *zap.SugaredLogger, progress *Progress) DrainResult {
	for {
		r, ok := rx.Recv()
		if !ok {
			return progress.Result()
		}
		if err := c.Consume(r); err != nil {
			progress.failed.Add(1)
			log.Errorw("packet not persisted", "id", r.ID, "source", r.Source.String(), "length", len(r.Payload), "error", err)
		}
		progress.consumed.Add(1)
	}
}
