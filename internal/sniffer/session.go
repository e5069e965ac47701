package sniffer

import (
	"errors"
	"sync"

	"github.com/LinkTsang/go-sniffer/internal/pipeline"
)

var (
	ErrStart          = errors.New("failed to start the sniffer")
	ErrShutdownSignal = errors.New("shutdown already signaled")
)

// Session starts capture on cfg.DeviceName and pushes one record per captured
// packet into sink until the returned handle is signaled. The session owns
// sink and closes it when it stops producing.
type Session interface {
	Start(cfg Config, sink *pipeline.Sender) (*ShutdownHandle, error)
}

// ShutdownHandle is a one-shot stop request shared by the coordinator and a
// running session.
type ShutdownHandle struct {
	stop chan struct{}
	done chan struct{}

	mu    sync.Mutex
	fired bool
	once  sync.Once
}

func NewShutdownHandle() *ShutdownHandle {
	return &ShutdownHandle{
		stop: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Signal requests the session to stop. Only the first call delivers, later
// calls return ErrShutdownSignal.
func (h *ShutdownHandle) Signal() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fired {
		return ErrShutdownSignal
	}
	h.fired = true
	h.stop <- struct{}{}
	return nil
}

// C is the session side of the handle.
func (h *ShutdownHandle) C() <-chan struct{} {
	return h.stop
}

// Stopped is called by the session once the device has been released.
func (h *ShutdownHandle) Stopped() {
	h.once.Do(func() { close(h.done) })
}

// Done is closed after the session released its device.
func (h *ShutdownHandle) Done() <-chan struct{} {
	return h.done
}
