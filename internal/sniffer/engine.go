package sniffer

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LinkTsang/go-sniffer/internal/pipeline"
	"github.com/LinkTsang/go-sniffer/internal/record"
)

// PacketSource is an open capture handle.
type PacketSource interface {
	Packets() <-chan gopacket.Packet
	Close()
}

// Opener opens the device named in cfg.
type Opener func(cfg Config) (PacketSource, error)

type pcapSource struct {
	handle *pcap.Handle
	source *gopacket.PacketSource
}

func (s *pcapSource) Packets() <-chan gopacket.Packet { return s.source.Packets() }
func (s *pcapSource) Close() { s.handle.Close() }

// OpenLive opens cfg.DeviceName with pcap and applies the BPF filter.
func OpenLive(cfg Config) (PacketSource, error) {
	handle, err := pcap.OpenLive(cfg.DeviceName, cfg.SnapLen, cfg.Promiscuous, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	if cfg.Filter != "" {
		if err := handle.SetBPFFilter(cfg.Filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to set BPF filter %q: %w", cfg.Filter, err)
		}
	}
	return &pcapSource{
		handle: handle,
		source: gopacket.NewPacketSource(handle, handle.LinkType()),
	}, nil
}

// Engine is the pcap backed Session.
type Engine struct {
	open  Opener
	newID func() string
	log   *zap.SugaredLogger
	stats *Stats
}

type EngineOption func(*Engine)

// WithOpener replaces pcap.OpenLive, mostly for tests.
func WithOpener(open Opener) EngineOption {
	return func(e *Engine) { e.open = open }
}

func WithIDGenerator(newID func() string) EngineOption {
	return func(e *Engine) { e.newID = newID }
}

func NewEngine(log *zap.SugaredLogger, opts ...EngineOption) *Engine {
	e := &Engine{
		open:  OpenLive,
		newID: uuid.NewString,
		log:   log,
		stats: NewStats(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Stats() Snapshot {
	return e.stats.Snapshot()
}

// Start opens the device and starts the production loop. On error sink is
// left open and owned by the caller.
func (e *Engine) Start(cfg Config, sink *pipeline.Sender) (*ShutdownHandle, error) {
	if cfg.DeviceName == "" {
		return nil, fmt.Errorf("%w: %w", ErrStart, ErrInvalidConfig)
	}
	e.log.Debugf("opening %s (snaplen=%d promisc=%v filter=%q)", cfg.DeviceName, cfg.SnapLen, cfg.Promiscuous, cfg.Filter)
	src, err := e.open(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: device %s: %w", ErrStart, cfg.DeviceName, err)
	}

	h := NewShutdownHandle()
	go e.run(cfg, src, sink, h)
	return h, nil
}

func (e *Engine) run(cfg Config, src PacketSource, sink *pipeline.Sender, h *ShutdownHandle) {
	defer h.Stopped()
	defer sink.Close()
	defer src.Close()

	packets := src.Packets()
	for {
		select {
		case <-h.C():
			e.log.Debugf("capture on %s stopped", cfg.DeviceName)
			return
		case packet, ok := <-packets:
			if !ok {
				e.log.Warnf("packet source for %s exhausted", cfg.DeviceName)
				return
			}
			e.handle(cfg, packet, sink)
		}
	}
}

func (e *Engine) handle(cfg Config, packet gopacket.Packet, sink *pipeline.Sender) {
	e.stats.IncrementCaptured(len(packet.Data()))

	source, payload, ok := Classify(packet, cfg.ServerPort)
	if !ok || (len(payload) == 0 && !cfg.IncludeEmpty) {
		e.stats.IncrementSkipped()
		return
	}

	r := &record.Record{
		ID:        e.newID(),
		Source:    source,
		Timestamp: packet.Metadata().Timestamp,
		Payload:   payload,
	}
	if err := sink.Send(r); err != nil {
		e.log.Errorf("dropping %s: %v", r.ID, err)
		return
	}
	e.stats.IncrementForwarded()
}

// Classify tags a TCP segment by which side of serverPort it travels.
func Classify(packet gopacket.Packet, serverPort uint16) (record.Source, []byte, bool) {
	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return 0, nil, false
	}
	tcp, _ := tcpLayer.(*layers.TCP)
	switch layers.TCPPort(serverPort) {
	case tcp.DstPort:
		return record.Client, tcp.Payload, true
	case tcp.SrcPort:
		return record.Server, tcp.Payload, true
	}
	return 0, nil, false
}
