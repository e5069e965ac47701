package sniffer

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/gopacket/pcap"

	"github.com/LinkTsang/go-sniffer/internal/device"
)

var (
	ErrInvalidConfig = fmt.Errorf("invalid sniffer config: %w", device.ErrInvalidSelection)
	ErrInvalidOption = errors.New("invalid sniffer option")
)

// Config holds every capture engine option. It is built once per session and
// only read afterwards.
type Config struct {
	// DeviceName is the interface to capture from. Required.
	DeviceName string
	// SnapLen is the maximum number of bytes captured per frame.
	SnapLen int32
	// Promiscuous puts the interface in promiscuous mode.
	Promiscuous bool
	// Timeout is the pcap read timeout.
	Timeout time.Duration
	// Filter is a BPF expression applied to the handle. Empty captures all.
	Filter string
	// ServerPort identifies the monitored endpoint. TCP segments to this port
	// are tagged Client, segments from it Server.
	ServerPort uint16
	// IncludeEmpty forwards segments without payload.
	IncludeEmpty bool
}

// DefaultConfig returns the engine defaults with no device selected.
func DefaultConfig() Config {
	return Config{
		SnapLen:     65535,
		Promiscuous: true,
		Timeout:     pcap.BlockForever,
		Filter:      "tcp port 8080",
		ServerPort:  8080,
	}
}

type Option func(*Config) error

// WithSnapLen accepts 1..MaxInt32.
func WithSnapLen(n int) Option {
	return func(c *Config) error {
		if n < 1 || int64(n) > math.MaxInt32 {
			return fmt.Errorf("%w: snaplen %d out of range 1..%d", ErrInvalidOption, n, math.MaxInt32)
		}
		c.SnapLen = int32(n)
		return nil
	}
}

// WithServerPort accepts 1..65535.
func WithServerPort(port int) Option {
	return func(c *Config) error {
		if port < 1 || port > math.MaxUint16 {
			return fmt.Errorf("%w: server port %d out of range 1..%d", ErrInvalidOption, port, math.MaxUint16)
		}
		c.ServerPort = uint16(port)
		return nil
	}
}

func WithPromiscuous(on bool) Option {
	return func(c *Config) error { c.Promiscuous = on; return nil }
}

func WithFilter(filter string) Option {
	return func(c *Config) error { c.Filter = filter; return nil }
}

func WithIncludeEmpty(include bool) Option {
	return func(c *Config) error { c.IncludeEmpty = include; return nil }
}

// BuildConfig returns the defaults with the given device and options applied.
// It does not check that the device exists.
func BuildConfig(deviceName string, opts ...Option) (Config, error) {
	if deviceName == "" {
		return Config{}, fmt.Errorf("%w: empty device name", ErrInvalidConfig)
	}
	cfg := DefaultConfig()
	cfg.DeviceName = deviceName
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}
