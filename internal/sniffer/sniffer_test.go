package sniffer

import (
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LinkTsang/go-sniffer/internal/device"
	"github.com/LinkTsang/go-sniffer/internal/pipeline"
	"github.com/LinkTsang/go-sniffer/internal/record"
)

func tcpPacket(t *testing.T, srcPort, dstPort uint16, payload []byte) gopacket.Packet {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{5, 4, 3, 2, 1, 0},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IP{10, 0, 0, 1},
		DstIP:    net.IP{10, 0, 0, 2},
	}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort), PSH: true, ACK: true}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)))
	return gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
}

func udpPacket(t *testing.T) gopacket.Packet {
	t.Helper()
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
	udp := &layers.UDP{SrcPort: 53, DstPort: 8080}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, ip, udp, gopacket.Payload{1}))
	return gopacket.NewPacket(buf.Bytes(), layers.LayerTypeIPv4, gopacket.Default)
}

func TestBuildConfig(t *testing.T) {
	cfg, err := BuildConfig("eth0")
	require.NoError(t, err)
	want := DefaultConfig()
	want.DeviceName = "eth0"
	assert.Equal(t, want, cfg)

	cfg, err = BuildConfig("lo", WithServerPort(9000), WithFilter(""), WithSnapLen(128), WithPromiscuous(false), WithIncludeEmpty(true))
	require.NoError(t, err)
	assert.Equal(t, uint16(9000), cfg.ServerPort)
	assert.Empty(t, cfg.Filter)
	assert.Equal(t, int32(128), cfg.SnapLen)
	assert.False(t, cfg.Promiscuous)
	assert.True(t, cfg.IncludeEmpty)

	_, err = BuildConfig("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, device.ErrInvalidSelection)

	_, err = BuildConfig("eth0", WithSnapLen(0))
	assert.ErrorIs(t, err, ErrInvalidOption)
}

func TestBuildConfigRejectsOutOfRangeNumbers(t *testing.T) {
	huge := int64(math.MaxInt32)
	for name, opt := range map[string]Option{
		"snaplen zero":       WithSnapLen(0),
		"snaplen negative":   WithSnapLen(-1),
		"snaplen overflow":   WithSnapLen(int(huge + 1)),
		"port zero":          WithServerPort(0),
		"port negative":      WithServerPort(-8080),
		"port overflow":      WithServerPort(70000),
		"port just overflow": WithServerPort(65536),
	} {
		_, err := BuildConfig("eth0", opt)
		assert.ErrorIs(t, err, ErrInvalidOption, name)
	}

	cfg, err := BuildConfig("eth0", WithSnapLen(math.MaxInt32), WithServerPort(65535))
	require.NoError(t, err)
	assert.Equal(t, int32(math.MaxInt32), cfg.SnapLen)
	assert.Equal(t, uint16(65535), cfg.ServerPort)

	cfg, err = BuildConfig("eth0", WithServerPort(1))
	require.NoError(t, err)
	assert.Equal(t, uint16(1), cfg.ServerPort)
}

func TestClassify(t *testing.T) {
	src, payload, ok := Classify(tcpPacket(t, 40000, 8080, []byte("GET /")), 8080)
	require.True(t, ok)
	assert.Equal(t, record.Client, src)
	assert.Equal(t, []byte("GET /"), payload)

	src, payload, ok = Classify(tcpPacket(t, 8080, 40000, []byte("200 OK")), 8080)
	require.True(t, ok)
	assert.Equal(t, record.Server, src)
	assert.Equal(t, []byte("200 OK"), payload)

	_, _, ok = Classify(tcpPacket(t, 40000, 443, []byte("x")), 8080)
	assert.False(t, ok)

	_, _, ok = Classify(udpPacket(t), 8080)
	assert.False(t, ok)

	_, payload, ok = Classify(tcpPacket(t, 40000, 8080, nil), 8080)
	assert.True(t, ok)
	assert.Empty(t, payload)
}

func TestShutdownHandleFiresOnce(t *testing.T) {
	h := NewShutdownHandle()
	require.NoError(t, h.Signal())
	assert.ErrorIs(t, h.Signal(), ErrShutdownSignal)

	select {
	case <-h.C():
	default:
		t.Fatal("signal not delivered")
	}
	select {
	case <-h.C():
		t.Fatal("signal delivered twice")
	default:
	}
}

func TestShutdownHandleConcurrentSignal(t *testing.T) {
	h := NewShutdownHandle()
	var delivered atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.Signal() == nil {
				delivered.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), delivered.Load())
	assert.Len(t, h.C(), 1)
}

type fakeSource struct {
	packets chan gopacket.Packet
	closed  atomic.Bool
}

func (f *fakeSource) Packets() <-chan gopacket.Packet { return f.packets }
func (f *fakeSource) Close() { f.closed.Store(true) }

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%d", n.Add(1)) }
}

func TestEngineStreamsAndStops(t *testing.T) {
	src := &fakeSource{packets: make(chan gopacket.Packet, 8)}
	e := NewEngine(zap.NewNop().Sugar(),
		WithOpener(func(Config) (PacketSource, error) { return src, nil }),
		WithIDGenerator(sequentialIDs()))

	cfg, err := BuildConfig("eth0")
	require.NoError(t, err)
	p := pipeline.New()
	h, err := e.Start(cfg, p.Sender())
	require.NoError(t, err)

	src.packets <- tcpPacket(t, 40000, 8080, []byte{0x01, 0x02})
	src.packets <- tcpPacket(t, 40000, 8080, nil)
	src.packets <- tcpPacket(t, 40000, 22, []byte{0xff})
	src.packets <- tcpPacket(t, 8080, 40000, []byte{0x03})

	first, ok := p.Recv()
	require.True(t, ok)
	assert.Equal(t, "id-1", first.ID)
	assert.Equal(t, record.Client, first.Source)
	assert.Equal(t, []byte{0x01, 0x02}, first.Payload)

	second, ok := p.Recv()
	require.True(t, ok)
	assert.Equal(t, "id-2", second.ID)
	assert.Equal(t, record.Server, second.Source)

	require.NoError(t, h.Signal())
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}
	assert.True(t, src.closed.Load())
	assert.ErrorIs(t, h.Signal(), ErrShutdownSignal)

	_, ok = p.Recv()
	assert.False(t, ok, "pipeline should report end-of-stream after stop")

	stats := e.Stats()
	assert.Equal(t, uint64(4), stats.Captured)
	assert.Equal(t, uint64(2), stats.Forwarded)
	assert.Equal(t, uint64(2), stats.Skipped)
}

func TestEngineStopsWhenSourceExhausted(t *testing.T) {
	src := &fakeSource{packets: make(chan gopacket.Packet)}
	e := NewEngine(zap.NewNop().Sugar(), WithOpener(func(Config) (PacketSource, error) { return src, nil }))

	p := pipeline.New()
	h, err := e.Start(Config{DeviceName: "eth0", ServerPort: 8080}, p.Sender())
	require.NoError(t, err)
	close(src.packets)

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}
	_, ok := p.Recv()
	assert.False(t, ok)
}

func TestEngineStartError(t *testing.T) {
	busy := errors.New("device busy")
	e := NewEngine(zap.NewNop().Sugar(), WithOpener(func(Config) (PacketSource, error) { return nil, busy }))

	p := pipeline.New()
	sink := p.Sender()
	h, err := e.Start(Config{DeviceName: "eth0"}, sink)
	assert.Nil(t, h)
	assert.ErrorIs(t, err, ErrStart)
	assert.ErrorIs(t, err, busy)
	assert.NoError(t, sink.Send(&record.Record{}), "sink stays with the caller on start failure")

	_, err = e.Start(Config{}, sink)
	assert.ErrorIs(t, err, ErrStart)
}
