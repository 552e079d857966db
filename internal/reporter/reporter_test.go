package reporter

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netsensor/internal/core"
	"firestige.xyz/netsensor/internal/registry"
	"firestige.xyz/netsensor/internal/reporter/wire"
	"firestige.xyz/netsensor/internal/table/topology"
	"firestige.xyz/netsensor/internal/table/traffic"
)

var now = time.Unix(1700000000, 0)

type recorder struct {
	mu   sync.Mutex
	err  error
	msgs [][]byte
}

func (r *recorder) Name() string { return "rec" }

func (r *recorder) Send(b []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, append([]byte(nil), b...))
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func setup(t *testing.T, flows int) (*registry.Registry, *traffic.Table, *topology.Table) {
	t.Helper()
	reg := registry.New()
	reg.Put(core.InterfaceDescriptor{
		Name:    "eth0",
		IP:      netip.MustParseAddr("10.0.0.5"),
		Netmask: netip.MustParseAddr("255.255.255.0"),
		Gateway: netip.MustParseAddr("10.0.0.1"),
	})

	tt := traffic.New(traffic.Options{Window: time.Second, Validity: time.Minute})
	for i := 0; i < flows; i++ {
		tt.Put("eth0", traffic.Observation{
			Key: traffic.Key{
				SrcIP:    netip.MustParseAddr("10.0.0.5"),
				DstIP:    netip.MustParseAddr("8.8.8.8"),
				SrcPort:  uint16(1024 + i),
				DstPort:  53,
				Protocol: "UDP",
			},
			Size:  62,
			Time:  now,
			Class: core.SNT,
		})
	}

	topo := topology.NewTable(topology.Options{InternalValidity: time.Minute, ExternalValidity: time.Minute})
	mac, _ := net.ParseMAC("00:11:22:33:44:55")
	topo.PutInternal("eth0", netip.MustParseAddr("10.0.0.7"), mac, now)
	topo.PutExternal("eth0", netip.MustParseAddr("8.8.8.8"), mac, now)
	return reg, tt, topo
}

func TestReportTraffic(t *testing.T) {
	reg, tt, _ := setup(t, 3)
	rec := &recorder{}
	r := New(Options{
		Registry:  reg,
		Traffic:   tt,
		Transport: rec,
		MTU:       1500,
		Now:       func() time.Time { return now },
	})

	require.NoError(t, r.Report(wire.Traffic))
	require.Equal(t, 1, rec.count())

	c, err := wire.Decode(rec.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, wire.Traffic, c.Type)
	assert.Equal(t, "eth0", c.Interface)
	assert.Equal(t, "10.0.0.5", c.Network.InterfaceIP)
	assert.Equal(t, "255.255.255.0", c.Network.Netmask)
	assert.Equal(t, "10.0.0.1", c.Network.Gateway)
	assert.True(t, c.Time.Equal(now))
	require.Len(t, c.Entries, 3)

	fs, err := wire.Fields(c.Entries[0])
	require.NoError(t, err)
	assert.EqualValues(t, 1024, fs.Uint(wire.TrafficSrcPort))
	assert.EqualValues(t, 62, fs.Uint(wire.TrafficTotalBytes))
}

func TestReportChunksToMTU(t *testing.T) {
	reg, tt, _ := setup(t, 40)
	rec := &recorder{}
	r := New(Options{
		Registry:  reg,
		Traffic:   tt,
		Transport: rec,
		MTU:       400,
		Now:       func() time.Time { return now },
	})

	require.NoError(t, r.Report(wire.Traffic))
	require.Greater(t, rec.count(), 1)

	total := 0
	for _, m := range rec.msgs {
		assert.LessOrEqual(t, len(m), 400-Headroom)
		c, err := wire.Decode(m)
		require.NoError(t, err)
		total += len(c.Entries)
	}
	assert.Equal(t, 40, total)
}

func TestReportTopology(t *testing.T) {
	reg, _, topo := setup(t, 0)
	rec := &recorder{}
	r := New(Options{
		Registry:  reg,
		Topology:  topo,
		Transport: rec,
		MTU:       1500,
		Now:       func() time.Time { return now },
	})

	require.NoError(t, r.Report(wire.Topology))
	require.Equal(t, 1, rec.count())
	c, err := wire.Decode(rec.msgs[0])
	require.NoError(t, err)
	require.Len(t, c.Entries, 2)

	internal, err := wire.Fields(c.Entries[0])
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", internal.String(wire.TopologyIP))
	assert.EqualValues(t, 1, internal.Uint(wire.TopologyInternal))

	external, err := wire.Fields(c.Entries[1])
	require.NoError(t, err)
	assert.Equal(t, "8.8.8.8", external.String(wire.TopologyIP))
	assert.Zero(t, external.Uint(wire.TopologyInternal))
}

func TestReportEmptyTableSendsHeader(t *testing.T) {
	reg, tt, _ := setup(t, 0)
	rec := &recorder{}
	r := New(Options{Registry: reg, Traffic: tt, Transport: rec, MTU: 1500})

	require.NoError(t, r.Report(wire.Traffic))
	require.Equal(t, 1, rec.count())
	c, err := wire.Decode(rec.msgs[0])
	require.NoError(t, err)
	assert.Empty(t, c.Entries)
}

func TestReportDisabledTable(t *testing.T) {
	reg, _, _ := setup(t, 0)
	rec := &recorder{}
	r := New(Options{Registry: reg, Transport: rec, MTU: 1500})

	require.NoError(t, r.Report(wire.ICMP))
	require.NoError(t, r.Report(wire.RTT))
	assert.Zero(t, rec.count())
}

func TestReportSendError(t *testing.T) {
	reg, tt, _ := setup(t, 1)
	rec := &recorder{err: errors.New("unreachable")}
	r := New(Options{Registry: reg, Traffic: tt, Transport: rec, MTU: 1500})

	err := r.Report(wire.Traffic)
	assert.ErrorContains(t, err, "unreachable")
}

func TestRunTicks(t *testing.T) {
	reg, tt, _ := setup(t, 1)
	rec := &recorder{}
	r := New(Options{
		Registry:  reg,
		Traffic:   tt,
		Transport: rec,
		MTU:       1500,
		Periods:   Periods{Traffic: 10 * time.Millisecond, Topology: 10 * time.Millisecond},
		Now:       func() time.Time { return now },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return rec.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reporter did not stop")
	}

	for _, m := range rec.msgs {
		c, err := wire.Decode(m)
		require.NoError(t, err)
		assert.Equal(t, wire.Traffic, c.Type)
	}
}
