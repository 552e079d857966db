package handler

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netsensor/internal/core"
	"firestige.xyz/netsensor/internal/core/decoder"
	"firestige.xyz/netsensor/internal/netset"
	"firestige.xyz/netsensor/internal/queue"
	"firestige.xyz/netsensor/internal/registry"
	"firestige.xyz/netsensor/internal/table/icmp"
	"firestige.xyz/netsensor/internal/table/tcprtt"
	"firestige.xyz/netsensor/internal/table/topology"
	"firestige.xyz/netsensor/internal/table/traffic"
	"firestige.xyz/netsensor/internal/testutil"
)

var (
	base   = time.Unix(1700000000, 0)
	ethMAC = testutil.MustMAC("02:00:00:00:00:05")
	macX   = testutil.MustMAC("02:00:00:00:00:09")
	macY   = testutil.MustMAC("02:00:00:00:00:01")
)

func addr(s string) netip.Addr { return netip.MustParseAddr(s) }

func eth0() core.InterfaceDescriptor {
	return core.InterfaceDescriptor{
		Name:    "eth0",
		IP:      addr("10.0.0.5"),
		Netmask: addr("255.255.255.0"),
		MAC:     ethMAC,
		Mode:    core.ModeNetmask,
	}
}

type fixture struct {
	reg      *registry.Registry
	topology *topology.Table
	traffic  *traffic.Table
	icmp     *icmp.Table
	rtt      *tcprtt.Table
	h        *Handler
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		reg:      registry.New(),
		topology: topology.NewTable(topology.Options{}),
		traffic:  traffic.New(traffic.Options{}),
		icmp:     icmp.New(icmp.Options{}),
		rtt:      tcprtt.New(tcprtt.Options{}),
	}
	f.reg.Put(eth0())

	opts := Options{
		Registry:       f.reg,
		Tracker:        topology.NewTracker(f.topology, topology.NewCache(5*time.Second), true),
		Traffic:        f.traffic,
		ICMP:           f.icmp,
		RTT:            f.rtt,
		CountMulticast: true,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.h = New(opts)
	return f
}

func (f *fixture) handle(data []byte, ts time.Time) {
	f.h.Handle(core.NewCapturedPacket("eth0", data, 0, ts))
}

func inbound(src, dst string, mac net.HardwareAddr) testutil.Frame {
	return testutil.Frame{SrcMAC: mac, DstMAC: ethMAC, SrcIP: src, DstIP: dst}
}

func outbound(dst string) testutil.Frame {
	return testutil.Frame{SrcMAC: ethMAC, DstMAC: macY, SrcIP: "10.0.0.5", DstIP: dst}
}

func ips(entries []topology.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.IP.String())
	}
	return out
}

func TestScenarioNetmaskReclassification(t *testing.T) {
	f := newFixture(t, nil)

	f.handle(testutil.UDP(inbound("10.0.0.9", "10.0.0.5", macX), 5000, 53, []byte("q")), base)
	internal := f.topology.SnapshotInternal("eth0", base)
	require.Len(t, internal, 1)
	assert.Equal(t, addr("10.0.0.9"), internal[0].IP)
	assert.Equal(t, macX, internal[0].MAC)

	f.handle(testutil.UDP(inbound("8.8.8.8", "10.0.0.5", macY), 53, 5000, []byte("a")), base.Add(time.Second))
	external := f.topology.SnapshotExternal("eth0", base)
	require.Len(t, external, 1)
	assert.Equal(t, addr("8.8.8.8"), external[0].IP)
	assert.Equal(t, macY, external[0].MAC)

	// Widen the netmask so 8.8.8.8 now passes the internal test.
	wide := eth0()
	wide.Netmask = addr("240.0.0.0")
	f.reg.Put(wide)

	f.handle(testutil.UDP(inbound("8.8.8.8", "10.0.0.5", macY), 53, 5000, []byte("a")), base.Add(2*time.Second))
	assert.Empty(t, f.topology.SnapshotExternal("eth0", base))
	assert.Equal(t, []string{"8.8.8.8", "10.0.0.9"}, ips(f.topology.SnapshotInternal("eth0", base)))
}

func TestNetProxyForwardedFramesSkipTopology(t *testing.T) {
	f := newFixture(t, nil)
	proxyMAC := testutil.MustMAC("02:00:00:00:00:aa")
	d := eth0()
	d.Mode = core.ModeNetProxy
	d.ProxyExternalMAC = proxyMAC
	f.reg.Put(d)

	f.handle(testutil.UDP(inbound("8.8.8.8", "10.0.0.5", proxyMAC), 53, 5000, nil), base)
	assert.Zero(t, f.topology.Len())
	assert.Len(t, f.traffic.Snapshot("eth0", base), 1, "traffic is still accounted")

	f.handle(testutil.UDP(inbound("8.8.8.8", "10.0.0.5", macY), 53, 5000, nil), base)
	assert.Len(t, f.topology.SnapshotExternal("eth0", base), 1)
}

func TestTrafficClassification(t *testing.T) {
	f := newFixture(t, nil)

	f.handle(testutil.UDP(outbound("8.8.8.8"), 5000, 53, make([]byte, 20)), base)
	f.handle(testutil.UDP(inbound("8.8.8.8", "10.0.0.5", macY), 53, 5000, make([]byte, 40)), base)
	f.handle(testutil.UDP(testutil.Frame{SrcMAC: macX, DstMAC: macY, SrcIP: "10.0.0.9", DstIP: "1.1.1.1"}, 1, 2, nil), base)

	classes := map[string]core.Classification{}
	for _, st := range f.traffic.Snapshot("eth0", base) {
		classes[st.Key.SrcIP.String()] = st.Class
	}
	assert.Equal(t, map[string]core.Classification{
		"10.0.0.5": core.SNT,
		"8.8.8.8":  core.RCV,
		"10.0.0.9": core.OBS,
	}, classes)

	st, ok := f.traffic.Lookup("eth0", traffic.Key{
		SrcIP: addr("10.0.0.5"), DstIP: addr("8.8.8.8"), SrcPort: 5000, DstPort: 53, Protocol: "UDP",
	}, base)
	require.True(t, ok)
	assert.Equal(t, uint64(14+20+8+20), st.TotalBytes)
}

func TestMulticastAccounting(t *testing.T) {
	frame := testutil.UDP(testutil.Frame{SrcMAC: macX, DstMAC: testutil.MustMAC("01:00:5e:01:01:01"), SrcIP: "10.0.0.9", DstIP: "239.1.1.1"}, 1, 2, nil)

	f := newFixture(t, nil)
	f.handle(frame, base)
	snap := f.traffic.Snapshot("eth0", base)
	require.Len(t, snap, 1)
	assert.Equal(t, core.RCV, snap[0].Class)

	f = newFixture(t, func(o *Options) { o.CountMulticast = false })
	f.handle(frame, base)
	assert.Empty(t, f.traffic.Snapshot("eth0", base))
	assert.Equal(t, 1, f.topology.Len(), "topology still sees the sender")
}

func TestDrops(t *testing.T) {
	f := newFixture(t, nil)

	f.handle(testutil.ARP(inbound("10.0.0.9", "10.0.0.5", macX)), base)
	assert.Equal(t, uint64(1), f.h.Stats().NonIPv4)

	full := testutil.UDP(inbound("10.0.0.9", "10.0.0.5", macX), 1, 2, nil)
	f.handle(full[:14+10], base)
	assert.Equal(t, uint64(1), f.h.Stats().Malformed)

	f.handle(testutil.Raw(inbound("10.0.0.9", "10.0.0.5", macX), 47, []byte{0, 0, 0x08, 0}), base)
	assert.Equal(t, uint64(1), f.h.Stats().Unsupported)
	assert.Equal(t, 1, f.topology.Len(), "unsupported protocols still update topology")

	f.h.Handle(core.NewCapturedPacket("eth9", full, 0, base))
	assert.Equal(t, uint64(1), f.h.Stats().Unknown)

	assert.Empty(t, f.traffic.Snapshot("eth0", base))
	assert.Zero(t, f.h.Stats().Handled)
	assert.Equal(t, uint64(4), f.h.Stats().Received)
}

func TestICMPDispatch(t *testing.T) {
	f := newFixture(t, nil)
	f.handle(testutil.ICMP(inbound("8.8.8.8", "10.0.0.5", macY), decoder.ICMPEchoReply, 0, 1, 1, nil), base)
	assert.Equal(t, 1, f.icmp.Len())

	f = newFixture(t, func(o *Options) { o.ICMP = nil })
	f.handle(testutil.ICMP(inbound("8.8.8.8", "10.0.0.5", macY), decoder.ICMPEchoReply, 0, 1, 1, nil), base)
	assert.Equal(t, uint64(1), f.h.Stats().Handled)
	assert.Len(t, f.traffic.Snapshot("eth0", base), 1)
}

func TestInlineRTT(t *testing.T) {
	f := newFixture(t, nil)

	f.handle(testutil.TCP(outbound("203.0.113.9"), 40000, 443, 1000, 1, core.TCPFlagPSH|core.TCPFlagACK, make([]byte, 100)), base)
	f.handle(testutil.TCP(inbound("203.0.113.9", "10.0.0.5", macY), 443, 40000, 1, 1100, core.TCPFlagACK, nil), base.Add(15*time.Millisecond))

	snap := f.rtt.Snapshot("eth0", base.Add(time.Second))
	require.Len(t, snap, 1)
	assert.Equal(t, uint64(1), snap[0].Samples)
	assert.Equal(t, 15*time.Millisecond, snap[0].Last)
	assert.Equal(t, core.RCV, snap[0].Class)
}

func TestPanickingStepDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Traffic = nil })

	f.handle(testutil.ICMP(inbound("8.8.8.8", "10.0.0.5", macY), decoder.ICMPEchoReply, 0, 1, 1, nil), base)
	assert.Equal(t, uint64(1), f.h.Stats().Panics)
	assert.Equal(t, 1, f.icmp.Len())
	assert.Equal(t, 1, f.topology.Len())
}

func TestPoolDrainsClosedQueue(t *testing.T) {
	f := newFixture(t, nil)
	q := queue.New(queue.Options{Capacity: 64})
	for i := 0; i < 50; i++ {
		data := testutil.UDP(inbound("10.0.0.9", "10.0.0.5", macX), uint16(1000+i), 53, nil)
		require.True(t, q.TryEnqueue(core.NewCapturedPacket("eth0", data, 0, base)))
	}
	q.Close()

	done := make(chan struct{})
	go func() {
		NewPool(f.h, q, 4, 10*time.Millisecond, nil).Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after the queue drained")
	}

	assert.Equal(t, uint64(50), f.h.Stats().Handled)
	assert.Len(t, f.traffic.Snapshot("eth0", base), 50)
}

func TestPoolStopsOnCancel(t *testing.T) {
	f := newFixture(t, nil)
	q := queue.New(queue.Options{Capacity: 4})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		NewPool(f.h, q, 2, 10*time.Millisecond, nil).Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool ignored cancellation")
	}
}

func TestRTTWorker(t *testing.T) {
	reg := registry.New()
	reg.Put(eth0())
	tbl := tcprtt.New(tcprtt.Options{})
	q := queue.New(queue.Options{Name: "rtt", Capacity: 8})

	frames := [][]byte{
		testutil.UDP(outbound("8.8.8.8"), 1, 2, nil),
		testutil.TCP(outbound("203.0.113.9"), 40000, 443, 1000, 1, core.TCPFlagPSH|core.TCPFlagACK, make([]byte, 10)),
		testutil.TCP(inbound("203.0.113.9", "10.0.0.5", macY), 443, 40000, 1, 1010, core.TCPFlagACK, nil),
	}
	for i, data := range frames {
		require.True(t, q.TryEnqueue(core.NewCapturedPacket("eth0", data, 0, base.Add(time.Duration(i)*time.Millisecond))))
	}
	q.Close()

	NewRTTWorker(reg, q, tbl, netset.MustNew(netset.DefaultMulticast), 10*time.Millisecond, nil).Run(context.Background())

	snap := tbl.Snapshot("eth0", base)
	require.Len(t, snap, 1)
	assert.Equal(t, uint64(1), snap[0].Samples)
	assert.Equal(t, time.Millisecond, snap[0].Last)
}
