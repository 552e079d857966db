package api

import (
	"encoding/json"
	"net/http"
	"net/netip"
	"time"

	"github.com/gorilla/mux"

	"firestige.xyz/netsensor/internal/table/icmp"
	"firestige.xyz/netsensor/internal/table/tcprtt"
	"firestige.xyz/netsensor/internal/table/topology"
	"firestige.xyz/netsensor/internal/table/traffic"
)

type interfaceView struct {
	Name     string `json:"name"`
	IP       string `json:"ip,omitempty"`
	Netmask  string `json:"netmask,omitempty"`
	MAC      string `json:"mac,omitempty"`
	Gateway  string `json:"gateway,omitempty"`
	Internal bool   `json:"internal"`
	Mode     string `json:"mode"`
}

type healthView struct {
	Status     string            `json:"status"`
	Interfaces []interfaceView   `json:"interfaces"`
	Monitors   map[string]string `json:"monitors,omitempty"`
}

type trafficView struct {
	SrcIP         string  `json:"src_ip"`
	DstIP         string  `json:"dst_ip"`
	SrcPort       uint16  `json:"src_port"`
	DstPort       uint16  `json:"dst_port"`
	Protocol      string  `json:"protocol"`
	Class         string  `json:"class"`
	BytesPerSec   float64 `json:"bytes_per_sec"`
	PacketsPerSec float64 `json:"packets_per_sec"`
	TotalBytes    uint64  `json:"total_bytes"`
	TotalPackets  uint64  `json:"total_packets"`
	LastSeen      string  `json:"last_seen"`
}

type hostView struct {
	IP        string `json:"ip"`
	MAC       string `json:"mac,omitempty"`
	FirstSeen string `json:"first_seen"`
	LastSeen  string `json:"last_seen"`
}

type icmpView struct {
	SrcIP         string            `json:"src_ip"`
	DstIP         string            `json:"dst_ip"`
	Type          uint8             `json:"type"`
	Code          uint8             `json:"code"`
	PacketsPerSec float64           `json:"packets_per_sec"`
	Total         uint64            `json:"total"`
	Extra         map[string]uint32 `json:"extra,omitempty"`
	LastSeen      string            `json:"last_seen"`
}

type rttView struct {
	Local      string  `json:"local"`
	Remote     string  `json:"remote"`
	Class      string  `json:"class"`
	MinMs      float64 `json:"min_ms"`
	MaxMs      float64 `json:"max_ms"`
	LastMs     float64 `json:"last_ms"`
	MeanMs     float64 `json:"mean_ms"`
	WindowMs   float64 `json:"window_mean_ms"`
	Samples    uint64  `json:"samples"`
	Pending    int     `json:"pending"`
	Fin        string  `json:"fin"`
	Closed     string  `json:"closed"`
	LastSeenAt string  `json:"last_seen"`
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

// iface resolves the {iface} route variable against the registry.
func (s *Server) iface(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := mux.Vars(r)["iface"]
	if _, ok := s.opts.Registry.Get(name); !ok {
		http.Error(w, "unknown interface "+name, http.StatusNotFound)
		return "", false
	}
	return name, true
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	h := healthView{Status: "ok", Interfaces: []interfaceView{}}
	for _, name := range s.opts.Registry.Names() {
		d, ok := s.opts.Registry.Get(name)
		if !ok {
			continue
		}
		v := interfaceView{Name: d.Name, Internal: d.Internal, Mode: d.Mode.String()}
		if d.IP.IsValid() {
			v.IP = d.IP.String()
		}
		if d.Netmask.IsValid() {
			v.Netmask = d.Netmask.String()
		}
		if len(d.MAC) > 0 {
			v.MAC = d.MAC.String()
		}
		if d.Gateway.IsValid() {
			v.Gateway = d.Gateway.String()
		}
		h.Interfaces = append(h.Interfaces, v)
	}
	if s.opts.Monitors != nil {
		h.Monitors = s.opts.Monitors()
	}
	if len(h.Interfaces) == 0 {
		h.Status = "degraded"
	}
	writeJSON(w, h)
}

func (s *Server) traffic(w http.ResponseWriter, r *http.Request) {
	if s.opts.Traffic == nil {
		http.NotFound(w, r)
		return
	}
	name, ok := s.iface(w, r)
	if !ok {
		return
	}
	stats := s.opts.Traffic.Snapshot(name, s.opts.Now())
	out := make([]trafficView, 0, len(stats))
	for _, st := range stats {
		out = append(out, trafficFrom(st))
	}
	writeJSON(w, out)
}

func trafficFrom(st traffic.Stat) trafficView {
	return trafficView{
		SrcIP:         st.Key.SrcIP.String(),
		DstIP:         st.Key.DstIP.String(),
		SrcPort:       st.Key.SrcPort,
		DstPort:       st.Key.DstPort,
		Protocol:      st.Key.Protocol,
		Class:         st.Class.String(),
		BytesPerSec:   st.BytesPerSec,
		PacketsPerSec: st.PacketsPerSec,
		TotalBytes:    st.TotalBytes,
		TotalPackets:  st.TotalPackets,
		LastSeen:      stamp(st.LastSeen),
	}
}

func (s *Server) topology(internal bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Topology == nil {
			http.NotFound(w, r)
			return
		}
		name, ok := s.iface(w, r)
		if !ok {
			return
		}
		var entries []topology.Entry
		if internal {
			entries = s.opts.Topology.SnapshotInternal(name, s.opts.Now())
		} else {
			entries = s.opts.Topology.SnapshotExternal(name, s.opts.Now())
		}
		out := make([]hostView, 0, len(entries))
		for _, e := range entries {
			v := hostView{IP: e.IP.String(), FirstSeen: stamp(e.FirstSeen), LastSeen: stamp(e.LastSeen)}
			if len(e.MAC) > 0 {
				v.MAC = e.MAC.String()
			}
			out = append(out, v)
		}
		writeJSON(w, out)
	}
}

func (s *Server) icmp(w http.ResponseWriter, r *http.Request) {
	if s.opts.ICMP == nil {
		http.NotFound(w, r)
		return
	}
	name, ok := s.iface(w, r)
	if !ok {
		return
	}
	stats := s.opts.ICMP.Snapshot(name, s.opts.Now())
	out := make([]icmpView, 0, len(stats))
	for _, st := range stats {
		out = append(out, icmpFrom(st))
	}
	writeJSON(w, out)
}

func icmpFrom(st icmp.Stat) icmpView {
	v := icmpView{
		SrcIP:         st.Key.SrcIP.String(),
		DstIP:         st.Key.DstIP.String(),
		Type:          st.Key.Type,
		Code:          st.Key.Code,
		PacketsPerSec: st.PacketsPerSec,
		Total:         st.Total,
		LastSeen:      stamp(st.LastSeen),
	}
	if len(st.Extra) > 0 {
		v.Extra = make(map[string]uint32, len(st.Extra))
		for a, n := range st.Extra {
			v.Extra[a.String()] = n
		}
	}
	return v
}

func (s *Server) rtt(w http.ResponseWriter, r *http.Request) {
	if s.opts.RTT == nil {
		http.NotFound(w, r)
		return
	}
	name, ok := s.iface(w, r)
	if !ok {
		return
	}
	stats := s.opts.RTT.Snapshot(name, s.opts.Now())
	out := make([]rttView, 0, len(stats))
	for _, st := range stats {
		out = append(out, rttFrom(st))
	}
	writeJSON(w, out)
}

func endpoint(ip netip.Addr, port uint16) string {
	return netip.AddrPortFrom(ip, port).String()
}

func rttFrom(st tcprtt.Stat) rttView {
	return rttView{
		Local:      endpoint(st.Key.LocalIP, st.Key.LocalPort),
		Remote:     endpoint(st.Key.RemoteIP, st.Key.RemotePort),
		Class:      st.Class.String(),
		MinMs:      ms(st.Min),
		MaxMs:      ms(st.Max),
		LastMs:     ms(st.Last),
		MeanMs:     ms(st.Mean),
		WindowMs:   ms(st.WindowMean),
		Samples:    st.Samples,
		Pending:    st.Pending,
		Fin:        st.Fin.String(),
		Closed:     st.Closed.String(),
		LastSeenAt: stamp(st.LastSeen),
	}
}
