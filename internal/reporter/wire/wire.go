// Package wire encodes table snapshots as protobuf messages.
//
// The container layout is:
//
//	1 datatype  varint
//	2 timestamp google.protobuf.Timestamp
//	3 interface string
//	4 network   NetworkInfo
//	5 entries   repeated bytes, one encoded entry each
//
// NetworkInfo carries 1 name, 2 netmask, 3 interface ip, 4 gateway, all
// strings.
package wire

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// DataType tags the kind of entries in a container.
type DataType int32

const (
	Traffic DataType = iota
	Topology
	ICMP
	RTT
)

func (d DataType) String() string {
	switch d {
	case Traffic:
		return "traffic"
	case Topology:
		return "topology"
	case ICMP:
		return "icmp"
	case RTT:
		return "rtt"
	default:
		return fmt.Sprintf("datatype(%d)", int32(d))
	}
}

const (
	fieldDataType  protowire.Number = 1
	fieldTimestamp protowire.Number = 2
	fieldInterface protowire.Number = 3
	fieldNetwork   protowire.Number = 4
	fieldEntry     protowire.Number = 5
)

// NetworkInfo describes the monitored interface.
type NetworkInfo struct {
	Name        string
	Netmask     string
	InterfaceIP string
	Gateway     string
}

// Header is the per-container metadata.
type Header struct {
	Type      DataType
	Time      time.Time
	Interface string
	Network   NetworkInfo
}

// Container is a decoded container.
type Container struct {
	Header
	Entries [][]byte
}

// ErrEntryTooLarge reports an entry that cannot fit a container on its own.
var ErrEntryTooLarge = errors.New("wire: entry exceeds maximum message size")

func (h Header) append(b []byte) ([]byte, error) {
	ts, err := proto.Marshal(timestamppb.New(h.Time))
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, fieldDataType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.Type))
	b = protowire.AppendTag(b, fieldTimestamp, protowire.BytesType)
	b = protowire.AppendBytes(b, ts)
	b = appendString(b, fieldInterface, h.Interface)

	var ni []byte
	ni = appendString(ni, 1, h.Network.Name)
	ni = appendString(ni, 2, h.Network.Netmask)
	ni = appendString(ni, 3, h.Network.InterfaceIP)
	ni = appendString(ni, 4, h.Network.Gateway)
	b = protowire.AppendTag(b, fieldNetwork, protowire.BytesType)
	b = protowire.AppendBytes(b, ni)
	return b, nil
}

func entrySize(e []byte) int {
	return protowire.SizeTag(fieldEntry) + protowire.SizeBytes(len(e))
}

// Encode builds one container holding all entries.
func Encode(h Header, entries [][]byte) ([]byte, error) {
	b, err := h.append(nil)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		b = protowire.AppendTag(b, fieldEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	return b, nil
}

// Chunk packs entries into as few containers as possible, each at most max
// bytes. Entries that cannot fit alone are skipped; the returned error then
// wraps ErrEntryTooLarge and counts them. A call without entries yields one
// container carrying only the header.
func Chunk(h Header, entries [][]byte, max int) ([][]byte, error) {
	head, err := h.append(nil)
	if err != nil {
		return nil, err
	}
	if len(head) > max {
		return nil, fmt.Errorf("%w: header alone is %d bytes, limit %d", ErrEntryTooLarge, len(head), max)
	}

	var out [][]byte
	cur := append([]byte(nil), head...)
	n, skipped := 0, 0
	for _, e := range entries {
		sz := entrySize(e)
		if len(head)+sz > max {
			skipped++
			continue
		}
		if len(cur)+sz > max {
			out = append(out, cur)
			cur = append([]byte(nil), head...)
			n = 0
		}
		cur = protowire.AppendTag(cur, fieldEntry, protowire.BytesType)
		cur = protowire.AppendBytes(cur, e)
		n++
	}
	if n > 0 || len(out) == 0 {
		out = append(out, cur)
	}

	if skipped > 0 {
		return out, fmt.Errorf("%w: %d entries skipped", ErrEntryTooLarge, skipped)
	}
	return out, nil
}

// Decode parses a container. Unknown fields are ignored.
func Decode(b []byte) (Container, error) {
	var c Container
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return c, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldDataType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return c, protowire.ParseError(n)
			}
			c.Type = DataType(v)
			b = b[n:]
		case typ == protowire.BytesType && num >= fieldTimestamp && num <= fieldEntry:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return c, protowire.ParseError(n)
			}
			b = b[n:]
			if err := c.setBytes(num, v); err != nil {
				return c, err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return c, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return c, nil
}

func (c *Container) setBytes(num protowire.Number, v []byte) error {
	switch num {
	case fieldTimestamp:
		var ts timestamppb.Timestamp
		if err := proto.Unmarshal(v, &ts); err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		c.Time = ts.AsTime()
	case fieldInterface:
		c.Interface = string(v)
	case fieldNetwork:
		fs, err := Fields(v)
		if err != nil {
			return fmt.Errorf("network info: %w", err)
		}
		c.Network = NetworkInfo{
			Name:        fs.String(1),
			Netmask:     fs.String(2),
			InterfaceIP: fs.String(3),
			Gateway:     fs.String(4),
		}
	case fieldEntry:
		c.Entries = append(c.Entries, append([]byte(nil), v...))
	}
	return nil
}
