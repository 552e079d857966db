package decoder

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/netsensor/internal/core"
)

const (
	maxVLANTags = 2

	etherTypeQinQ layers.EthernetType = 0x88a8
)

// decodeEthernet decodes the Ethernet header including up to two VLAN tags (QinQ).
// Returns EthernetHeader and the L3 payload.
func decodeEthernet(data []byte) (core.EthernetHeader, []byte, error) {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return core.EthernetHeader{}, nil, core.ErrPacketTooShort
	}

	hdr := core.EthernetHeader{
		SrcMAC: cloneMAC(eth.SrcMAC),
		DstMAC: cloneMAC(eth.DstMAC),
	}
	etherType := eth.EthernetType
	payload := eth.Payload

	for i := 0; isVLAN(etherType); i++ {
		if i == maxVLANTags {
			return hdr, nil, core.ErrUnsupportedProto
		}
		var tag layers.Dot1Q
		if err := tag.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			return hdr, nil, core.ErrPacketTooShort
		}
		hdr.VLANs = append(hdr.VLANs, tag.VLANIdentifier)
		etherType = tag.Type
		payload = tag.Payload
	}

	hdr.EtherType = uint16(etherType)
	return hdr, payload, nil
}

func isVLAN(t layers.EthernetType) bool {
	return t == layers.EthernetTypeDot1Q || t == etherTypeQinQ
}

// gopacket slices MACs out of the frame; the frame buffer is reused by callers.
func cloneMAC(m net.HardwareAddr) net.HardwareAddr {
	out := make(net.HardwareAddr, len(m))
	copy(out, m)
	return out
}
