// Package core defines sentinel errors.
package core

import "errors"

var (
	// Packet decoding errors
	ErrPacketTooShort   = errors.New("netsensor: packet too short")
	ErrNotIPv4          = errors.New("netsensor: not an IPv4 frame")
	ErrUnsupportedProto = errors.New("netsensor: unsupported protocol")

	// Interface initialization errors
	ErrInterfaceNotFound = errors.New("netsensor: interface not found")
	ErrAddressResolution = errors.New("netsensor: address resolution failed")
	ErrMACResolution     = errors.New("netsensor: MAC resolution failed")
	ErrNetmaskResolution = errors.New("netsensor: netmask resolution failed")
	ErrCaptureOpen       = errors.New("netsensor: capture source open failed")

	// Queue errors
	ErrQueueClosed = errors.New("netsensor: queue closed")

	// Configuration errors
	ErrConfigInvalid = errors.New("netsensor: invalid configuration")
)
