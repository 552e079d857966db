package monitor

import (
	"errors"

	"firestige.xyz/netsensor/internal/core"
)

// InitStatus is the outcome of Monitor.Init. Failures are negative, one code
// per failing step.
type InitStatus int

const (
	StatusOK                InitStatus = 0
	StatusInterfaceNotFound InitStatus = -1
	StatusAddressResolution InitStatus = -2
	StatusMACResolution     InitStatus = -3
	StatusNetmaskResolution InitStatus = -4
	StatusCaptureOpen       InitStatus = -5
)

func (s InitStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInterfaceNotFound:
		return "interface not found"
	case StatusAddressResolution:
		return "address resolution failed"
	case StatusMACResolution:
		return "mac resolution failed"
	case StatusNetmaskResolution:
		return "netmask resolution failed"
	default:
		return "capture open failed"
	}
}

// StatusOf maps an init error to its status code.
func StatusOf(err error) InitStatus {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, core.ErrInterfaceNotFound):
		return StatusInterfaceNotFound
	case errors.Is(err, core.ErrAddressResolution):
		return StatusAddressResolution
	case errors.Is(err, core.ErrMACResolution):
		return StatusMACResolution
	case errors.Is(err, core.ErrNetmaskResolution):
		return StatusNetmaskResolution
	default:
		return StatusCaptureOpen
	}
}
