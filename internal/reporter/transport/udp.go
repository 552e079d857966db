package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// UDP sends every container to each recipient.
type UDP struct {
	conns []*net.UDPConn
}

// NewUDP dials recipient:port for every recipient. Recipients that already
// carry a port keep it.
func NewUDP(recipients []string, port int) (*UDP, error) {
	if len(recipients) == 0 {
		return nil, errors.New("udp transport: at least one recipient is required")
	}
	u := &UDP{conns: make([]*net.UDPConn, 0, len(recipients))}
	for _, r := range recipients {
		target := r
		if _, _, err := net.SplitHostPort(r); err != nil {
			target = net.JoinHostPort(r, strconv.Itoa(port))
		}
		addr, err := net.ResolveUDPAddr("udp", target)
		if err != nil {
			u.Close()
			return nil, fmt.Errorf("udp transport: resolve %q: %w", target, err)
		}
		conn, err := net.DialUDP("udp", nil, addr)
		if err != nil {
			u.Close()
			return nil, fmt.Errorf("udp transport: dial %q: %w", target, err)
		}
		u.conns = append(u.conns, conn)
	}
	return u, nil
}

func (u *UDP) Name() string { return "udp" }

// Send writes b to every recipient and joins the failures.
func (u *UDP) Send(b []byte) error {
	var errs []error
	for _, c := range u.conns {
		if _, err := c.Write(b); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", c.RemoteAddr(), err))
		}
	}
	if len(errs) > 0 {
		return &Error{Transport: u.Name(), Err: errors.Join(errs...)}
	}
	return nil
}

func (u *UDP) Close() error {
	for _, c := range u.conns {
		if c != nil {
			_ = c.Close()
		}
	}
	u.conns = nil
	return nil
}
