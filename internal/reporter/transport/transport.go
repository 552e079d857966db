// Package transport delivers encoded snapshot containers to collectors.
package transport

import (
	"errors"
	"fmt"
)

// Transport sends one encoded container.
type Transport interface {
	Name() string
	Send(b []byte) error
	Close() error
}

// Error is a send failure tagged with the transport that produced it.
type Error struct {
	Transport string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Transport, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Failed lists the transports named by the *Error values inside err.
func Failed(err error) []string {
	if err == nil {
		return nil
	}
	var names []string
	var walk func(error)
	walk = func(err error) {
		if te, ok := err.(*Error); ok {
			names = append(names, te.Transport)
			return
		}
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, e := range u.Unwrap() {
				walk(e)
			}
		case interface{ Unwrap() error }:
			if e := u.Unwrap(); e != nil {
				walk(e)
			}
		}
	}
	walk(err)
	return names
}

// Multi fans a container out to every transport. A failing transport does
// not stop delivery to the others.
type Multi []Transport

func (m Multi) Name() string { return "multi" }

func (m Multi) Send(b []byte) error {
	var errs []error
	for _, t := range m {
		if err := t.Send(b); err != nil {
			var te *Error
			if !errors.As(err, &te) {
				err = &Error{Transport: t.Name(), Err: err}
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, t := range m {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}
