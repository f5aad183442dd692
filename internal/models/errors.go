package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrSessionClosed is returned when the device closes the session while a marker is awaited.
var ErrSessionClosed = errors.New("session closed by remote")

// ErrUnconfirmedSave marks a save whose acknowledgement was never observed.
var ErrUnconfirmedSave = errors.New("save not acknowledged by device")

// ConnectError means the transport could not establish a session.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ProtocolTimeout means an expected marker was not observed in time.
type ProtocolTimeout struct {
	Marker   string
	Timeout  time.Duration
	Captured string // output received before giving up
}

func (e *ProtocolTimeout) Error() string {
	return fmt.Sprintf("marker %q not seen within %s", e.Marker, e.Timeout)
}

// TransferError means the artifact could not be retrieved or was empty.
type TransferError struct {
	Strategy string
	Path     string
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s transfer of %s: %v", e.Strategy, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// NotifyError wraps a notification delivery failure. It is logged, never propagated.
type NotifyError struct {
	Err error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notification failed: %v", e.Err)
}

func (e *NotifyError) Unwrap() error { return e.Err }
