package core

import "errors"

// Media acquisition failures, classified by the capture adapter so the UI
// can show an actionable message.
var (
	ErrMediaPermissionDenied = errors.New("media: permission denied")
	ErrMediaDeviceNotFound   = errors.New("media: no capture device found")
	ErrMediaDeviceBusy       = errors.New("media: capture device busy")
	ErrMediaConstraints      = errors.New("media: constraints unsatisfiable")
	ErrMediaUnknown          = errors.New("media: capture failed")
)

var (
	// ErrNegotiationOutOfOrder marks an answer/candidate that arrived with no
	// connection object to apply it to. Non-fatal, the signal is dropped.
	ErrNegotiationOutOfOrder = errors.New("negotiation signal out of order")

	ErrTransportUnavailable = errors.New("signal transport unavailable")
	ErrCallInProgress       = errors.New("a call is already in progress")
	ErrNoIncomingCall       = errors.New("no incoming call to accept")
	ErrSelfCall             = errors.New("cannot call yourself")
	// ErrCallEnded is returned by in-flight operations whose session was torn
	// down underneath them.
	ErrCallEnded = errors.New("call ended")
)
