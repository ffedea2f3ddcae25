package models

import "time"

// SessionState represents the lifecycle state of a capture session.
type SessionState string

const (
	// StateCold means no browser handle exists.
	StateCold SessionState = "COLD"
	// StateLaunching is transient while a handle is acquired.
	StateLaunching SessionState = "LAUNCHING"
	// StateReady means a connected handle exists and no capture is in flight.
	StateReady SessionState = "READY"
	// StateCapturing means one capture is executing against the handle.
	StateCapturing SessionState = "CAPTURING"
	// StateClosing is transient while the handle is torn down.
	StateClosing SessionState = "CLOSING"
)

// SessionInfo is an observability snapshot of one capture session.
type SessionInfo struct {
	UserID     string        `json:"userId"`
	State      SessionState  `json:"state"`
	Idle       time.Duration `json:"-"`
	IdleSecs   float64       `json:"idleSeconds"`
	ConnectURL string        `json:"-"`
}
