// Package common provides shared constants, types, and utilities
// used across the MasyaVPN client.
package common

// SessionStatus is the externally observable state of the tunnel session.
type SessionStatus int

const (
	StatusDisconnected SessionStatus = iota
	StatusConnecting
	StatusConnected
	StatusDisconnecting
)

// String returns the wire name of the status as reported to callers.
func (s SessionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Active reports whether a new connection attempt must be rejected.
func (s SessionStatus) Active() bool {
	return s == StatusConnecting || s == StatusConnected
}
