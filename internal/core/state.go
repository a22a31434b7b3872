package core

// CallState is the lifecycle of one call session.
// Ended is terminal; a new call gets a fresh session.
type CallState int32

const (
	StateIdle CallState = iota
	StateAwaitingLocalMedia
	StateNegotiating
	StateActive
	StateEnded
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingLocalMedia:
		return "awaiting_local_media"
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}
