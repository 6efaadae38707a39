package model

// ServerState is the connectivity state of one configured batch server
// (spec.md §3 "Server connection table").
type ServerState int

const (
	Disconnected ServerState = iota
	Connecting
	Connected
)

func (s ServerState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}
