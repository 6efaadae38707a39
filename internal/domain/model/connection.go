// Package model holds the plain data types shared across the connection
// registry, event loop, multi-server client and supervisor. None of these
// types carry behavior beyond simple accessors; the packages that consume
// them own the logic.
package model

// ConnKind classifies a connection record the way spec.md §3 does.
type ConnKind int

const (
	KindPrimaryListener ConnKind = iota + 1
	KindSecondaryListener
	KindInboundClient
	KindChildPipe
	KindTransportPeer
)

func (k ConnKind) String() string {
	switch k {
	case KindPrimaryListener:
		return "primary-listener"
	case KindSecondaryListener:
		return "secondary-listener"
	case KindInboundClient:
		return "inbound-client"
	case KindChildPipe:
		return "child-pipe"
	case KindTransportPeer:
		return "transport-peer"
	default:
		return "unknown"
	}
}

// AuthFlags mirrors spec.md §3's authentication flags. authenticated never
// regresses once set; the zero value is "unauthenticated".
type AuthFlags struct {
	Authenticated      bool
	FromPrivilegedPort bool
	NoTimeout          bool
}
