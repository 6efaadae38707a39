package fanout

import (
	"fmt"
	"net"
	"time"

	"github.com/pbspro/sched-ctl/config"
)

// NewEndpointsFromConfig builds one Endpoint per configured batch
// server address, in array-index order (spec.md §3 "Server connection
// table" is populated at startup from static configuration; nothing in
// spec.md requires dynamic endpoint discovery).
func NewEndpointsFromConfig(cfg *config.Config) []*Endpoint {
	endpoints := make([]*Endpoint, 0, len(cfg.ServerEndpoints))
	for i, addr := range cfg.ServerEndpoints {
		addr := addr
		endpoints = append(endpoints, NewEndpoint(i, addr, tcpDialer(addr)))
	}
	return endpoints
}

// tcpDialer returns a DialFunc that dials addr with a bounded timeout,
// the Go analogue of the original's blocking connect() with an alarm.
func tcpDialer(addr string) DialFunc {
	return func(index int) (net.Conn, error) {
		conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err != nil {
			return nil, fmt.Errorf("fanout: dial endpoint %d (%s): %w", index, addr, err)
		}
		return conn, nil
	}
}
