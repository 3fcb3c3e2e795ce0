package singleinstance

import (
	"fmt"
	"net"
	"strconv"
)

const (
	minPort = 1024
	maxPort = 65535
)

// PortRange is the inclusive loopback range shared by a resident and its
// clients. The resident binds Start only; clients scan Start through End.
type PortRange struct {
	Start int
	End   int
}

// Normalize clamps the range to unprivileged ports and orders its ends.
func (r PortRange) Normalize() PortRange {
	if r.Start < minPort {
		r.Start = minPort
	}
	if r.End > maxPort {
		r.End = maxPort
	}
	if r.End < r.Start {
		r.Start, r.End = r.End, r.Start
	}
	return r
}

func (r PortRange) String() string { return fmt.Sprintf("%d-%d", r.Start, r.End) }

func residentAddr(port int) string { return net.JoinHostPort(residentHost, strconv.Itoa(port)) }
