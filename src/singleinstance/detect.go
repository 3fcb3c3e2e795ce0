package singleinstance

import (
	"bufio"
	"context"
	"net"
	"time"
)

const defaultPingTimeout = 300 * time.Millisecond

// DetectResidentPort returns the first port in r whose listener answers PING
// with PONG. It gives up early when ctx is done.
func DetectResidentPort(ctx context.Context, r PortRange) (int, bool) {
	timeout := timeoutFor(ctx, defaultPingTimeout)
	r = r.Normalize()
	for port := r.Start; port <= r.End; port++ {
		if ctx.Err() != nil {
			return 0, false
		}
		if ping(residentAddr(port), timeout) {
			return port, true
		}
	}
	return 0, false
}

// timeoutFor returns the time left on ctx, or def when ctx has no deadline.
func timeoutFor(ctx context.Context, def time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			return d
		}
	}
	return def
}

// ping reports whether addr speaks the resident handshake. Anything other
// than an exact PONG line, including a slow answer, counts as no resident.
func ping(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return false
	}
	if _, err := conn.Write([]byte(pingRequest)); err != nil {
		return false
	}
	resp, err := bufio.NewReader(conn).ReadString('\n')
	return err == nil && resp == pongResponse
}
