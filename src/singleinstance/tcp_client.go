package singleinstance

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"time"

	"region-capture/src/messages"
)

type tcpClient struct {
	ports PortRange
}

func newTcpClient(r PortRange) Client { return &tcpClient{ports: r} }

func (c *tcpClient) Send(ctx context.Context, t messages.Trigger) (bool, string, error) {
	if err := t.Validate(); err != nil {
		return false, "", err
	}
	line, err := json.Marshal(t)
	if err != nil {
		return false, "", err
	}
	deadline := timeoutFor(ctx, 2*time.Second)
	// scan the range for a resident using PING, then send the request
	for port := c.ports.Start; port <= c.ports.End; port++ {
		addr := residentAddr(port)
		if !ping(addr, deadline) {
			continue
		}
		conn, err := net.DialTimeout("tcp", addr, deadline)
		if err != nil {
			continue
		}
		w := bufio.NewWriter(conn)
		if _, err := w.Write(append(line, '\n')); err != nil {
			conn.Close()
			return true, "", err
		}
		if err := w.Flush(); err != nil {
			conn.Close()
			return true, "", err
		}
		br := bufio.NewReader(conn)
		status, err := br.ReadString('\n')
		if err != nil {
			conn.Close()
			return true, "", err
		}
		if status == successResponse {
			b, _ := io.ReadAll(br)
			conn.Close()
			return true, string(b), nil
		}
		if status == errorResponse {
			msg, _ := io.ReadAll(br)
			conn.Close()
			return true, "", errors.New(string(msg))
		}
		conn.Close()
	}
	return false, "", nil
}
