package nativemsg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"

	"region-capture/src/transfer"
)

// CallerOrigin is passed to the host as its first argument, the way a browser
// identifies the calling extension.
const CallerOrigin = "region-capture://desktop/"

// ExecChannel implements transfer.Channel by spawning the host named in a
// manifest for every message.
type ExecChannel struct {
	ManifestDir string
}

// NewExecChannel resolves hosts from dir, or DefaultManifestDir when dir is empty.
func NewExecChannel(dir string) *ExecChannel {
	if dir == "" {
		dir = DefaultManifestDir()
	}
	return &ExecChannel{ManifestDir: dir}
}

// Send writes msg to a fresh host process and reads exactly one reply. ctx
// bounds the exchange only: once the host has replied it may keep running (a
// host that owns the clipboard lingers until the content is replaced) and is
// reaped in the background.
func (c *ExecChannel) Send(ctx context.Context, host string, msg any) (transfer.Response, error) {
	m, err := LoadManifest(c.ManifestDir, host)
	if err != nil {
		return transfer.Response{}, err
	}

	cmd := exec.Command(m.Path, CallerOrigin)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return transfer.Response{}, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return transfer.Response{}, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return transfer.Response{}, fmt.Errorf("start host %s: %w", host, err)
	}
	log.Printf("nativemsg: started %s (pid %d)", m.Path, cmd.Process.Pid)

	replied := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
		case <-replied:
		}
	}()

	writeErr := WriteMessage(stdin, msg, MaxInbound)
	stdin.Close()

	var resp transfer.Response
	readErr := ReadMessage(stdout, &resp, MaxOutbound)
	close(replied)

	if writeErr == nil && readErr == nil {
		go reap(host, cmd, stdout, &stderr)
		return resp, nil
	}
	waitErr := reap(host, cmd, stdout, &stderr)
	if writeErr != nil {
		return transfer.Response{}, fmt.Errorf("send to %s: %w", host, writeErr)
	}
	if errors.Is(readErr, io.EOF) {
		readErr = fmt.Errorf("host exited without replying: %v", waitErr)
	}
	return transfer.Response{}, fmt.Errorf("receive from %s: %w", host, readErr)
}

// reap drains the host's stdout so it never blocks on a full pipe, waits for
// it to exit and logs anything it wrote to stderr. stderr is only read after
// Wait has finished copying into it.
func reap(host string, cmd *exec.Cmd, stdout io.Reader, stderr *bytes.Buffer) error {
	io.Copy(io.Discard, stdout)
	err := cmd.Wait()
	if s := strings.TrimSpace(stderr.String()); s != "" {
		log.Printf("nativemsg: %s stderr: %s", host, s)
	}
	if err != nil {
		log.Printf("nativemsg: %s exited with %v", host, err)
	}
	return err
}

// Handler answers one decoded request. The returned value is sent back framed.
type Handler func(ctx context.Context, req json.RawMessage) any

// Serve reads requests from r until EOF and writes one response per request to w.
func Serve(ctx context.Context, r io.Reader, w io.Writer, h Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var req json.RawMessage
		if err := ReadMessage(r, &req, MaxInbound); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := WriteMessage(w, h(ctx, req), MaxOutbound); err != nil {
			return err
		}
	}
}
