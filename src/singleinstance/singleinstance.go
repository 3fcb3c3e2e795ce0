package singleinstance

// This file defines the API for single-instance ownership and trigger delegation.

import (
	"context"

	"region-capture/src/messages"
)

// Server owns the TCP endpoint and answers delegated triggers.
type Server interface {
	// Start begins listening on the first port of its range and accepting client requests.
	Start(ctx context.Context) error
	// Port returns the bound TCP port, or 0 if not started.
	Port() int
	// Next returns the next accepted connection as a Conn, or ctx error.
	Next(ctx context.Context) (Conn, error)
	// Close releases ownership and stops accepting clients.
	Close() error
}

// Conn represents one client connection and exposes request + response API.
type Conn interface {
	// Request returns the parsed client request.
	Request() Request
	// RespondSuccess sends success with an optional human-readable detail.
	RespondSuccess(text string) error
	// RespondError sends an error with human-readable message.
	RespondError(msg string) error
	// Close closes the underlying connection.
	Close() error
}

// Request represents a single delegated trigger.
type Request struct {
	Trigger messages.Trigger
}

// Client attempts to delegate a trigger to a resident server.
type Client interface {
	// Send scans its port range, performs the handshake and delegates t.
	// If no resident is found, returns delegated=false, err=nil.
	Send(ctx context.Context, t messages.Trigger) (delegated bool, text string, err error)
}

// NewServer returns the TCP implementation bound to the start of r.
func NewServer(r PortRange) Server { return newTcpServer(r.Normalize()) }

// NewClient returns the TCP implementation scanning r.
func NewClient(r PortRange) Client { return newTcpClient(r.Normalize()) }
