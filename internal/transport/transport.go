package transport

import (
	"context"
	"errors"
)

// ErrAuthRejected is returned by Connect when the device refuses the LAN
// access code. The connection manager treats repeated occurrences as a
// configuration error rather than a transient fault.
var ErrAuthRejected = errors.New("device rejected credentials")

// Transport is one message-oriented channel to the printer. Implementations
// own the physical session; the connection manager owns the lifecycle.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, payload []byte) error
}

// StatusTargetResolver exposes a human-readable connection target for
// status reporting.
type StatusTargetResolver interface {
	StatusTarget() string
}
