package printer

import "errors"

var (
	// ErrUnreachable means the device did not answer within the connect
	// timeout. Recovered locally with backoff.
	ErrUnreachable = errors.New("printer unreachable")

	// ErrAuthentication means the access code was rejected. Retried a
	// bounded number of times, then fatal.
	ErrAuthentication = errors.New("printer rejected access code")

	// ErrCommandTimeout means no acknowledgement arrived within the
	// command's deadline. Not retried automatically: a retried start
	// could double-start a print, so the retry decision stays with the
	// caller.
	ErrCommandTimeout = errors.New("command acknowledgement timed out")

	// ErrInvalidStateTransition means the requested control action does
	// not apply to the current job state and was rejected without
	// contacting the device.
	ErrInvalidStateTransition = errors.New("invalid job state transition")

	// ErrConnectionClosed means the command was failed because the
	// connection was torn down before an acknowledgement arrived.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrEngineStopped means the engine is shutting down and accepts no
	// further commands.
	ErrEngineStopped = errors.New("engine stopped")
)

// DecodeError wraps a frame that could not be parsed. The read loop logs and
// discards these; they never interrupt the stream.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "decode frame: " + e.Reason + ": " + e.Err.Error()
	}
	return "decode frame: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }
