package events

import "time"

// ConnectionState mirrors the connection lifecycle phases surfaced to the host.
type ConnectionState string

const (
	ConnectionStateDisconnected  ConnectionState = "disconnected"
	ConnectionStateConnecting    ConnectionState = "connecting"
	ConnectionStateAuthenticated ConnectionState = "authenticated"
	ConnectionStateStreaming     ConnectionState = "streaming"
	ConnectionStateReconnecting  ConnectionState = "reconnecting"
	ConnectionStateAuthFailed    ConnectionState = "auth_failed"
	ConnectionStateStopped       ConnectionState = "stopped"
)

// ConnectionStatus is a bus snapshot of the device-channel status.
type ConnectionStatus struct {
	State     ConnectionState
	Err       string
	Target    string
	Attempt   int
	Timestamp time.Time
}

// Fatal reports whether the engine has given up reconnecting.
func (s ConnectionStatus) Fatal() bool {
	return s.State == ConnectionStateAuthFailed
}

// RawFrame carries frame diagnostics for debug views and logs.
type RawFrame struct {
	Topic string
	Len   int
}

// CommandResult reports the terminal outcome of a dispatched command.
type CommandResult struct {
	SequenceID string
	Command    string
	Err        string
	Timestamp  time.Time
}
