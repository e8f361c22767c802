// Package replication manages a logical-replication slot, consumes the
// WAL stream, dispatches each change to a user-supplied Sink, and
// acknowledges progress back to the server.
package replication

import "github.com/jackc/pglogrepl"

// Plugin selects the logical-decoding output plugin a Session streams
// from.
type Plugin int

const (
	PluginPgoutput Plugin = iota
	PluginWal2JSON
)

func (p Plugin) String() string {
	switch p {
	case PluginPgoutput:
		return "pgoutput"
	case PluginWal2JSON:
		return "wal2json"
	default:
		return "unknown"
	}
}

// ParsePlugin maps the configuration value to a Plugin.
func ParsePlugin(name string) (Plugin, bool) {
	switch name {
	case "pgoutput":
		return PluginPgoutput, true
	case "wal2json":
		return PluginWal2JSON, true
	default:
		return 0, false
	}
}

// RawWalMessage is one message delivered by the driver's stream
// consumption: the raw decoded payload plus the WAL position it
// originated from.
type RawWalMessage struct {
	Payload   []byte
	DataStart pglogrepl.LSN
}

// State is a Session's position in the lifecycle state machine.
type State int

const (
	StateInit State = iota
	StateSlotReady
	StateStreaming
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateSlotReady:
		return "SLOT_READY"
	case StateStreaming:
		return "STREAMING"
	case StateDraining:
		return "DRAINING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}
