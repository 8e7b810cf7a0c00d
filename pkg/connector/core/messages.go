package core

import (
	"time"
)

// MessageKind discriminates the payload carried by a Message.
type MessageKind string

const (
	MessageKindRecord MessageKind = "RECORD"
	MessageKindState  MessageKind = "STATE"
	MessageKindLog    MessageKind = "LOG"
	MessageKindSpec   MessageKind = "SPEC"
)

// LogLevel is the severity of a Log message.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Record is one extracted row of a stream.
type Record struct {
	Stream    string                 `json:"stream"`
	Data      map[string]interface{} `json:"data"`
	EmittedAt time.Time              `json:"emitted_at"`
}

// StreamState is the opaque cursor blob of one stream.
type StreamState map[string]interface{}

// Clone returns a shallow copy of the state.
func (s StreamState) Clone() StreamState {
	if s == nil {
		return nil
	}
	out := make(StreamState, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// State maps stream names to their cursor blobs.
type State map[string]StreamState

// StateMessage carries the updated cursor of a stream once all its records were emitted.
type StateMessage struct {
	Stream string      `json:"stream"`
	State  StreamState `json:"state"`
}

// LogMessage is a connector-side log line forwarded to the engine.
type LogMessage struct {
	Level   LogLevel `json:"level"`
	Message string   `json:"message"`
}

// SpecMessage describes a connector: its streams, configuration keys and sync modes.
type SpecMessage struct {
	Streams                 []StreamDescriptor `json:"streams"`
	ConnectionSpecification ConnectionSpec     `json:"connection_specification"`
	SupportedSyncModes      []SyncMode         `json:"supported_sync_modes"`
}

// Message is the tagged union emitted by SourceConnector.Read. Exactly one
// payload pointer matching Kind is set.
type Message struct {
	Kind   MessageKind   `json:"type"`
	Record *Record       `json:"record,omitempty"`
	State  *StateMessage `json:"state,omitempty"`
	Log    *LogMessage   `json:"log,omitempty"`
	Spec   *SpecMessage  `json:"spec,omitempty"`
}

// NewRecordMessage builds a Record message stamped with emittedAt.
func NewRecordMessage(stream string, data map[string]interface{}, emittedAt time.Time) Message {
	return Message{
		Kind:   MessageKindRecord,
		Record: &Record{Stream: stream, Data: data, EmittedAt: emittedAt.UTC()},
	}
}

// NewStateMessage builds a State message for stream.
func NewStateMessage(stream string, state StreamState) Message {
	return Message{
		Kind:  MessageKindState,
		State: &StateMessage{Stream: stream, State: state},
	}
}

// NewLogMessage builds a Log message.
func NewLogMessage(level LogLevel, message string) Message {
	return Message{
		Kind: MessageKindLog,
		Log:  &LogMessage{Level: level, Message: message},
	}
}

// NewSpecMessage builds a Spec message from a catalog.
func NewSpecMessage(catalog *Catalog) Message {
	return Message{
		Kind: MessageKindSpec,
		Spec: &SpecMessage{
			Streams:                 catalog.Streams,
			ConnectionSpecification: catalog.ConnectionSpecification,
			SupportedSyncModes:      catalog.SupportedSyncModes(),
		},
	}
}
