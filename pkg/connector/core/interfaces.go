// Package core defines the contracts shared by every source connector and
// destination adapter: the message protocol, stream catalog, schemas and the
// lazy message stream returned by Read.
package core

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

// SourceConnector extracts streams from one third-party platform.
//
// Implementations validate their ConnectorConfig before any network call and
// fail with a validation error when required credentials are absent.
type SourceConnector interface {
	// Type returns the connector type this instance was created for
	Type() ConnectorType

	// Spec describes the configuration keys the connector accepts
	Spec() ConnectionSpec

	// CheckConnection verifies credentials and reachability
	CheckConnection(ctx context.Context) ConnectionStatus

	// Discover lists the streams the connector can sync
	Discover(ctx context.Context) (*Catalog, error)

	// Read extracts the requested streams. Records of a stream always precede
	// that stream's State message. The caller must drain or Close the stream.
	Read(ctx context.Context, streams []ConfiguredStream, state State) (*MessageStream, error)

	// Close releases connector resources
	Close() error
}

// ConnectionStatus is the outcome of CheckConnection.
type ConnectionStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	// Err is the typed error behind a failed check, nil when OK
	Err error `json:"-"`
}

// ConnectionSucceeded returns an OK status.
func ConnectionSucceeded(message string) ConnectionStatus {
	return ConnectionStatus{OK: true, Message: message}
}

// ConnectionFailed returns a failed status carrying err.
func ConnectionFailed(err error) ConnectionStatus {
	return ConnectionStatus{OK: false, Message: err.Error(), Err: err}
}

// ConnectorConfig carries the parameters of one run. Credentials arrive
// already decrypted and are treated as opaque beyond the declared keys.
type ConnectorConfig struct {
	Type        ConnectorType          `yaml:"type" json:"type"`
	InstanceID  string                 `yaml:"instance_id" json:"instance_id"`
	Credentials map[string]string      `yaml:"credentials" json:"-"`
	Options     map[string]interface{} `yaml:"options" json:"options"`
	Streams     []string               `yaml:"streams" json:"streams"`
	// SyncModes overrides the default sync mode of individual streams
	SyncModes map[string]SyncMode `yaml:"sync_modes" json:"sync_modes"`
}

// Credential returns a credential value or the empty string.
func (c *ConnectorConfig) Credential(key string) string {
	if c.Credentials == nil {
		return ""
	}
	return c.Credentials[key]
}

// StringOption returns a string option or def when absent.
func (c *ConnectorConfig) StringOption(key, def string) string {
	if v, ok := c.Options[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return def
}

// IntOption returns an integer option or def when absent or malformed.
func (c *ConnectorConfig) IntOption(key string, def int) int {
	v, ok := c.Options[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}

// StringSliceOption returns a list option. Scalar values become a one-element list.
func (c *ConnectorConfig) StringSliceOption(key string) []string {
	v, ok := c.Options[key]
	if !ok || v == nil {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

// Validate checks the closed connector type and the declared stream modes.
func (c *ConnectorConfig) Validate() error {
	if err := c.Type.Validate(); err != nil {
		return err
	}
	for stream, mode := range c.SyncModes {
		if err := mode.Validate(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeValidation, "invalid sync mode for stream "+stream)
		}
	}
	return nil
}

// SpecProperty is one configuration key declared by a connector.
type SpecProperty struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Credential marks keys read from the credential map instead of options
	Credential bool `json:"credential"`
	Required   bool `json:"required"`
}

// ConnectionSpec is the set of keys a connector accepts.
type ConnectionSpec struct {
	Properties []SpecProperty `json:"properties"`
}

// Required returns the required property names.
func (s ConnectionSpec) Required() []string {
	var names []string
	for _, p := range s.Properties {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// Validate checks that every required key is present and non-empty in cfg.
// It never performs I/O.
func (s ConnectionSpec) Validate(cfg *ConnectorConfig) error {
	var missing []string
	for _, p := range s.Properties {
		if !p.Required {
			continue
		}
		if p.Credential {
			if cfg.Credential(p.Name) == "" {
				missing = append(missing, p.Name)
			}
			continue
		}
		if cfg.StringOption(p.Name, "") == "" {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.Newf(errors.ErrorTypeValidation, "missing required configuration: %v", missing).
			WithDetail("missing", missing).
			WithDetail("connector", string(cfg.Type))
	}
	return nil
}

// StreamDescriptor describes one syncable entity.
type StreamDescriptor struct {
	Name               string     `json:"name"`
	Fields             []Field    `json:"fields"`
	SupportedSyncModes []SyncMode `json:"supported_sync_modes"`
	DefaultCursorField string     `json:"default_cursor_field,omitempty"`
	PrimaryKey         []string   `json:"primary_key,omitempty"`
}

// Supports reports whether the stream can be synced in mode.
func (d StreamDescriptor) Supports(mode SyncMode) bool {
	for _, m := range d.SupportedSyncModes {
		if m == mode {
			return true
		}
	}
	return false
}

// DefaultSyncMode is incremental when supported and a cursor exists, else full refresh.
func (d StreamDescriptor) DefaultSyncMode() SyncMode {
	if d.DefaultCursorField != "" && d.Supports(SyncModeIncremental) {
		return SyncModeIncremental
	}
	return SyncModeFullRefresh
}

// Catalog is the result of Discover.
type Catalog struct {
	Streams                 []StreamDescriptor `json:"streams"`
	ConnectionSpecification ConnectionSpec     `json:"connection_specification"`
}

// Validate enforces unique stream names.
func (c *Catalog) Validate() error {
	seen := make(map[string]bool, len(c.Streams))
	for _, s := range c.Streams {
		if s.Name == "" {
			return errors.New(errors.ErrorTypeValidation, "stream with empty name in catalog")
		}
		if seen[s.Name] {
			return errors.Newf(errors.ErrorTypeValidation, "duplicate stream %q in catalog", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// Stream looks a stream up by name.
func (c *Catalog) Stream(name string) (StreamDescriptor, bool) {
	for _, s := range c.Streams {
		if s.Name == name {
			return s, true
		}
	}
	return StreamDescriptor{}, false
}

// SupportedSyncModes returns the union of stream sync modes in a stable order.
func (c *Catalog) SupportedSyncModes() []SyncMode {
	var full, incr bool
	for _, s := range c.Streams {
		full = full || s.Supports(SyncModeFullRefresh)
		incr = incr || s.Supports(SyncModeIncremental)
	}
	var modes []SyncMode
	if full {
		modes = append(modes, SyncModeFullRefresh)
	}
	if incr {
		modes = append(modes, SyncModeIncremental)
	}
	return modes
}

// ConfiguredStream is a stream selected for one run.
type ConfiguredStream struct {
	Stream      StreamDescriptor `json:"stream"`
	SyncMode    SyncMode         `json:"sync_mode"`
	CursorField string           `json:"cursor_field,omitempty"`
}

// Name returns the stream name.
func (c ConfiguredStream) Name() string {
	return c.Stream.Name
}

// Configure resolves the streams to sync: the names in requested, or every
// catalog stream when requested is empty. Unknown names and unsupported modes
// are validation errors.
func (c *Catalog) Configure(requested []string, modes map[string]SyncMode) ([]ConfiguredStream, error) {
	names := requested
	if len(names) == 0 {
		for _, s := range c.Streams {
			names = append(names, s.Name)
		}
	}

	out := make([]ConfiguredStream, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		desc, ok := c.Stream(name)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeValidation, "stream %q not found in catalog", name)
		}
		mode := desc.DefaultSyncMode()
		if m, ok := modes[name]; ok {
			mode = m
		}
		if !desc.Supports(mode) {
			return nil, errors.Newf(errors.ErrorTypeValidation, "stream %q does not support %s", name, mode)
		}
		cs := ConfiguredStream{Stream: desc, SyncMode: mode}
		if mode == SyncModeIncremental {
			cs.CursorField = desc.DefaultCursorField
		}
		out = append(out, cs)
	}
	return out, nil
}
