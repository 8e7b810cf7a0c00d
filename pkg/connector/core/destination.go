package core

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

// WritePolicy decides what EnsureTarget does with an existing target.
type WritePolicy string

const (
	// WritePolicyAppend creates the target when absent and appends otherwise
	WritePolicyAppend WritePolicy = "append"
	// WritePolicyReplace drops and recreates an existing target. Destructive, opt-in only.
	WritePolicyReplace WritePolicy = "replace"
	// WritePolicyFailIfExists refuses to touch an existing target
	WritePolicyFailIfExists WritePolicy = "fail_if_exists"
)

// Validate rejects unknown policies. The empty policy is not valid here;
// DestinationDescriptor.EffectivePolicy applies the append default.
func (p WritePolicy) Validate() error {
	switch p {
	case WritePolicyAppend, WritePolicyReplace, WritePolicyFailIfExists:
		return nil
	default:
		return errors.Newf(errors.ErrorTypeValidation, "unknown write policy %q", string(p))
	}
}

// Row is one cleaned record ready to be written.
type Row = map[string]interface{}

// RowError reports a row rejected by the destination.
type RowError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// WriteResult is the outcome of WriteBatch.
type WriteResult struct {
	RowsWritten int64      `json:"rows_written"`
	Errors      []RowError `json:"errors,omitempty"`
}

// DestinationAdapter writes batches into one storage backend. A single adapter
// instance may serve several targets (one per stream).
type DestinationAdapter interface {
	// Type returns the destination type
	Type() DestinationType

	// TestConnection verifies the destination is reachable with the given credentials
	TestConnection(ctx context.Context) error

	// EnsureTarget creates target from schema or reconciles it with policy
	EnsureTarget(ctx context.Context, target string, schema *Schema, policy WritePolicy) error

	// WriteBatch writes rows to a target previously prepared by EnsureTarget
	WriteBatch(ctx context.Context, target string, rows []Row) (WriteResult, error)

	// Location returns a human readable location string for target
	Location(target string) string

	// Close releases connections and finalizes open files
	Close(ctx context.Context) error
}

// DestinationDescriptor is the caller supplied target configuration.
type DestinationDescriptor struct {
	Type DestinationType `yaml:"type" json:"type"`
	// Options holds connection parameters such as host or projectId
	Options map[string]interface{} `yaml:"options" json:"options"`
	// Credentials holds secrets such as password or serviceCredential
	Credentials map[string]string `yaml:"credentials" json:"-"`
	// TableName targets a single table or file name. When empty each stream
	// is written to TablePrefix_<stream>.
	TableName   string      `yaml:"table_name" json:"table_name"`
	TablePrefix string      `yaml:"table_prefix" json:"table_prefix"`
	UniqueKey   []string    `yaml:"unique_key" json:"unique_key"`
	Policy      WritePolicy `yaml:"policy" json:"policy"`
}

// EffectivePolicy returns the configured policy, defaulting to append.
func (d *DestinationDescriptor) EffectivePolicy() WritePolicy {
	if d.Policy == "" {
		return WritePolicyAppend
	}
	return d.Policy
}

// Validate checks the destination type and policy.
func (d *DestinationDescriptor) Validate() error {
	if err := d.Type.Validate(); err != nil {
		return err
	}
	return d.EffectivePolicy().Validate()
}

// Lookup returns the value of key from credentials first, then options.
func (d *DestinationDescriptor) Lookup(key string) string {
	if v := d.Credentials[key]; v != "" {
		return v
	}
	if v, ok := d.Options[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

// Int returns an integer option or def.
func (d *DestinationDescriptor) Int(key string, def int) int {
	s := d.Lookup(key)
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

// Require returns a validation error naming every missing key.
func (d *DestinationDescriptor) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if d.Lookup(k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return errors.Newf(errors.ErrorTypeValidation, "%s destination missing required keys: %v", d.Type, missing).
		WithDetail("missing", missing)
}
