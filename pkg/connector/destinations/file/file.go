// Package file implements the flat-file destination: one timestamped file per
// target under an export root, written as CSV, Avro or Parquet and optionally
// compressed. A failed write removes the partial file.
package file

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sync/pkg/compression"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	"github.com/ajitpratap0/nebula-sync/pkg/formats/columnar"
	"github.com/ajitpratap0/nebula-sync/pkg/logger"
	stringpool "github.com/ajitpratap0/nebula-sync/pkg/strings"
)

const (
	// DefaultExportRoot is used when neither filePath nor exportRoot is configured
	DefaultExportRoot = "exports"

	formatCSV = "csv"

	timestampLayout = "20060102T150405Z"
)

type target struct {
	path     string
	file     *os.File
	stream   io.WriteCloser
	csv      *csv.Writer
	rows     columnar.Writer
	schema   *core.Schema
	count    int64
	appended bool
}

// Adapter writes flat files.
type Adapter struct {
	desc        *core.DestinationDescriptor
	root        string
	filePath    string
	format      string
	compression compression.Algorithm
	logger      *zap.Logger

	mu      sync.Mutex
	targets map[string]*target
	now     func() time.Time
}

// New creates a flat-file adapter. Options: filePath, exportRoot, format
// (csv, avro, parquet) and compression (none, gzip, zstd, lz4).
func New(desc *core.DestinationDescriptor) (*Adapter, error) {
	algo, err := compression.ParseAlgorithm(desc.Lookup("compression"))
	if err != nil {
		return nil, err
	}
	format := desc.Lookup("format")
	if format == "" {
		format = formatCSV
	}
	if format != formatCSV {
		if _, err := columnar.ParseFormat(format); err != nil {
			return nil, err
		}
	}

	root := desc.Lookup("exportRoot")
	filePath := desc.Lookup("filePath")
	if root == "" {
		root = DefaultExportRoot
		if filePath != "" {
			root = filepath.Dir(filePath)
		}
	}

	return &Adapter{
		desc:        desc,
		root:        root,
		filePath:    filePath,
		format:      format,
		compression: algo,
		logger:      logger.Get().With(zap.String("destination", string(desc.Type))),
		targets:     make(map[string]*target),
		now:         time.Now,
	}, nil
}

// Type implements core.DestinationAdapter.
func (a *Adapter) Type() core.DestinationType {
	return a.desc.Type
}

// TestConnection checks that the export root is writable.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := os.MkdirAll(a.root, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "export root is not writable").WithDetail("root", a.root)
	}
	tmp, err := os.CreateTemp(a.root, ".nebula-sync-check-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "export root is not writable").WithDetail("root", a.root)
	}
	name := tmp.Name()
	_ = tmp.Close()
	return os.Remove(name)
}

func (a *Adapter) extension() string {
	return "." + a.format + a.compression.Extension()
}

// pathFor returns filePath for the first target when configured, otherwise
// <root>/<target>_<UTC timestamp><ext>.
func (a *Adapter) pathFor(name string) string {
	if a.filePath != "" && len(a.targets) == 0 {
		return a.filePath
	}
	return filepath.Join(a.root, fmt.Sprintf("%s_%s%s", name, a.now().UTC().Format(timestampLayout), a.extension()))
}

// EnsureTarget opens the file of target. An explicit filePath that already
// exists is refused by fail_if_exists, overwritten by replace and extended by
// append (plain CSV only). Appended rows follow the existing header, which
// must name every field of schema.
func (a *Adapter) EnsureTarget(ctx context.Context, name string, schema *core.Schema, policy core.WritePolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	if schema == nil || len(schema.Fields) == 0 {
		return errors.New(errors.ErrorTypeValidation, "cannot create a file without columns")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.targets[name]; ok {
		return nil
	}

	path := a.pathFor(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create export directory")
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	header := true
	if _, err := os.Stat(path); err == nil {
		switch policy {
		case core.WritePolicyFailIfExists:
			return errors.Newf(errors.ErrorTypeValidation, "file %s already exists", path).WithDetail("policy", string(policy))
		case core.WritePolicyAppend:
			if a.format != formatCSV || a.compression != compression.None {
				return errors.Newf(errors.ErrorTypeValidation, "append to existing file %s requires uncompressed csv", path)
			}
			existing, err := readHeader(path)
			if err != nil {
				return err
			}
			if existing != nil {
				if schema, err = headerSchema(existing, schema); err != nil {
					var e *errors.Error
					if errors.As(err, &e) {
						e.WithDetail("path", path)
					}
					return err
				}
				header = false
			}
			flags = os.O_WRONLY | os.O_APPEND
		}
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to open export file").WithDetail("path", path)
	}
	stream, err := compression.NewWriter(f, a.compression, compression.Default)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}

	t := &target{path: path, file: f, stream: stream, schema: schema, appended: !header}
	if a.format == formatCSV {
		t.csv = csv.NewWriter(stream)
		if header {
			if err := t.csv.Write(schema.Names()); err != nil {
				a.discard(t)
				return errors.Wrap(err, errors.ErrorTypeFile, "failed to write csv header")
			}
		}
	} else {
		format, _ := columnar.ParseFormat(a.format)
		t.rows, err = columnar.NewWriter(stream, format, &columnar.WriterConfig{Schema: schema})
		if err != nil {
			a.discard(t)
			return err
		}
	}

	a.targets[name] = t
	a.logger.Info("export file opened", zap.String("target", name), zap.String("path", path))
	return nil
}

// WriteBatch appends rows. Any failure removes the file and later batches
// for the target fail.
func (a *Adapter) WriteBatch(ctx context.Context, name string, rows []core.Row) (core.WriteResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.targets[name]
	if !ok || t == nil {
		return core.WriteResult{}, errors.Newf(errors.ErrorTypeValidation, "target %q was not prepared", name)
	}
	if err := ctx.Err(); err != nil {
		return core.WriteResult{}, errors.Wrap(err, errors.ErrorTypeCancelled, "write cancelled")
	}

	var err error
	if t.csv != nil {
		err = writeCSV(t.csv, t.schema, rows)
	} else {
		err = t.rows.WriteRows(rows)
	}
	if err != nil {
		a.logger.Error("export write failed, removing file", zap.String("path", t.path), zap.Error(err))
		a.discard(t)
		a.targets[name] = nil
		return core.WriteResult{}, errors.Wrap(err, errors.ErrorTypeTransfer, "failed to write export file").WithDetail("path", t.path)
	}
	t.count += int64(len(rows))
	return core.WriteResult{RowsWritten: int64(len(rows))}, nil
}

// readHeader returns the first record of the CSV file at path, nil when the
// file is empty.
func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open export file").WithDetail("path", path)
	}
	defer f.Close()
	header, err := csv.NewReader(f).Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read csv header").WithDetail("path", path)
	}
	return header, nil
}

// headerSchema orders schema by an existing header. Columns of the header
// that schema lacks are written empty.
func headerSchema(header []string, schema *core.Schema) (*core.Schema, error) {
	existing := &core.Schema{Name: schema.Name, Fields: make([]core.Field, len(header))}
	for i, col := range header {
		existing.Fields[i] = core.Field{Name: col, Type: core.FieldTypeString, Nullable: true}
	}
	if err := existing.CheckCompatible(schema); err != nil {
		return nil, err
	}
	out := &core.Schema{Name: schema.Name, Fields: make([]core.Field, len(header))}
	for i, col := range existing.Fields {
		if f, ok := schema.Field(col.Name); ok {
			out.Fields[i] = f
		} else {
			out.Fields[i] = col
		}
	}
	return out, nil
}

func writeCSV(w *csv.Writer, schema *core.Schema, rows []core.Row) error {
	record := make([]string, len(schema.Fields))
	for _, row := range rows {
		for i, f := range schema.Fields {
			record[i] = stringpool.ValueToString(row[f.Name])
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// discard closes and removes a partially written file. Files that existed
// before the job are kept.
func (a *Adapter) discard(t *target) {
	_ = t.stream.Close()
	_ = t.file.Close()
	if t.appended {
		a.logger.Warn("export write failed, existing file kept", zap.String("path", t.path))
		return
	}
	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		a.logger.Warn("failed to remove partial export", zap.String("path", t.path), zap.Error(err))
	}
}

// Location returns the path of target.
func (a *Adapter) Location(name string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.targets[name]; ok && t != nil {
		return t.path
	}
	return a.root
}

// Close finalizes every open file.
func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var result error
	for name, t := range a.targets {
		if t == nil {
			continue
		}
		if err := finalize(t); err != nil {
			a.discard(t)
			result = errors.Append(result, errors.Wrap(err, errors.ErrorTypeTransfer, "failed to finalize export file").WithDetail("path", t.path))
			continue
		}
		a.logger.Info("export file closed", zap.String("target", name), zap.String("path", t.path), zap.Int64("rows", t.count))
	}
	a.targets = make(map[string]*target)
	return result
}

func finalize(t *target) error {
	if t.csv != nil {
		t.csv.Flush()
		if err := t.csv.Error(); err != nil {
			return err
		}
	}
	if t.rows != nil {
		if err := t.rows.Close(); err != nil {
			return err
		}
	}
	if err := t.stream.Close(); err != nil {
		return err
	}
	if err := t.file.Sync(); err != nil {
		return err
	}
	return t.file.Close()
}
