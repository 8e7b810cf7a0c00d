package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

// Established is the schema a target was created from during one job.
type Established struct {
	Schema        *core.Schema `json:"schema"`
	Fingerprint   string       `json:"fingerprint"`
	EstablishedAt time.Time    `json:"established_at"`
	Batches       int          `json:"batches"`
}

// Registry remembers the established schema of every target written in a job.
// The first batch for a target establishes its schema; later batches must be
// compatible with it.
type Registry struct {
	mu       sync.Mutex
	subjects map[string]*Established
	logger   *zap.Logger
}

// NewRegistry creates an empty schema registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		subjects: make(map[string]*Established),
		logger:   logger,
	}
}

// Reconcile registers batch for subject. The first call stores batch and
// returns it with first set. Later calls return the established schema, or a
// schema_conflict error when batch does not fit it.
func (r *Registry) Reconcile(subject string, batch *core.Schema) (established *core.Schema, first bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.subjects[subject]; ok {
		if err := existing.Schema.CheckCompatible(batch); err != nil {
			var e *errors.Error
			if errors.As(err, &e) {
				e.WithDetail("target", subject).WithDetail("batch", existing.Batches+1)
			}
			return nil, false, err
		}
		existing.Batches++
		return existing.Schema, false, nil
	}

	r.subjects[subject] = &Established{
		Schema:        batch,
		Fingerprint:   Fingerprint(batch),
		EstablishedAt: time.Now().UTC(),
		Batches:       1,
	}
	r.logger.Info("schema established",
		zap.String("target", subject),
		zap.Int("fields", len(batch.Fields)),
		zap.String("fingerprint", r.subjects[subject].Fingerprint))
	return batch, true, nil
}

// Get returns a copy of the established schema of subject.
func (r *Registry) Get(subject string) (Established, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.subjects[subject]
	if !ok {
		return Established{}, false
	}
	return *e, true
}

// Subjects returns the registered targets in sorted order.
func (r *Registry) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.subjects))
	for s := range r.subjects {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Fingerprint hashes field names, types and nullability in schema order.
func Fingerprint(s *core.Schema) string {
	h := sha256.New()
	for _, f := range s.Fields {
		h.Write([]byte(f.Name))
		h.Write([]byte{':'})
		h.Write([]byte(f.Type))
		if f.Nullable {
			h.Write([]byte{'?'})
		}
		h.Write([]byte{';'})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
