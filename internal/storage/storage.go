// Package storage persists interpretation runs and their results.
// It uses BoltDB as the underlying storage engine: one bucket of run records
// and one bucket per analysis, with result keys prefixed by the run ID so a
// run's results are read back with a single cursor scan.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	runsBucket        = "runs"               // Run records keyed by run ID
	importanceBucket  = "importance"         // Permutation importance, one per run
	partialBucket     = "partial_dependence" // PD curves keyed runID_features
	interactionBucket = "interaction"        // H-statistics keyed runID_mode_target

	// DBFile is the database file name created under the data path.
	DBFile = "interpret.db"
)

// ErrNotFound is returned when a run or result does not exist.
var ErrNotFound = errors.New("not found")

// Run status values.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusPartial   = "partial"
)

// Run describes one invocation of the engine.
type Run struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Dataset    string    `json:"dataset"`
	Model      string    `json:"model"`
	Response   string    `json:"response,omitempty"`
	Rows       int       `json:"rows"`
	Features   []string  `json:"features"`
	Analyses   []string  `json:"analyses"`
	Seed       uint64    `json:"seed"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// Store provides persistent storage for runs using BoltDB.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the database under dataPath and ensures every bucket
// exists.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, DBFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{runsBucket, importanceBucket, partialBucket, interactionBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CreateRun assigns an ID and creation time when missing, marks the run
// running and stores it.
func (s *Store) CreateRun(run Run) (Run, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if strings.Contains(run.ID, "_") {
		return Run{}, fmt.Errorf("run id %q must not contain '_'", run.ID)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	return run, s.putRun(run)
}

// FinishRun records the final status of a run. A nil error completes it;
// partial marks a cancelled run whose results are incomplete.
func (s *Store) FinishRun(id string, partial bool, runErr error) (Run, error) {
	run, err := s.GetRun(id)
	if err != nil {
		return Run{}, err
	}
	run.FinishedAt = time.Now().UTC()
	switch {
	case partial:
		run.Status = StatusPartial
	case runErr != nil:
		run.Status = StatusFailed
	default:
		run.Status = StatusCompleted
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	return run, s.putRun(run)
}

func (s *Store) putRun(run Run) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}
		return tx.Bucket([]byte(runsBucket)).Put([]byte(run.ID), data)
	})
}

// GetRun loads a run by ID.
func (s *Store) GetRun(id string) (Run, error) {
	var run Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(runsBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &run)
	})
	return run, err
}

// ListRuns returns runs created within [start, end], newest first. A zero
// end means no upper bound.
func (s *Store) ListRuns(start, end time.Time) ([]Run, error) {
	var runs []Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(runsBucket)).ForEach(func(_, v []byte) error {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return nil // Skip malformed records
			}
			if run.CreatedAt.Before(start) || (!end.IsZero() && run.CreatedAt.After(end)) {
				return nil
			}
			runs = append(runs, run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
	return runs, nil
}

// DeleteRun removes a run and all of its results.
func (s *Store) DeleteRun(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucket))
		if runs.Get([]byte(id)) == nil {
			return fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		if err := runs.Delete([]byte(id)); err != nil {
			return err
		}
		prefix := resultPrefix(id)
		for _, name := range []string{importanceBucket, partialBucket, interactionBucket} {
			b := tx.Bucket([]byte(name))
			var keys [][]byte
			c := b.Cursor()
			for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
				keys = append(keys, append([]byte(nil), k...))
			}
			for _, k := range keys {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// put stores v under key in bucket.
func (s *Store) put(bucket, key string, v any) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(runsBucket)).Get([]byte(runIDOf(key))) == nil {
			return fmt.Errorf("run %s: %w", runIDOf(key), ErrNotFound)
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s record: %w", bucket, err)
		}
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
}

// scan decodes every record in bucket whose key starts with the run's prefix.
// Records are visited in key order.
func (s *Store) scan(bucket, runID string, decode func([]byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucket)).Cursor()
		prefix := resultPrefix(runID)
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			if err := decode(v); err != nil {
				return fmt.Errorf("decode %s record %s: %w", bucket, k, err)
			}
		}
		return nil
	})
}

func resultPrefix(runID string) []byte {
	return []byte(runID + "_")
}

func resultKey(runID string, parts ...string) string {
	key := runID
	for _, p := range parts {
		key += "_" + p
	}
	return key
}

// runIDOf extracts the run ID from a result key. Run IDs never contain '_'.
func runIDOf(key string) string {
	if i := strings.IndexByte(key, '_'); i >= 0 {
		return key[:i]
	}
	return key
}

func hasPrefix(data, prefix []byte) bool {
	return bytes.HasPrefix(data, prefix)
}
