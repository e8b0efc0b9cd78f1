// Package state persists the sync history ledger: previous-sync entity
// records, the plan audit log, and last-success timestamps, all scoped
// per profile so switching remotes never cross-contaminates three-way
// comparisons.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alexjbarnes/remotesync/internal/engine"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.remotesync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the ledger database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var appBucket = []byte("app")

func profilePrevBucket(profileID string) []byte {
	return []byte("profile:" + profileID + ":prev")
}

func profilePlansBucket(profileID string) []byte {
	return []byte("profile:" + profileID + ":plans")
}

func profileMetaBucket(profileID string) []byte {
	return []byte("profile:" + profileID + ":meta")
}

var lastSuccessKey = []byte("last_success")

// State wraps a bbolt database holding all persistent ledger state.
// Plan appends and history pruning are mutually excluded so the sweep
// never interleaves with an active plan write.
type State struct {
	db *bolt.DB
	mu sync.Mutex
}

// Load opens the ledger at ~/.remotesync/state.db, creating it if it
// does not exist.
func Load() (*State, error) {
	return LoadAt(dbPath())
}

// LoadAt opens a ledger database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(appBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// InitProfile ensures the buckets for a profile exist. Call once after
// deriving the profile id.
func (s *State) InitProfile(profileID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			profilePrevBucket(profileID),
			profilePlansBucket(profileID),
			profileMetaBucket(profileID),
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
}

// PrevEntities returns the previous-sync record for every key in a
// profile.
func (s *State) PrevEntities(profileID string) (map[string]engine.Entity, error) {
	result := make(map[string]engine.Entity)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(profilePrevBucket(profileID))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var e engine.Entity
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}

			result[string(k)] = e

			return nil
		})
	})

	return result, err
}

// SetPrevEntity upserts the previous-sync record for one key.
func (s *State) SetPrevEntity(profileID string, e engine.Entity) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(profilePrevBucket(profileID))
		if b == nil {
			return fmt.Errorf("prev bucket not initialized for profile %s", profileID)
		}

		data, err := json.Marshal(e)
		if err != nil {
			return err
		}

		return b.Put([]byte(e.Key), data)
	})
}

// DeletePrevEntity removes the previous-sync record for one key.
func (s *State) DeletePrevEntity(profileID, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(profilePrevBucket(profileID))
		if b == nil {
			return nil
		}

		return b.Delete([]byte(key))
	})
}

// AppendPlan stores one run's plan in the audit log. Plans are
// append-only: keys are zero-padded run timestamps plus a sequence
// number so two runs in the same millisecond never collide.
func (s *State) AppendPlan(profileID string, plan engine.SyncPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(profilePlansBucket(profileID))
		if b == nil {
			return fmt.Errorf("plans bucket not initialized for profile %s", profileID)
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		data, err := json.Marshal(plan)
		if err != nil {
			return err
		}

		return b.Put(planKey(plan.Timestamp, seq), data)
	})
}

func planKey(millis int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d-%010d", millis, seq))
}

// Plans returns all persisted plans for a profile, oldest first.
func (s *State) Plans(profileID string) ([]engine.SyncPlan, error) {
	var plans []engine.SyncPlan

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(profilePlansBucket(profileID))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var p engine.SyncPlan
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}

			plans = append(plans, p)

			return nil
		})
	})

	return plans, err
}

// LastSuccessTime returns the unix-milli time of the last fully
// successful sync, or 0 if none is recorded.
func (s *State) LastSuccessTime(profileID string) (int64, error) {
	var millis int64

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(profileMetaBucket(profileID))
		if b == nil {
			return nil
		}

		v := b.Get(lastSuccessKey)
		if v == nil {
			return nil
		}

		return json.Unmarshal(v, &millis)
	})

	return millis, err
}

// SetLastSuccessTime records the completion time of a successful sync.
func (s *State) SetLastSuccessTime(profileID string, millis int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(profileMetaBucket(profileID))
		if b == nil {
			return fmt.Errorf("meta bucket not initialized for profile %s", profileID)
		}

		data, err := json.Marshal(millis)
		if err != nil {
			return err
		}

		return b.Put(lastSuccessKey, data)
	})
}

// PruneExpired deletes plan rows older than cutoff (unix millis) and
// returns how many were removed. Runs under the same lock as AppendPlan
// so the sweep never races an active plan write.
func (s *State) PruneExpired(profileID string, cutoff int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(profilePlansBucket(profileID))
		if b == nil {
			return nil
		}

		limit := planKey(cutoff, 0)

		c := b.Cursor()

		var stale [][]byte

		for k, _ := c.First(); k != nil && string(k) < string(limit); k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}

			removed++
		}

		return nil
	})

	return removed, err
}

func dbPath() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		// Fail loudly rather than silently writing the ledger into the
		// current directory where it might land inside the sync root.
		fmt.Fprintf(os.Stderr, "fatal: cannot determine home directory: %v\n", err)
		os.Exit(1)
	}

	return filepath.Join(dir, ".remotesync", "state.db")
}
