package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/tapeline/pkg/types"
)

var (
	// Bucket names
	bucketRuns = []byte("runs")
	bucketJobs = []byte("jobs")
)

// BoltStore implements Store using BoltDB. Run headers live in the runs
// bucket; each run's job outcomes live in a nested bucket under jobs keyed
// by run id.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) the history database at path
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketJobs} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// SaveRun stores summary, replacing any earlier record with the same id
func (s *BoltStore) SaveRun(summary *types.RunSummary) error {
	if summary.RunID == "" {
		return fmt.Errorf("run summary has no id")
	}
	header := *summary
	header.Jobs = nil

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(&header)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketRuns).Put([]byte(summary.RunID), data); err != nil {
			return err
		}

		jobs := tx.Bucket(bucketJobs)
		if jobs.Bucket([]byte(summary.RunID)) != nil {
			if err := jobs.DeleteBucket([]byte(summary.RunID)); err != nil {
				return err
			}
		}
		b, err := jobs.CreateBucket([]byte(summary.RunID))
		if err != nil {
			return err
		}
		for i, outcome := range summary.Jobs {
			data, err := json.Marshal(outcome)
			if err != nil {
				return err
			}
			// keys keep the run's reporting order
			if err := b.Put([]byte(fmt.Sprintf("%06d", i)), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRun loads one run with its job outcomes
func (s *BoltStore) GetRun(id string) (*types.RunSummary, error) {
	var run types.RunSummary
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRuns).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		if err := json.Unmarshal(data, &run); err != nil {
			return err
		}

		b := tx.Bucket(bucketJobs).Bucket([]byte(id))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var outcome types.JobOutcome
			if err := json.Unmarshal(v, &outcome); err != nil {
				return err
			}
			run.Jobs = append(run.Jobs, outcome)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns run headers, newest first, without job outcomes
func (s *BoltStore) ListRuns() ([]*types.RunSummary, error) {
	var runs []*types.RunSummary
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
			var run types.RunSummary
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			runs = append(runs, &run)
			return nil
		})
	})
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, err
}

// DeleteRun removes a run and its job outcomes
func (s *BoltStore) DeleteRun(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketRuns).Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		if err := tx.Bucket(bucketRuns).Delete([]byte(id)); err != nil {
			return err
		}
		jobs := tx.Bucket(bucketJobs)
		if jobs.Bucket([]byte(id)) != nil {
			return jobs.DeleteBucket([]byte(id))
		}
		return nil
	})
}
