// Package jobstate persists transfer job checkpoints, so an interrupted run
// can be noticed and recovered instead of silently forgotten.
package jobstate

import (
	"errors"
	"sort"
	"time"

	"github.com/asdine/storm/codec/msgpack"
	"go.etcd.io/bbolt"
)

var (
	ErrNotFound = errors.New("job not found")

	jobsBucket = []byte("jobs")
)

// one job per volume. the job record survives a crash mid-transfer and is
// removed only when the run (or its recovery) finishes.
type Job struct {
	Volume       string
	SourceRoot   string
	DestRoot     string
	StartedAt    time.Time
	UpdatedAt    time.Time
	PhaseReached int    // highest phase that ran to completion, 0 = none
	ManifestPath string // set once the manifest has been written
}

type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0700, nil)
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(jobsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(job Job) error {
	job.UpdatedAt = time.Now().UTC()

	data, err := msgpack.Codec.Marshal(&job)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(jobsBucket).Put([]byte(job.Volume), data)
	})
}

func (s *Store) Get(volume string) (*Job, error) {
	job := &Job{}

	if err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(jobsBucket).Get([]byte(volume))
		if data == nil {
			return ErrNotFound
		}

		return msgpack.Codec.Unmarshal(data, job)
	}); err != nil {
		return nil, err
	}

	return job, nil
}

func (s *Store) Delete(volume string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(jobsBucket).Delete([]byte(volume))
	})
}

// unfinished jobs, oldest first
func (s *Store) List() ([]Job, error) {
	jobs := []Job{}

	if err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(jobsBucket).ForEach(func(key []byte, data []byte) error {
			job := Job{}
			if err := msgpack.Codec.Unmarshal(data, &job); err != nil {
				return err
			}

			jobs = append(jobs, job)
			return nil
		})
	}); err != nil {
		return nil, err
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.Before(jobs[j].StartedAt) })

	return jobs, nil
}
