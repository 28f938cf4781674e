package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	bolt "go.etcd.io/bbolt"

	"github.com/cortexlab/fedhub/pkg/errdefs"
	"github.com/cortexlab/fedhub/pkg/types"
)

var (
	// Bucket names
	bucketInteractions = []byte("interactions")
	bucketFeedback     = []byte("feedback")
	bucketUploads      = []byte("uploaded_models")
	bucketVersions     = []byte("model_versions")
	bucketEnsembles    = []byte("ensemble_models")
)

const (
	writeAttempts = 3
	// Randomized backoff window for contended writes: 0.5s..2.0s.
	backoffBase   = 1250 * time.Millisecond
	backoffJitter = 750 * time.Millisecond
)

// BoltStore implements Store using BoltDB. BoltDB admits a single writer at
// a time; the writeMu keeps our own transactions from queuing up inside
// bbolt and gives the retry loop a clean contention signal.
type BoltStore struct {
	db      *bolt.DB
	writeMu sync.Mutex

	hookMu   sync.Mutex
	onCommit []func()
}

// NewBoltStore opens (or creates) the database at dbPath.
func NewBoltStore(dbPath string) (*BoltStore, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketInteractions,
			bucketFeedback,
			bucketUploads,
			bucketVersions,
			bucketEnsembles,
		}

		for _, bucket := range buckets {
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

// OnCommit registers a post-commit hook.
func (s *BoltStore) OnCommit(fn func()) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onCommit = append(s.onCommit, fn)
}

func (s *BoltStore) fireCommitHooks() {
	s.hookMu.Lock()
	hooks := make([]func(), len(s.onCommit))
	copy(hooks, s.onCommit)
	s.hookMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// update runs fn inside a write transaction, retrying transient contention
// with randomized backoff before surfacing ErrTransient.
func (s *BoltStore) update(fn func(tx *bolt.Tx) error) error {
	backoff := retry.WithMaxRetries(writeAttempts, retry.WithJitter(backoffJitter, retry.NewConstant(backoffBase)))

	err := retry.Do(context.Background(), backoff, func(ctx context.Context) error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		err := s.db.Update(fn)
		if err != nil && isLockContention(err) {
			return retry.RetryableError(fmt.Errorf("%w: %v", errdefs.ErrTransient, err))
		}
		return err
	})
	if err != nil {
		return err
	}

	s.fireCommitHooks()
	return nil
}

func isLockContention(err error) bool {
	return errors.Is(err, bolt.ErrTimeout) || errors.Is(err, os.ErrDeadlineExceeded)
}

// --- Interactions and feedback ---

// SaveBatch upserts a request's interactions and feedback in one
// transaction. Either everything lands or nothing does.
func (s *BoltStore) SaveBatch(interactions []*types.Interaction, feedback []*types.Feedback) error {
	return s.update(func(tx *bolt.Tx) error {
		ib := tx.Bucket(bucketInteractions)
		for _, in := range interactions {
			if in.ID == "" {
				return fmt.Errorf("%w: interaction without id", errdefs.ErrInvariant)
			}
			data, err := json.Marshal(in)
			if err != nil {
				return err
			}
			if err := ib.Put([]byte(in.ID), data); err != nil {
				return err
			}
		}

		fb := tx.Bucket(bucketFeedback)
		for _, f := range feedback {
			if f.InteractionID == "" {
				return fmt.Errorf("%w: feedback without interaction id", errdefs.ErrInvariant)
			}
			data, err := json.Marshal(f)
			if err != nil {
				return err
			}
			if err := fb.Put([]byte(f.InteractionID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListInteractions() ([]*types.Interaction, error) {
	var out []*types.Interaction
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInteractions).ForEach(func(k, v []byte) error {
			var in types.Interaction
			if err := json.Unmarshal(v, &in); err != nil {
				return err
			}
			out = append(out, &in)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListFeedback() ([]*types.Feedback, error) {
	var out []*types.Feedback
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFeedback).ForEach(func(k, v []byte) error {
			var f types.Feedback
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			out = append(out, &f)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) CountInteractionsSince(t time.Time) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInteractions).ForEach(func(k, v []byte) error {
			var in types.Interaction
			if err := json.Unmarshal(v, &in); err != nil {
				return err
			}
			if in.CreatedAt.After(t) {
				count++
			}
			return nil
		})
	})
	return count, err
}

// --- Uploaded models ---

func (s *BoltStore) SaveUploadedModel(m *types.UploadedModel) error {
	if m.ID == "" {
		return fmt.Errorf("%w: upload without id", errdefs.ErrInvariant)
	}
	return s.update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketUploads).Put([]byte(m.ID), data)
	})
}

func (s *BoltStore) GetUploadedModel(id string) (*types.UploadedModel, error) {
	var m types.UploadedModel
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketUploads).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: upload %s", errdefs.ErrNotFound, id)
		}
		return json.Unmarshal(data, &m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListPendingUploads returns pending uploads ordered by upload date, oldest
// first, so incorporation is FIFO.
func (s *BoltStore) ListPendingUploads() ([]*types.UploadedModel, error) {
	var out []*types.UploadedModel
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUploads).ForEach(func(k, v []byte) error {
			var m types.UploadedModel
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.IncorporationStatus == types.IncorporationPending {
				out = append(out, &m)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadDate.Before(out[j].UploadDate) })
	return out, nil
}

// UpdateUploadStatuses flips the given uploads to status in one transaction.
// incorporatedIn is recorded only for the incorporated status.
func (s *BoltStore) UpdateUploadStatuses(ids []string, status types.IncorporationStatus, incorporatedIn string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUploads)
		for _, id := range ids {
			data := b.Get([]byte(id))
			if data == nil {
				return fmt.Errorf("%w: upload %s", errdefs.ErrNotFound, id)
			}
			var m types.UploadedModel
			if err := json.Unmarshal(data, &m); err != nil {
				return err
			}
			m.IncorporationStatus = status
			switch status {
			case types.IncorporationIncorporated:
				m.IncorporatedInVersion = incorporatedIn
			case types.IncorporationPending:
				// Rolled back uploads carry no version.
				m.IncorporatedInVersion = ""
			}
			updated, err := json.Marshal(&m)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(id), updated); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) CountUploads(status types.IncorporationStatus) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUploads).ForEach(func(k, v []byte) error {
			var m types.UploadedModel
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.IncorporationStatus == status {
				count++
			}
			return nil
		})
	})
	return count, err
}

// --- Model versions ---

func (s *BoltStore) SaveModelVersion(v *types.ModelVersion) error {
	if v.Version == "" {
		return fmt.Errorf("%w: model version without version string", errdefs.ErrInvariant)
	}
	return s.update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketVersions).Put([]byte(v.Version), data)
	})
}

func (s *BoltStore) GetModelVersion(version string) (*types.ModelVersion, error) {
	var v types.ModelVersion
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketVersions).Get([]byte(version))
		if data == nil {
			return fmt.Errorf("%w: model version %s", errdefs.ErrNotFound, version)
		}
		return json.Unmarshal(data, &v)
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// LatestModelVersion returns the newest version by creation time, breaking
// ties on the version string.
func (s *BoltStore) LatestModelVersion() (*types.ModelVersion, error) {
	versions, err := s.ListModelVersions()
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: no model versions", errdefs.ErrNotFound)
	}
	latest := versions[0]
	for _, v := range versions[1:] {
		if v.CreatedAt.After(latest.CreatedAt) ||
			(v.CreatedAt.Equal(latest.CreatedAt) && v.Version > latest.Version) {
			latest = v
		}
	}
	return latest, nil
}

func (s *BoltStore) ListModelVersions() ([]*types.ModelVersion, error) {
	var out []*types.ModelVersion
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVersions).ForEach(func(k, v []byte) error {
			var mv types.ModelVersion
			if err := json.Unmarshal(v, &mv); err != nil {
				return err
			}
			out = append(out, &mv)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) DeleteModelVersion(version string) error {
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVersions).Delete([]byte(version))
	})
}

// --- Ensembles ---

func (s *BoltStore) SaveEnsembleRecord(r *types.EnsembleRecord) error {
	if r.EnsembleVersion == "" {
		return fmt.Errorf("%w: ensemble record without version", errdefs.ErrInvariant)
	}
	return s.update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEnsembles).Put([]byte(r.EnsembleVersion), data)
	})
}

func (s *BoltStore) GetEnsembleRecord(version string) (*types.EnsembleRecord, error) {
	var r types.EnsembleRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEnsembles).Get([]byte(version))
		if data == nil {
			return fmt.Errorf("%w: ensemble %s", errdefs.ErrNotFound, version)
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// --- Aggregates ---

// Stats computes the /api/ai/stats document in one consistent view.
func (s *BoltStore) Stats() (*types.Stats, error) {
	stats := &types.Stats{}
	err := s.db.View(func(tx *bolt.Tx) error {
		devices := make(map[string]struct{})
		intents := make(map[string]int)

		err := tx.Bucket(bucketInteractions).ForEach(func(k, v []byte) error {
			var in types.Interaction
			if err := json.Unmarshal(v, &in); err != nil {
				return err
			}
			stats.TotalInteractions++
			devices[in.DeviceID] = struct{}{}
			if in.DetectedIntent != "" {
				intents[in.DetectedIntent]++
			}
			return nil
		})
		if err != nil {
			return err
		}
		stats.UniqueDevices = len(devices)

		ratingSum, ratingCount := 0, 0
		err = tx.Bucket(bucketFeedback).ForEach(func(k, v []byte) error {
			var f types.Feedback
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			ratingSum += f.Rating
			ratingCount++
			return nil
		})
		if err != nil {
			return err
		}
		if ratingCount > 0 {
			avg := float64(ratingSum) / float64(ratingCount)
			stats.AverageFeedbackRating = math.Round(avg*100) / 100
		}

		for intent, count := range intents {
			stats.TopIntents = append(stats.TopIntents, types.IntentCount{Intent: intent, Count: count})
		}
		sort.Slice(stats.TopIntents, func(i, j int) bool {
			if stats.TopIntents[i].Count != stats.TopIntents[j].Count {
				return stats.TopIntents[i].Count > stats.TopIntents[j].Count
			}
			return stats.TopIntents[i].Intent < stats.TopIntents[j].Intent
		})
		if len(stats.TopIntents) > 5 {
			stats.TopIntents = stats.TopIntents[:5]
		}

		var latest *types.ModelVersion
		err = tx.Bucket(bucketVersions).ForEach(func(k, v []byte) error {
			var mv types.ModelVersion
			if err := json.Unmarshal(v, &mv); err != nil {
				return err
			}
			stats.TotalModels++
			if latest == nil || mv.CreatedAt.After(latest.CreatedAt) {
				latest = &mv
			}
			return nil
		})
		if err != nil {
			return err
		}
		if latest != nil {
			stats.LatestModelVersion = latest.Version
			d := latest.TrainingDate
			stats.LastTrainingDate = &d
		}

		return tx.Bucket(bucketUploads).ForEach(func(k, v []byte) error {
			var m types.UploadedModel
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.IncorporationStatus == types.IncorporationIncorporated {
				stats.IncorporatedUserModels++
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// --- Snapshot ---

// Snapshot streams a consistent copy of the database to w. Safe to call
// while writes are in flight; bbolt serves the snapshot from a read
// transaction.
func (s *BoltStore) Snapshot(w io.Writer) (int64, error) {
	var n int64
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		n, err = tx.WriteTo(w)
		return err
	})
	return n, err
}
