package storage

import (
	"io"
	"time"

	"github.com/cortexlab/fedhub/pkg/types"
)

// Store defines the interface for the federated-learning state of record.
// Implemented by BoltDB-backed storage.
type Store interface {
	// Interactions and feedback. SaveBatch commits one request's
	// interactions and feedback atomically; re-saving an interaction id
	// is an upsert.
	SaveBatch(interactions []*types.Interaction, feedback []*types.Feedback) error
	ListInteractions() ([]*types.Interaction, error)
	ListFeedback() ([]*types.Feedback, error)
	CountInteractionsSince(t time.Time) (int, error)

	// Uploaded models
	SaveUploadedModel(m *types.UploadedModel) error
	GetUploadedModel(id string) (*types.UploadedModel, error)
	ListPendingUploads() ([]*types.UploadedModel, error)
	UpdateUploadStatuses(ids []string, status types.IncorporationStatus, incorporatedIn string) error
	CountUploads(status types.IncorporationStatus) (int, error)

	// Model versions
	SaveModelVersion(v *types.ModelVersion) error
	GetModelVersion(version string) (*types.ModelVersion, error)
	LatestModelVersion() (*types.ModelVersion, error)
	ListModelVersions() ([]*types.ModelVersion, error)
	DeleteModelVersion(version string) error

	// Ensembles
	SaveEnsembleRecord(r *types.EnsembleRecord) error
	GetEnsembleRecord(version string) (*types.EnsembleRecord, error)

	// Aggregates
	Stats() (*types.Stats, error)

	// Snapshot writes a consistent copy of the whole database.
	Snapshot(w io.Writer) (int64, error)

	// OnCommit registers a hook invoked after every successful write
	// transaction. Used by the snapshot syncer's dirty flag.
	OnCommit(fn func())

	// Utility
	Close() error
}
