package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexlab/fedhub/pkg/errdefs"
	"github.com/cortexlab/fedhub/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func interaction(id, device, msg, intent string) *types.Interaction {
	return &types.Interaction{
		ID:             id,
		DeviceID:       device,
		UserMessage:    msg,
		DetectedIntent: intent,
		Timestamp:      time.Now(),
		CreatedAt:      time.Now(),
	}
}

func TestSaveBatchAndList(t *testing.T) {
	store := newTestStore(t)

	err := store.SaveBatch(
		[]*types.Interaction{
			interaction("i1", "dev-a", "turn on the lights", "lights_on"),
			interaction("i2", "dev-a", "what time is it", "time_query"),
		},
		[]*types.Feedback{
			{ID: "f1", InteractionID: "i1", Rating: 5, CreatedAt: time.Now()},
		},
	)
	require.NoError(t, err)

	interactions, err := store.ListInteractions()
	require.NoError(t, err)
	assert.Len(t, interactions, 2)

	feedback, err := store.ListFeedback()
	require.NoError(t, err)
	assert.Len(t, feedback, 1)
	assert.Equal(t, "i1", feedback[0].InteractionID)
}

func TestSaveBatchUpsertsByID(t *testing.T) {
	store := newTestStore(t)

	first := interaction("i1", "dev-a", "turn on the lights", "lights_on")
	require.NoError(t, store.SaveBatch([]*types.Interaction{first}, nil))

	// Same id again with a corrected intent.
	second := interaction("i1", "dev-a", "turn on the lights", "lights_toggle")
	require.NoError(t, store.SaveBatch([]*types.Interaction{second}, nil))

	interactions, err := store.ListInteractions()
	require.NoError(t, err)
	require.Len(t, interactions, 1)
	assert.Equal(t, "lights_toggle", interactions[0].DetectedIntent)
}

func TestCountInteractionsSince(t *testing.T) {
	store := newTestStore(t)

	old := interaction("old", "dev-a", "hello", "greeting")
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	recent := interaction("new", "dev-a", "hello again", "greeting")

	require.NoError(t, store.SaveBatch([]*types.Interaction{old, recent}, nil))

	n, err := store.CountInteractionsSince(time.Now().Add(-1 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.CountInteractionsSince(time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPendingUploadsOrderedByUploadDate(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"u-c", "u-a", "u-b"} {
		require.NoError(t, store.SaveUploadedModel(&types.UploadedModel{
			ID:                  id,
			DeviceID:            "dev-a",
			UploadDate:          base.Add(time.Duration(2-i) * time.Hour),
			IncorporationStatus: types.IncorporationPending,
		}))
	}

	pending, err := store.ListPendingUploads()
	require.NoError(t, err)
	require.Len(t, pending, 3)
	// Oldest upload first.
	assert.Equal(t, "u-b", pending[0].ID)
	assert.Equal(t, "u-a", pending[1].ID)
	assert.Equal(t, "u-c", pending[2].ID)
}

func TestUpdateUploadStatuses(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"u1", "u2", "u3"} {
		require.NoError(t, store.SaveUploadedModel(&types.UploadedModel{
			ID:                  id,
			UploadDate:          time.Now(),
			IncorporationStatus: types.IncorporationPending,
		}))
	}

	require.NoError(t, store.UpdateUploadStatuses([]string{"u1", "u2"}, types.IncorporationIncorporated, "1.0.1700000000"))

	u1, err := store.GetUploadedModel("u1")
	require.NoError(t, err)
	assert.Equal(t, types.IncorporationIncorporated, u1.IncorporationStatus)
	assert.Equal(t, "1.0.1700000000", u1.IncorporatedInVersion)

	u3, err := store.GetUploadedModel("u3")
	require.NoError(t, err)
	assert.Equal(t, types.IncorporationPending, u3.IncorporationStatus)

	n, err := store.CountUploads(types.IncorporationPending)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRollbackToPendingClearsVersion(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveUploadedModel(&types.UploadedModel{
		ID:                  "u1",
		UploadDate:          time.Now(),
		IncorporationStatus: types.IncorporationPending,
	}))
	require.NoError(t, store.UpdateUploadStatuses([]string{"u1"}, types.IncorporationProcessing, ""))
	require.NoError(t, store.UpdateUploadStatuses([]string{"u1"}, types.IncorporationPending, ""))

	u1, err := store.GetUploadedModel("u1")
	require.NoError(t, err)
	assert.Equal(t, types.IncorporationPending, u1.IncorporationStatus)
	assert.Empty(t, u1.IncorporatedInVersion)
}

func TestModelVersionLifecycle(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetModelVersion("1.0.5")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))

	now := time.Now()
	for i, v := range []string{"1.0.100", "1.0.200", "1.0.300"} {
		require.NoError(t, store.SaveModelVersion(&types.ModelVersion{
			Version:   v,
			BlobRef:   "blob:trained/model_" + v + ".mlmodel",
			Accuracy:  0.9,
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}

	latest, err := store.LatestModelVersion()
	require.NoError(t, err)
	assert.Equal(t, "1.0.300", latest.Version)

	require.NoError(t, store.DeleteModelVersion("1.0.100"))
	versions, err := store.ListModelVersions()
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	// Deleting a missing version is not an error.
	assert.NoError(t, store.DeleteModelVersion("1.0.100"))
}

func TestStats(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveBatch(
		[]*types.Interaction{
			interaction("i1", "dev-a", "turn on the lights", "lights_on"),
			interaction("i2", "dev-a", "lights please", "lights_on"),
			interaction("i3", "dev-b", "what time is it", "time_query"),
		},
		[]*types.Feedback{
			{ID: "f1", InteractionID: "i1", Rating: 5},
			{ID: "f2", InteractionID: "i3", Rating: 2},
		},
	))
	require.NoError(t, store.SaveModelVersion(&types.ModelVersion{
		Version:      "1.0.100",
		TrainingDate: time.Now(),
		CreatedAt:    time.Now(),
	}))
	require.NoError(t, store.SaveUploadedModel(&types.UploadedModel{
		ID:                  "u1",
		UploadDate:          time.Now(),
		IncorporationStatus: types.IncorporationIncorporated,
	}))

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalInteractions)
	assert.Equal(t, 2, stats.UniqueDevices)
	assert.InDelta(t, 3.5, stats.AverageFeedbackRating, 0.001)
	require.NotEmpty(t, stats.TopIntents)
	assert.Equal(t, "lights_on", stats.TopIntents[0].Intent)
	assert.Equal(t, 2, stats.TopIntents[0].Count)
	assert.Equal(t, "1.0.100", stats.LatestModelVersion)
	assert.Equal(t, 1, stats.TotalModels)
	assert.Equal(t, 1, stats.IncorporatedUserModels)
}

func TestCommitHookFiresOnWrite(t *testing.T) {
	store := newTestStore(t)

	fired := 0
	store.OnCommit(func() { fired++ })

	require.NoError(t, store.SaveBatch([]*types.Interaction{
		interaction("i1", "dev-a", "hello", "greeting"),
	}, nil))
	assert.Equal(t, 1, fired)

	// Reads never fire hooks.
	_, err := store.ListInteractions()
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
}

func TestSnapshotIsRestorable(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveBatch([]*types.Interaction{
		interaction("i1", "dev-a", "hello", "greeting"),
	}, nil))

	var buf bytes.Buffer
	n, err := store.Snapshot(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	// A snapshot is a complete database file.
	path := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	restored, err := NewBoltStore(path)
	require.NoError(t, err)
	defer restored.Close()

	interactions, err := restored.ListInteractions()
	require.NoError(t, err)
	assert.Len(t, interactions, 1)
}
