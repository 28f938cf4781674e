package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexlab/fedhub/pkg/blob"
	"github.com/cortexlab/fedhub/pkg/client"
	"github.com/cortexlab/fedhub/pkg/registry"
	"github.com/cortexlab/fedhub/pkg/storage"
	"github.com/cortexlab/fedhub/pkg/types"
)

type fakePipeline struct {
	evaluations int
	state       types.CycleState
}

func (f *fakePipeline) EvaluateTriggers() bool {
	f.evaluations++
	return false
}

func (f *fakePipeline) State() types.CycleState {
	if f.state == "" {
		return types.CycleIdle
	}
	return f.state
}

type apiFixture struct {
	srv      *httptest.Server
	client   *client.Client
	store    storage.Store
	blobs    blob.Storage
	pipeline *fakePipeline
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	blobs, err := blob.NewLocal(t.TempDir())
	require.NoError(t, err)

	pipeline := &fakePipeline{}
	reg := registry.New(store, blobs, ".mlmodel")
	server := NewServer(store, blobs, reg, pipeline, nil, Config{
		Listen:         ":0",
		ModelExt:       ".mlmodel",
		MaxUploadBytes: 1 << 20,
		StorageMode:    "local",
	})

	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)

	return &apiFixture{
		srv:      srv,
		client:   client.New(srv.URL),
		store:    store,
		blobs:    blobs,
		pipeline: pipeline,
	}
}

func TestLearnIngestsBatch(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	err := f.client.Learn(ctx, &types.InteractionBatch{
		DeviceID: "dev-a",
		Interactions: []types.Interaction{
			{UserMessage: "turn on the lights", DetectedIntent: "lights_control"},
			{ID: "fixed-id", UserMessage: "what time is it", DetectedIntent: "time_query"},
		},
		Feedback: []types.Feedback{
			{InteractionID: "fixed-id", Rating: 5},
		},
	})
	require.NoError(t, err)

	interactions, err := f.store.ListInteractions()
	require.NoError(t, err)
	require.Len(t, interactions, 2)
	for _, in := range interactions {
		assert.NotEmpty(t, in.ID, "missing ids are generated")
		assert.Equal(t, "dev-a", in.DeviceID, "device id inherited from batch")
	}

	feedback, err := f.store.ListFeedback()
	require.NoError(t, err)
	assert.Len(t, feedback, 1)

	// Trigger policy evaluated after the ingest.
	assert.Equal(t, 1, f.pipeline.evaluations)

	// Mirror copy landed in user_data.
	objects, err := f.blobs.List(context.Background(), blob.FolderUserData)
	require.NoError(t, err)
	assert.Len(t, objects, 1)
	assert.Contains(t, objects[0].Name, "dev-a")
}

func TestLearnValidation(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"missing intent", `{"interactions":[{"userMessage":"hello"}]}`},
		{"bad rating", `{"feedback":[{"interactionId":"x","rating":9}]}`},
		{"bad nested rating", `{"interactions":[{"userMessage":"hi","detectedIntent":"greeting","feedback":{"rating":0}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(f.srv.URL+"/api/ai/learn", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	// Nothing was stored.
	interactions, err := f.store.ListInteractions()
	require.NoError(t, err)
	assert.Empty(t, interactions)
}

func TestLearnAcceptsEmptyBatch(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Post(f.srv.URL+"/api/ai/learn", "application/json",
		strings.NewReader(`{"deviceId":"dev-a","interactions":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success bool `json:"success"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)

	interactions, err := f.store.ListInteractions()
	require.NoError(t, err)
	assert.Empty(t, interactions)
}

func TestLearnNestedFeedback(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	err := f.client.Learn(ctx, &types.InteractionBatch{
		DeviceID: "dev-a",
		Interactions: []types.Interaction{
			{
				ID:             "i1",
				UserMessage:    "turn on the lights",
				DetectedIntent: "lights_control",
				Feedback:       &types.Feedback{Rating: 5, Comment: "spot on"},
			},
		},
	})
	require.NoError(t, err)

	feedback, err := f.store.ListFeedback()
	require.NoError(t, err)
	require.Len(t, feedback, 1)
	assert.Equal(t, "i1", feedback[0].InteractionID)
	assert.Equal(t, 5, feedback[0].Rating)
	assert.Equal(t, "spot on", feedback[0].Comment)

	// The stored interaction row is normalized: feedback lives in its own
	// bucket, not inline.
	interactions, err := f.store.ListInteractions()
	require.NoError(t, err)
	require.Len(t, interactions, 1)
	assert.Nil(t, interactions[0].Feedback)
}

func TestLearnResubmissionUpserts(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	batch := &types.InteractionBatch{
		DeviceID: "dev-a",
		Interactions: []types.Interaction{
			{
				ID:             "i1",
				UserMessage:    "turn on the lights",
				DetectedIntent: "lights_control",
				Feedback:       &types.Feedback{Rating: 4},
			},
		},
	}
	require.NoError(t, f.client.Learn(ctx, batch))
	require.NoError(t, f.client.Learn(ctx, batch))

	interactions, err := f.store.ListInteractions()
	require.NoError(t, err)
	assert.Len(t, interactions, 1)

	feedback, err := f.store.ListFeedback()
	require.NoError(t, err)
	assert.Len(t, feedback, 1)
}

func TestUploadModel(t *testing.T) {
	f := newAPIFixture(t)

	result, err := f.client.UploadModel(context.Background(), "client.mlmodel", "dev-a", []byte("model-bytes"))
	require.NoError(t, err)
	assert.NotEmpty(t, result.ModelID)

	upload, err := f.store.GetUploadedModel(result.ModelID)
	require.NoError(t, err)
	assert.Equal(t, "dev-a", upload.DeviceID)
	assert.Equal(t, types.IncorporationPending, upload.IncorporationStatus)
	assert.Equal(t, int64(len("model-bytes")), upload.FileSize)

	// The artifact bytes are retrievable through the stored ref.
	data, err := f.blobs.GetBytes(context.Background(), upload.BlobRef)
	require.NoError(t, err)
	assert.Equal(t, []byte("model-bytes"), data)

	assert.Equal(t, 1, f.pipeline.evaluations)
}

func TestUploadRejectsWrongExtension(t *testing.T) {
	f := newAPIFixture(t)

	_, err := f.client.UploadModel(context.Background(), "model.zip", "dev-a", []byte("x"))
	require.Error(t, err)

	uploads, err := f.store.ListPendingUploads()
	require.NoError(t, err)
	assert.Empty(t, uploads)
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	f := newAPIFixture(t)

	big := bytes.Repeat([]byte("x"), 2<<20) // over the 1 MiB test cap
	_, err := f.client.UploadModel(context.Background(), "big.mlmodel", "dev-a", big)
	assert.Error(t, err)
}

func TestDownloadStreamsLocalModel(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	ref, err := f.blobs.Put(ctx, blob.FolderTrained, "model_1.0.100.mlmodel", bytes.NewReader([]byte("artifact")))
	require.NoError(t, err)
	require.NoError(t, f.store.SaveModelVersion(&types.ModelVersion{
		Version:   "1.0.100",
		BlobRef:   ref,
		CreatedAt: time.Now(),
	}))

	var buf bytes.Buffer
	n, err := f.client.DownloadModel(ctx, "1.0.100", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len("artifact")), n)
	assert.Equal(t, "artifact", buf.String())
}

func TestDownloadUnknownVersion404s(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.srv.URL + "/api/ai/models/9.9.9")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLatestModel(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.srv.URL + "/api/ai/latest-model")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, f.store.SaveModelVersion(&types.ModelVersion{
		Version:   "1.0.100",
		BlobRef:   "blob:trained/model_1.0.100.mlmodel",
		Accuracy:  0.91,
		CreatedAt: time.Now(),
	}))

	latest, err := f.client.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.0.100", latest.LatestModelVersion)
	assert.Equal(t, "/api/ai/models/1.0.100", latest.ModelDownloadURL)
	assert.InDelta(t, 0.91, latest.Accuracy, 0.001)
}

func TestStats(t *testing.T) {
	f := newAPIFixture(t)

	require.NoError(t, f.client.Learn(context.Background(), &types.InteractionBatch{
		DeviceID: "dev-a",
		Interactions: []types.Interaction{
			{UserMessage: "turn on the lights", DetectedIntent: "lights_control"},
		},
	}))

	stats, err := f.client.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalInteractions)
	assert.Equal(t, 1, stats.UniqueDevices)
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	f.pipeline.state = types.CycleTraining

	require.NoError(t, f.client.Healthy(context.Background()))

	resp, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Status     string `json:"status"`
		Database   string `json:"database"`
		BlobStore  string `json:"blob_store"`
		Scheduler  string `json:"scheduler"`
		CycleState string `json:"cycle_state"`
		Memory     struct {
			SysMB uint64 `json:"sys_mb"`
		} `json:"memory"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "ok", body.Database)
	assert.Equal(t, "ok", body.BlobStore)
	assert.Equal(t, "ok", body.Scheduler)
	assert.Equal(t, string(types.CycleTraining), body.CycleState)
	assert.Greater(t, body.Memory.SysMB, uint64(0))
}

func TestMetricsExposition(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
