package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cortexlab/fedhub/pkg/blob"
	"github.com/cortexlab/fedhub/pkg/errdefs"
	"github.com/cortexlab/fedhub/pkg/events"
	"github.com/cortexlab/fedhub/pkg/log"
	"github.com/cortexlab/fedhub/pkg/metrics"
	"github.com/cortexlab/fedhub/pkg/registry"
	"github.com/cortexlab/fedhub/pkg/types"
)

// multipartMemory caps the in-memory portion of upload parsing; the rest
// spills to temp files.
const multipartMemory = 8 << 20

// handleLearn ingests one batch of interactions and feedback. The batch
// commits atomically; a mirror copy lands in user_data best-effort.
func (s *Server) handleLearn(w http.ResponseWriter, r *http.Request) {
	var batch types.InteractionBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		respondError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	// An empty batch is accepted and writes nothing.
	now := time.Now()
	interactions := make([]*types.Interaction, 0, len(batch.Interactions))
	feedback := make([]*types.Feedback, 0, len(batch.Feedback))
	for i := range batch.Interactions {
		in := &batch.Interactions[i]
		if in.UserMessage == "" || in.DetectedIntent == "" {
			respondError(w, http.StatusBadRequest, "interaction missing userMessage or detectedIntent")
			return
		}
		if in.ID == "" {
			in.ID = uuid.NewString()
		}
		if in.DeviceID == "" {
			in.DeviceID = batch.DeviceID
		}
		in.CreatedAt = now

		// Feedback nested on the interaction splits into its own row.
		// Keying it by the interaction id keeps re-submission an upsert.
		if nested := in.Feedback; nested != nil {
			if nested.Rating < 1 || nested.Rating > 5 {
				respondError(w, http.StatusBadRequest, "feedback rating out of range 1..5")
				return
			}
			nested.InteractionID = in.ID
			if nested.ID == "" {
				nested.ID = in.ID
			}
			nested.CreatedAt = now
			feedback = append(feedback, nested)
			in.Feedback = nil
		}
		interactions = append(interactions, in)
	}

	for i := range batch.Feedback {
		f := &batch.Feedback[i]
		if f.InteractionID == "" {
			respondError(w, http.StatusBadRequest, "feedback missing interactionId")
			return
		}
		if f.Rating < 1 || f.Rating > 5 {
			respondError(w, http.StatusBadRequest, "feedback rating out of range 1..5")
			return
		}
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		f.CreatedAt = now
		feedback = append(feedback, f)
	}

	if err := s.store.SaveBatch(interactions, feedback); err != nil {
		log.WithComponent("api").Error().Err(err).Msg("batch save failed")
		respondError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	s.mirrorBatch(r, &batch)

	metrics.InteractionsIngested.Add(float64(len(interactions)))
	metrics.FeedbackIngested.Add(float64(len(feedback)))
	if s.broker != nil {
		s.broker.Publish(&events.Event{
			Type:    events.EventBatchIngested,
			Message: fmt.Sprintf("batch from %s: %d interactions, %d feedback", batch.DeviceID, len(interactions), len(feedback)),
		})
	}
	s.pipeline.EvaluateTriggers()

	version, downloadURL := s.latestPointer()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":            true,
		"message":            fmt.Sprintf("processed %d interactions, %d feedback", len(interactions), len(feedback)),
		"latestModelVersion": version,
		"modelDownloadURL":   downloadURL,
	})
}

// latestPointer names the newest published version for response envelopes.
// Empty strings when nothing is published yet.
func (s *Server) latestPointer() (version, downloadURL string) {
	v, err := s.reg.Latest()
	if err != nil {
		return "", ""
	}
	return v.Version, "/api/ai/models/" + v.Version
}

// mirrorBatch writes the raw batch to user_data. Mirror failures never fail
// the request; the store row is the source of truth.
func (s *Server) mirrorBatch(r *http.Request, batch *types.InteractionBatch) {
	if len(batch.Interactions) == 0 {
		return
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return
	}
	device := batch.DeviceID
	if device == "" {
		device = "unknown"
	}
	name := fmt.Sprintf("interactions_%s_%d.json", device, time.Now().UnixNano())
	if _, err := s.blobs.Put(r.Context(), blob.FolderUserData, name, bytes.NewReader(data)); err != nil {
		log.WithComponent("api").Warn().Err(err).Msg("user_data mirror write failed")
	}
}

// handleUploadModel accepts a client-trained model artifact as multipart
// form data under the "model" field.
func (s *Server) handleUploadModel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusBadRequest,
				fmt.Sprintf("upload exceeds %d bytes", s.cfg.MaxUploadBytes))
			return
		}
		respondError(w, http.StatusBadRequest, "malformed multipart body")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("model")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing model file field")
		return
	}
	defer file.Close()

	if ext := filepath.Ext(header.Filename); !strings.EqualFold(ext, s.cfg.ModelExt) {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("unsupported file extension %q, want %s", ext, s.cfg.ModelExt))
		return
	}

	id := uuid.NewString()
	name := id + "_" + filepath.Base(header.Filename)
	ref, err := s.blobs.Put(r.Context(), blob.FolderUploads, name, file)
	if err != nil {
		log.WithComponent("api").Error().Err(err).Msg("upload store failed")
		respondError(w, http.StatusBadGateway, "artifact store unavailable")
		return
	}

	upload := &types.UploadedModel{
		ID:                  id,
		DeviceID:            r.FormValue("deviceId"),
		AppVersion:          r.FormValue("appVersion"),
		Description:         r.FormValue("description"),
		BlobRef:             ref,
		FileSize:            header.Size,
		OriginalFilename:    filepath.Base(header.Filename),
		UploadDate:          time.Now(),
		IncorporationStatus: types.IncorporationPending,
		CreatedAt:           time.Now(),
	}
	if err := s.store.SaveUploadedModel(upload); err != nil {
		log.WithComponent("api").Error().Err(err).Msg("upload row save failed")
		respondError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	metrics.ModelsUploaded.Inc()
	if s.broker != nil {
		s.broker.Publish(&events.Event{
			Type:    events.EventUploadReceived,
			Message: "model upload " + id + " from " + upload.DeviceID,
		})
	}
	s.pipeline.EvaluateTriggers()

	log.WithComponent("api").Info().
		Str("upload_id", id).
		Str("device_id", upload.DeviceID).
		Int64("bytes", header.Size).
		Msg("model upload accepted")

	version, downloadURL := s.latestPointer()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":            true,
		"message":            "model received, incorporation pending",
		"modelId":            id,
		"latestModelVersion": version,
		"modelDownloadURL":   downloadURL,
	})
}

// handleDownloadModel serves a model version: 302 to a direct URL when the
// blob backend can mint one, streamed bytes otherwise.
func (s *Server) handleDownloadModel(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")

	res, err := s.reg.ResolveForDownload(r.Context(), version)
	if err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			metrics.ModelDownloads.WithLabelValues("not_found").Inc()
			respondError(w, http.StatusNotFound, "model version not found")
			return
		}
		log.WithComponent("api").Error().Err(err).Str("version", version).Msg("download resolution failed")
		respondError(w, http.StatusBadGateway, "artifact store unavailable")
		return
	}

	if res.Kind == registry.ResolveRedirect {
		metrics.ModelDownloads.WithLabelValues("redirect").Inc()
		http.Redirect(w, r, res.URL, http.StatusFound)
		return
	}

	defer res.Body.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+res.Filename+`"`)
	if res.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(res.Size, 10))
	}
	metrics.ModelDownloads.WithLabelValues("bytes").Inc()
	if _, err := io.Copy(w, res.Body); err != nil {
		log.WithComponent("api").Warn().Err(err).Str("version", version).Msg("download stream interrupted")
	}
}

// handleLatestModel reports the newest published version and where to get it.
func (s *Server) handleLatestModel(w http.ResponseWriter, r *http.Request) {
	v, err := s.reg.Latest()
	if err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			respondError(w, http.StatusNotFound, "no model published yet")
			return
		}
		respondError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":            true,
		"latestModelVersion": v.Version,
		"modelDownloadURL":   "/api/ai/models/" + v.Version,
		"accuracy":           v.Accuracy,
		"trainingDataSize":   v.TrainingDataSize,
		"trainingDate":       v.TrainingDate,
	})
}

// handleStats serves the aggregate statistics view.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		log.WithComponent("api").Error().Err(err).Msg("stats query failed")
		respondError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"stats":   stats,
	})
}

// healthResponse is the /health body.
type healthResponse struct {
	Status      string           `json:"status"`
	Database    string           `json:"database"`
	BlobStore   string           `json:"blob_store"`
	Scheduler   string           `json:"scheduler"`
	StorageMode string           `json:"storage_mode"`
	CycleState  types.CycleState `json:"cycle_state"`
	ModelCount  int              `json:"model_count"`
	Platform    string           `json:"platform"`
	Version     string           `json:"version,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	Memory      memoryStats      `json:"memory"`
}

type memoryStats struct {
	AllocMB      uint64 `json:"alloc_mb"`
	TotalAllocMB uint64 `json:"total_alloc_mb"`
	SysMB        uint64 `json:"sys_mb"`
	NumGC        uint32 `json:"num_gc"`
}

// handleHealth reports component health. Degraded components return 200
// with status "degraded"; the server keeps serving what it can.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "healthy",
		Database:    "ok",
		BlobStore:   "ok",
		Scheduler:   "ok",
		StorageMode: s.cfg.StorageMode,
		CycleState:  s.pipeline.State(),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
		Version:     s.cfg.Version,
		Timestamp:   time.Now(),
	}

	versions, err := s.store.ListModelVersions()
	if err != nil {
		resp.Database = "error: " + err.Error()
		resp.Status = "degraded"
		metrics.UpdateComponent("database", false, err.Error())
	} else {
		resp.ModelCount = len(versions)
		metrics.UpdateComponent("database", true, "")
	}

	if err := s.blobs.Healthy(r.Context()); err != nil {
		resp.BlobStore = "error: " + err.Error()
		resp.Status = "degraded"
		metrics.UpdateComponent("blob_store", false, err.Error())
	} else {
		metrics.UpdateComponent("blob_store", true, "")
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	resp.Memory = memoryStats{
		AllocMB:      m.Alloc / 1024 / 1024,
		TotalAllocMB: m.TotalAlloc / 1024 / 1024,
		SysMB:        m.Sys / 1024 / 1024,
		NumGC:        m.NumGC,
	}

	respondJSON(w, http.StatusOK, resp)
}
