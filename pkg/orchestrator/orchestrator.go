package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cortexlab/fedhub/pkg/blob"
	"github.com/cortexlab/fedhub/pkg/errdefs"
	"github.com/cortexlab/fedhub/pkg/events"
	"github.com/cortexlab/fedhub/pkg/log"
	"github.com/cortexlab/fedhub/pkg/metrics"
	"github.com/cortexlab/fedhub/pkg/registry"
	"github.com/cortexlab/fedhub/pkg/storage"
	"github.com/cortexlab/fedhub/pkg/trainer"
	"github.com/cortexlab/fedhub/pkg/types"
)

// Config is the orchestrator's slice of the server configuration.
type Config struct {
	ModelExt       string
	MinRows        int
	PendingTrigger int
	StaleHours     int
	NewRowsTrigger int
	RetainModels   int
}

// cycleTimeout bounds one full training cycle including publishes.
const cycleTimeout = 30 * time.Minute

// modelType names the published architecture in info documents.
const modelType = "tfidf_random_forest_ensemble"

// Orchestrator runs training cycles: collect, train, fuse, export,
// publish, retain. At most one cycle runs at a time; triggers raised while
// one runs coalesce into a single follow-up.
type Orchestrator struct {
	store   storage.Store
	blobs   blob.Storage
	trainer *trainer.Trainer
	reg     *registry.Registry
	broker  *events.Broker
	cfg     Config

	triggerCh   chan struct{}
	retentionCh chan struct{}
	stopCh      chan struct{}
	doneCh      chan struct{}

	mu           sync.RWMutex
	state        types.CycleState
	lastTraining time.Time
}

// New creates an orchestrator. lastTraining seeds from the newest stored
// model version so trigger staleness survives restarts.
func New(store storage.Store, blobs blob.Storage, tr *trainer.Trainer, reg *registry.Registry, broker *events.Broker, cfg Config) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		blobs:       blobs,
		trainer:     tr,
		reg:         reg,
		broker:      broker,
		cfg:         cfg,
		triggerCh:   make(chan struct{}, 1),
		retentionCh: make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		state:       types.CycleIdle,
	}
	if latest, err := store.LatestModelVersion(); err == nil {
		o.lastTraining = latest.TrainingDate
	}
	return o
}

// Start launches the cycle worker.
func (o *Orchestrator) Start() {
	go o.run()
	log.WithComponent("orchestrator").Info().Msg("orchestrator started")
}

// Stop waits for an in-flight cycle to finish.
func (o *Orchestrator) Stop() {
	close(o.stopCh)
	<-o.doneCh
}

func (o *Orchestrator) run() {
	defer close(o.doneCh)
	for {
		select {
		case <-o.triggerCh:
			if err := o.runCycle(); err != nil {
				log.WithComponent("orchestrator").Error().Err(err).Msg("training cycle failed")
			}
		case <-o.retentionCh:
			ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
			o.setState(types.CycleRetaining)
			o.runRetention(ctx)
			o.setState(types.CycleIdle)
			cancel()
		case <-o.stopCh:
			return
		}
	}
}

// Kick requests a training cycle. Non-blocking: while a cycle runs, any
// number of kicks collapse into one queued follow-up.
func (o *Orchestrator) Kick() {
	select {
	case o.triggerCh <- struct{}{}:
	default:
	}
}

// State reports the current pipeline position for /health.
func (o *Orchestrator) State() types.CycleState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// LastTraining is the training date of the newest published model.
func (o *Orchestrator) LastTraining() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastTraining
}

func (o *Orchestrator) setState(s types.CycleState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// KickRetention requests a standalone retention sweep through the cycle
// worker, so a sweep never races a publish.
func (o *Orchestrator) KickRetention() {
	select {
	case o.retentionCh <- struct{}{}:
	default:
	}
}

// EvaluateTriggers checks the training policy and kicks when it fires:
//
//	pending >= PendingTrigger, or
//	>= StaleHours since last training AND pending > 0, or
//	>= NewRowsTrigger interactions since last training AND pending > 0.
//
// Returns whether a cycle was requested. Store errors are logged and
// treated as "do not fire".
func (o *Orchestrator) EvaluateTriggers() bool {
	fire, why, err := o.shouldTrain(false)
	if err != nil {
		log.WithComponent("orchestrator").Error().Err(err).Msg("trigger evaluation failed")
		return false
	}
	if fire {
		log.WithComponent("orchestrator").Info().Str("reason", why).Msg("training triggered")
		o.Kick()
	}
	return fire
}

// EvaluateDaily is the scheduler's 02:00 check: the standard policy, plus a
// catch-up clause that drops the new-rows threshold to one when training is
// a day stale. A cycle still needs at least one pending upload.
func (o *Orchestrator) EvaluateDaily() (bool, error) {
	fire, why, err := o.shouldTrain(true)
	if err != nil {
		return false, err
	}
	if fire {
		log.WithComponent("orchestrator").Info().Str("reason", why).Msg("daily training triggered")
		o.Kick()
	}
	return fire, nil
}

func (o *Orchestrator) shouldTrain(daily bool) (bool, string, error) {
	pending, err := o.store.CountUploads(types.IncorporationPending)
	if err != nil {
		return false, "", err
	}
	last := o.LastTraining()
	newRows, err := o.store.CountInteractionsSince(last)
	if err != nil {
		return false, "", err
	}

	switch {
	case pending >= o.cfg.PendingTrigger:
		return true, fmt.Sprintf("pending uploads %d", pending), nil
	case pending > 0 && time.Since(last) >= time.Duration(o.cfg.StaleHours)*time.Hour:
		return true, fmt.Sprintf("stale %.0fh with %d pending", time.Since(last).Hours(), pending), nil
	case pending > 0 && newRows >= o.cfg.NewRowsTrigger:
		return true, fmt.Sprintf("%d new interactions with %d pending", newRows, pending), nil
	case daily && pending > 0 && newRows > 0 && time.Since(last) >= 24*time.Hour:
		return true, fmt.Sprintf("daily catch-up, %d new interactions", newRows), nil
	}
	return false, "", nil
}

// runCycle executes one full training cycle.
func (o *Orchestrator) runCycle() error {
	ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
	defer cancel()

	timer := metrics.NewTimer()
	started := time.Now()
	o.publish(events.EventCycleStarted, "training cycle started", nil)

	// 1. Collect.
	o.setState(types.CycleCollecting)
	o.refreshStopwords(ctx)

	examples, err := o.collectExamples(ctx)
	if err != nil {
		o.fail(nil, err)
		return err
	}
	if len(examples) < o.cfg.MinRows {
		o.setState(types.CycleIdle)
		metrics.TrainingCycles.WithLabelValues("aborted").Inc()
		msg := fmt.Sprintf("insufficient training data: %d rows, need %d", len(examples), o.cfg.MinRows)
		o.publish(events.EventCycleAborted, msg, nil)
		log.WithComponent("orchestrator").Warn().
			Int("rows", len(examples)).
			Int("min", o.cfg.MinRows).
			Msg("cycle aborted, uploads stay pending")
		return nil
	}

	// 2. Claim pending uploads.
	pending, err := o.store.ListPendingUploads()
	if err != nil {
		o.fail(nil, err)
		return err
	}
	claimed := make([]string, len(pending))
	for i, u := range pending {
		claimed[i] = u.ID
	}
	if err := o.store.UpdateUploadStatuses(claimed, types.IncorporationProcessing, ""); err != nil {
		o.fail(nil, err)
		return err
	}

	// From here on, any failure before the rows land must roll the
	// claimed uploads back to pending.

	// 3. Train the base model.
	o.setState(types.CycleTraining)
	result, err := o.trainer.Train(examples)
	if err != nil {
		o.fail(claimed, err)
		return err
	}

	version := "1.0." + strconv.FormatInt(time.Now().Unix(), 10)

	// 4. Fuse uploads into the ensemble.
	o.setState(types.CycleFusing)
	members, placeholders, unusable := o.fuseUploads(ctx, pending, result.Classifier)

	ensemble, err := trainer.NewEnsemble(result.Classifier, members)
	if err != nil {
		o.fail(claimed, err)
		return err
	}

	// 5. Export the artifact.
	o.setState(types.CycleExporting)
	artifactBytes, exportErr := o.export(ensemble, result, version, started)
	if artifactBytes == nil {
		o.fail(claimed, exportErr)
		return exportErr
	}

	// The predecessor row is still the newest at this point; the new row
	// only lands after its blobs do.
	var comparison types.ModelComparison
	if prev, err := o.store.LatestModelVersion(); err == nil {
		comparison = types.ModelComparison{
			PreviousVersion: prev.Version,
			AccuracyDelta:   result.Accuracy - prev.Accuracy,
			Improvement:     result.Accuracy > prev.Accuracy,
		}
	}

	profile := types.TrainingDataProfile{IntentDistribution: make(map[string]int)}
	for _, ex := range examples {
		profile.IntentDistribution[ex.Intent]++
	}
	if rows, err := o.store.ListFeedback(); err == nil {
		profile.FeedbackSamples = len(rows)
		for _, f := range rows {
			if f.Rating >= trainer.HighRatingCutoff {
				profile.PositiveFeedback++
			}
		}
	}

	incorporatedModels := make([]types.IncorporatedModel, 0, len(pending))
	for _, u := range pending {
		if _, bad := unusable[u.ID]; bad {
			continue
		}
		incorporatedModels = append(incorporatedModels, types.IncorporatedModel{
			DeviceID: u.DeviceID,
			Weight:   1,
			Size:     u.FileSize,
		})
	}

	changes := []string{fmt.Sprintf("retrained base model on %d examples", len(examples))}
	if n := len(incorporatedModels); n > 0 {
		changes = append(changes, fmt.Sprintf("incorporated %d client models", n))
	}
	if placeholders > 0 {
		changes = append(changes, fmt.Sprintf("substituted %d undecodable uploads with placeholders", placeholders))
	}
	if len(unusable) > 0 {
		changes = append(changes, fmt.Sprintf("marked %d uploads failed", len(unusable)))
	}

	summary := &types.TrainingSummary{
		Version:            version,
		ModelType:          modelType,
		Accuracy:           result.Accuracy,
		TrainingDataSize:   len(examples),
		TrainingDate:       started,
		Classes:            result.Classes,
		EnsembleSize:       len(ensemble.Members),
		IncorporatedIDs:    claimed,
		IncorporatedModels: incorporatedModels,
		PlaceholderCount:   placeholders,
		Comparison:         comparison,
		TrainingData:       profile,
		Changes:            changes,
		DurationSeconds:    time.Since(started).Seconds(),
	}
	if exportErr != nil {
		summary.ExportError = exportErr.Error()
	}
	summary.SummaryText = summaryText(summary)

	// 6. Publish: every blob lands before any row is written.
	o.setState(types.CyclePublishing)
	trainedRef, err := o.publishBlobs(ctx, version, artifactBytes, summary)
	if err != nil {
		o.fail(claimed, err)
		return err
	}

	row := &types.ModelVersion{
		Version:          version,
		BlobRef:          trainedRef,
		Accuracy:         result.Accuracy,
		TrainingDataSize: len(examples),
		TrainingDate:     started,
		CreatedAt:        time.Now(),
	}
	if err := o.store.SaveModelVersion(row); err != nil {
		o.fail(claimed, err)
		return err
	}
	record := &types.EnsembleRecord{
		EnsembleVersion: version,
		Description:     fmt.Sprintf("soft-voting ensemble of base + %d uploaded models", len(members)),
		ComponentModels: ensemble.Components(),
		CreatedAt:       time.Now(),
	}
	if err := o.store.SaveEnsembleRecord(record); err != nil {
		log.WithComponent("orchestrator").Error().Err(err).Msg("ensemble record write failed")
	}

	incorporated := make([]string, 0, len(claimed))
	for _, id := range claimed {
		if _, bad := unusable[id]; !bad {
			incorporated = append(incorporated, id)
		}
	}
	if err := o.store.UpdateUploadStatuses(incorporated, types.IncorporationIncorporated, version); err != nil {
		log.WithComponent("orchestrator").Error().Err(err).Msg("upload status update failed")
	}
	failedIDs := make([]string, 0, len(unusable))
	for id := range unusable {
		failedIDs = append(failedIDs, id)
	}
	sort.Strings(failedIDs)
	if err := o.store.UpdateUploadStatuses(failedIDs, types.IncorporationFailed, ""); err != nil {
		log.WithComponent("orchestrator").Error().Err(err).Msg("upload failure marking failed")
	}

	// 7. Finish up.
	o.reg.InvalidateCache()
	o.mu.Lock()
	o.lastTraining = started
	o.mu.Unlock()

	metrics.TrainingCycles.WithLabelValues("published").Inc()
	timer.ObserveDuration(metrics.TrainingDuration)
	o.publish(events.EventModelPublished, "model "+version+" published", map[string]string{
		"version":  version,
		"accuracy": fmt.Sprintf("%.4f", result.Accuracy),
	})
	log.WithComponent("orchestrator").Info().
		Str("version", version).
		Float64("accuracy", result.Accuracy).
		Int("rows", len(examples)).
		Int("members", len(ensemble.Members)).
		Int("placeholders", placeholders).
		Msg("model published")

	// 8. Retention.
	o.setState(types.CycleRetaining)
	o.runRetention(ctx)

	o.setState(types.CycleIdle)
	return nil
}

// fail rolls claimed uploads back to pending and records the failed cycle.
func (o *Orchestrator) fail(claimed []string, err error) {
	if len(claimed) > 0 {
		if rbErr := o.store.UpdateUploadStatuses(claimed, types.IncorporationPending, ""); rbErr != nil {
			log.WithComponent("orchestrator").Error().Err(rbErr).Msg("upload rollback failed")
		}
	}
	o.setState(types.CycleFailed)
	metrics.TrainingCycles.WithLabelValues("failed").Inc()
	o.publish(events.EventCycleFailed, err.Error(), nil)
	o.setState(types.CycleIdle)
}

func (o *Orchestrator) publish(t events.EventType, msg string, meta map[string]string) {
	if o.broker == nil {
		return
	}
	o.broker.Publish(&events.Event{Type: t, Message: msg, Metadata: meta})
}

// refreshStopwords applies the optional nltk_data override.
func (o *Orchestrator) refreshStopwords(ctx context.Context) {
	data, err := o.blobs.GetBytes(ctx, blob.MakeRef(blob.SchemeBlob, blob.FolderNLTKData+"/stopwords_english.txt"))
	if err != nil {
		if !errors.Is(err, errdefs.ErrNotFound) {
			log.WithComponent("orchestrator").Debug().Err(err).Msg("stopword override unavailable")
		}
		return
	}
	words := strings.Split(string(data), "\n")
	o.trainer.Preprocessor().SetStopwords(words)
	log.WithComponent("orchestrator").Info().Int("words", len(words)).Msg("stopword override applied")
}

// collectExamples joins interactions with feedback, merges the user_data
// mirror, and derives sample weights.
func (o *Orchestrator) collectExamples(ctx context.Context) ([]trainer.Example, error) {
	interactions, err := o.store.ListInteractions()
	if err != nil {
		return nil, err
	}
	feedback, err := o.store.ListFeedback()
	if err != nil {
		return nil, err
	}
	fbByID := make(map[string]*types.Feedback, len(feedback))
	for _, f := range feedback {
		fbByID[f.InteractionID] = f
	}

	seen := make(map[string]struct{}, len(interactions))
	var examples []trainer.Example
	add := func(in *types.Interaction) {
		if in.ID == "" || in.UserMessage == "" || in.DetectedIntent == "" {
			return // strict schema: unusable rows are dropped
		}
		if _, dup := seen[in.ID]; dup {
			return
		}
		seen[in.ID] = struct{}{}

		weight := trainer.WeightDefault
		if f, ok := fbByID[in.ID]; ok {
			weight = trainer.WeightFeedback
			if f.Rating >= trainer.HighRatingCutoff {
				weight = trainer.WeightHighRating
			}
		}
		examples = append(examples, trainer.Example{
			Text:   in.UserMessage,
			Intent: in.DetectedIntent,
			Weight: weight,
		})
	}

	for _, in := range interactions {
		add(in)
	}

	// The user_data mirror backstops rows the store lost (snapshot
	// restore races, degraded-mode boots). Store rows win on conflict.
	objects, err := o.blobs.List(ctx, blob.FolderUserData)
	if err != nil {
		log.WithComponent("orchestrator").Warn().Err(err).Msg("user_data listing failed, training on store only")
		return examples, nil
	}
	for _, obj := range objects {
		data, err := o.blobs.GetBytes(ctx, blob.MakeRef(blob.SchemeBlob, obj.Path))
		if err != nil {
			log.WithComponent("orchestrator").Warn().Err(err).Str("object", obj.Path).Msg("user_data fetch failed")
			continue
		}
		var batch types.InteractionBatch
		if err := json.Unmarshal(data, &batch); err != nil {
			log.WithComponent("orchestrator").Warn().Str("object", obj.Path).Msg("user_data blob unparsable, skipped")
			continue
		}
		for i := range batch.Interactions {
			add(&batch.Interactions[i])
		}
	}
	return examples, nil
}

// fuseUploads decodes each claimed upload into an ensemble member,
// substituting placeholders for unreadable artifacts. Returns the members,
// the placeholder count, and the set of upload ids that could not be used
// at all.
func (o *Orchestrator) fuseUploads(ctx context.Context, uploads []*types.UploadedModel, base *trainer.Classifier) ([]trainer.Member, int, map[string]struct{}) {
	var members []trainer.Member
	placeholders := 0
	unusable := make(map[string]struct{})

	for _, u := range uploads {
		member, isPlaceholder, err := o.memberForUpload(ctx, u, base)
		if err != nil {
			log.WithComponent("orchestrator").Error().Err(err).Str("upload_id", u.ID).Msg("upload unusable")
			unusable[u.ID] = struct{}{}
			continue
		}
		if isPlaceholder {
			placeholders++
		}
		members = append(members, member)
	}
	return members, placeholders, unusable
}

func (o *Orchestrator) memberForUpload(ctx context.Context, u *types.UploadedModel, base *trainer.Classifier) (trainer.Member, bool, error) {
	data, err := o.blobs.GetBytes(ctx, u.BlobRef)
	if err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			return trainer.Member{}, false, err
		}
		// Transient fetch trouble still gets a placeholder so the
		// cycle result does not depend on blob-store weather.
		return o.placeholderMember(u, base)
	}

	artifact, err := trainer.DecodeArtifact(bytes.NewReader(data))
	if err != nil {
		log.WithComponent("orchestrator").Warn().
			Str("upload_id", u.ID).
			Str("filename", u.OriginalFilename).
			Msg("artifact undecodable, substituting placeholder")
		return o.placeholderMember(u, base)
	}
	clf, err := artifact.BaseClassifier()
	if err != nil {
		return o.placeholderMember(u, base)
	}
	// Class or vocabulary drift also means the upload cannot vote.
	if len(clf.Classes) != len(base.Classes) || clf.Vectorizer.Features() != base.Vectorizer.Features() {
		return o.placeholderMember(u, base)
	}
	for i := range clf.Classes {
		if clf.Classes[i] != base.Classes[i] {
			return o.placeholderMember(u, base)
		}
	}

	return trainer.Member{
		Kind:   types.ComponentUploaded,
		Source: u.ID,
		Weight: 1,
		Model:  clf,
	}, false, nil
}

func (o *Orchestrator) placeholderMember(u *types.UploadedModel, base *trainer.Classifier) (trainer.Member, bool, error) {
	h := fnv.New64a()
	h.Write([]byte(u.ID))
	clf, err := trainer.NewPlaceholder(base, u.ID, int64(h.Sum64()))
	if err != nil {
		return trainer.Member{}, false, err
	}
	return trainer.Member{
		Kind:   types.ComponentPlaceholder,
		Source: u.ID,
		Weight: 1,
		Model:  clf,
	}, true, nil
}

// export serializes the ensemble. On failure it falls back to a base-only
// artifact and reports the original error alongside the usable bytes; only
// a failure of the fallback too returns nil bytes.
func (o *Orchestrator) export(e *trainer.Ensemble, result *trainer.Result, version string, trainedAt time.Time) ([]byte, error) {
	var buf bytes.Buffer
	artifact := trainer.ArtifactFromEnsemble(e, version, result.Accuracy, result.TrainSize, trainedAt)
	err := trainer.EncodeArtifact(&buf, artifact)
	if err == nil {
		return buf.Bytes(), nil
	}
	log.WithComponent("orchestrator").Error().Err(err).Msg("ensemble export failed, publishing base model copy")

	baseOnly, memberErr := trainer.NewEnsemble(result.Classifier, nil)
	if memberErr != nil {
		return nil, memberErr
	}
	buf.Reset()
	fallback := trainer.ArtifactFromEnsemble(baseOnly, version, result.Accuracy, result.TrainSize, trainedAt)
	if fbErr := trainer.EncodeArtifact(&buf, fallback); fbErr != nil {
		return nil, fbErr
	}
	return buf.Bytes(), err
}

// publishBlobs lands every artifact and report. Returns the trained-copy
// ref that the model_versions row records.
func (o *Orchestrator) publishBlobs(ctx context.Context, version string, artifact []byte, summary *types.TrainingSummary) (string, error) {
	name := "model_" + version + o.cfg.ModelExt

	trainedRef, err := o.blobs.Put(ctx, blob.FolderTrained, name, bytes.NewReader(artifact))
	if err != nil {
		return "", fmt.Errorf("publish trained artifact: %w", err)
	}
	if _, err := o.blobs.Put(ctx, blob.FolderBaseModel, name, bytes.NewReader(artifact)); err != nil {
		return "", fmt.Errorf("publish versioned base copy: %w", err)
	}
	if _, err := o.blobs.Put(ctx, blob.FolderBaseModel, "model_latest"+o.cfg.ModelExt, bytes.NewReader(artifact)); err != nil {
		return "", fmt.Errorf("publish latest pointer: %w", err)
	}

	info, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", err
	}
	for _, target := range []struct{ folder, name string }{
		{blob.FolderBaseModel, "latest_model_info.json"},
		{blob.FolderBaseModel, "model_info_" + version + ".json"},
		{blob.FolderModelInfo, "model_" + version + "_update.json"},
	} {
		if _, err := o.blobs.Put(ctx, target.folder, target.name, bytes.NewReader(info)); err != nil {
			return "", fmt.Errorf("publish %s/%s: %w", target.folder, target.name, err)
		}
	}

	report := renderReport(summary)
	if _, err := o.blobs.Put(ctx, blob.FolderModelInfo, "model_"+version+"_update.md", strings.NewReader(report)); err != nil {
		return "", fmt.Errorf("publish report: %w", err)
	}
	return trainedRef, nil
}

// summaryText renders the one-paragraph description embedded in the info
// documents.
func summaryText(s *types.TrainingSummary) string {
	text := fmt.Sprintf("Model %s: %d-member %s trained on %d examples across %d intents, accuracy %.1f%%.",
		s.Version, s.EnsembleSize, s.ModelType, s.TrainingDataSize, len(s.Classes), s.Accuracy*100)
	if s.Comparison.PreviousVersion != "" {
		text += fmt.Sprintf(" Accuracy %+.1f%% against %s.",
			s.Comparison.AccuracyDelta*100, s.Comparison.PreviousVersion)
	}
	return text
}

// renderReport produces the human-readable training report.
func renderReport(s *types.TrainingSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Model Update %s\n\n", s.Version)
	fmt.Fprintf(&b, "%s\n\n", s.SummaryText)
	fmt.Fprintf(&b, "Trained: %s\n\n", s.TrainingDate.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Model type: %s\n", s.ModelType)
	fmt.Fprintf(&b, "- Accuracy: %.4f\n", s.Accuracy)
	if s.Comparison.PreviousVersion != "" {
		fmt.Fprintf(&b, "- Previous version: %s (accuracy %+.4f)\n",
			s.Comparison.PreviousVersion, s.Comparison.AccuracyDelta)
	}
	fmt.Fprintf(&b, "- Training rows: %d (%d with feedback, %d positive)\n",
		s.TrainingDataSize, s.TrainingData.FeedbackSamples, s.TrainingData.PositiveFeedback)
	fmt.Fprintf(&b, "- Intent classes: %d\n", len(s.Classes))
	fmt.Fprintf(&b, "- Ensemble members: %d (placeholders: %d)\n", s.EnsembleSize, s.PlaceholderCount)
	fmt.Fprintf(&b, "- Duration: %.1fs\n", s.DurationSeconds)

	if len(s.IncorporatedModels) > 0 {
		b.WriteString("\n## Incorporated client models\n\n")
		for _, m := range s.IncorporatedModels {
			fmt.Fprintf(&b, "- device %s, weight %.1f, %d bytes\n", m.DeviceID, m.Weight, m.Size)
		}
	}
	if len(s.Changes) > 0 {
		b.WriteString("\n## Changes\n\n")
		for _, c := range s.Changes {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if s.ExportError != "" {
		fmt.Fprintf(&b, "\nExport fell back to the base model: %s\n", s.ExportError)
	}
	return b.String()
}

// runRetention keeps the newest RetainModels versions. The 1.0.0 seed row
// and everything under base_model/ are never touched. Per-item failures
// are logged and skipped so one stuck blob cannot wedge the sweep.
func (o *Orchestrator) runRetention(ctx context.Context) {
	versions, err := o.store.ListModelVersions()
	if err != nil {
		log.WithComponent("orchestrator").Error().Err(err).Msg("retention listing failed")
		return
	}

	var candidates []*types.ModelVersion
	for _, v := range versions {
		if v.Version == registry.BaseVersion {
			continue
		}
		candidates = append(candidates, v)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	if len(candidates) <= o.cfg.RetainModels {
		return
	}

	removed := 0
	for _, v := range candidates[o.cfg.RetainModels:] {
		if ref, err := blob.ParseRef(v.BlobRef); err == nil &&
			!strings.HasPrefix(ref.Path, blob.FolderBaseModel+"/") {
			if err := o.blobs.Delete(ctx, v.BlobRef); err != nil {
				log.WithComponent("orchestrator").Warn().Err(err).Str("version", v.Version).Msg("retention blob delete failed, skipping row")
				continue
			}
		}
		if err := o.store.DeleteModelVersion(v.Version); err != nil {
			log.WithComponent("orchestrator").Warn().Err(err).Str("version", v.Version).Msg("retention row delete failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		o.publish(events.EventRetentionSwept, fmt.Sprintf("retention removed %d model versions", removed), nil)
		log.WithComponent("orchestrator").Info().Int("removed", removed).Msg("retention sweep complete")
	}
}
