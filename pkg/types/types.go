package types

import "time"

// Interaction is one client/assistant exchange reported by a device.
// The id is client-generated; re-submitting the same id is an upsert.
// Feedback may arrive nested on the interaction; ingestion splits it into
// its own row and stores the interaction without it.
type Interaction struct {
	ID              string    `json:"id"`
	DeviceID        string    `json:"deviceId"`
	Timestamp       time.Time `json:"timestamp"`
	UserMessage     string    `json:"userMessage"`
	AIResponse      string    `json:"aiResponse"`
	DetectedIntent  string    `json:"detectedIntent"`
	ConfidenceScore float64   `json:"confidenceScore"`
	AppVersion      string    `json:"appVersion"`
	ModelVersion    string    `json:"modelVersion"`
	OSVersion       string    `json:"osVersion"`
	Feedback        *Feedback `json:"feedback,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Feedback is an optional user rating attached to an interaction.
type Feedback struct {
	ID            string    `json:"id"`
	InteractionID string    `json:"interactionId"`
	Rating        int       `json:"rating"` // 1..5
	Comment       string    `json:"comment,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// IncorporationStatus tracks an uploaded model through the training pipeline
type IncorporationStatus string

const (
	IncorporationPending      IncorporationStatus = "pending"
	IncorporationProcessing   IncorporationStatus = "processing"
	IncorporationIncorporated IncorporationStatus = "incorporated"
	IncorporationFailed       IncorporationStatus = "failed"
)

// UploadedModel is a client-trained model artifact awaiting fusion.
type UploadedModel struct {
	ID                    string              `json:"id"`
	DeviceID              string              `json:"deviceId"`
	AppVersion            string              `json:"appVersion"`
	Description           string              `json:"description,omitempty"`
	BlobRef               string              `json:"blobRef"`
	FileSize              int64               `json:"fileSize"`
	OriginalFilename      string              `json:"originalFilename"`
	UploadDate            time.Time           `json:"uploadDate"`
	IncorporationStatus   IncorporationStatus `json:"incorporationStatus"`
	IncorporatedInVersion string              `json:"incorporatedInVersion,omitempty"`
	CreatedAt             time.Time           `json:"createdAt"`
}

// ModelVersion is a published model artifact and its training metadata.
type ModelVersion struct {
	Version          string    `json:"version"`
	BlobRef          string    `json:"blobRef"`
	Accuracy         float64   `json:"accuracy"`
	TrainingDataSize int       `json:"trainingDataSize"`
	TrainingDate     time.Time `json:"trainingDate"`
	CreatedAt        time.Time `json:"createdAt"`
}

// EnsembleComponentKind identifies the origin of an ensemble member
type EnsembleComponentKind string

const (
	ComponentBase        EnsembleComponentKind = "base"
	ComponentUploaded    EnsembleComponentKind = "uploaded"
	ComponentPlaceholder EnsembleComponentKind = "placeholder"
)

// EnsembleComponent is one weighted member of a published ensemble.
type EnsembleComponent struct {
	Kind   EnsembleComponentKind `json:"kind"`
	Source string                `json:"source"` // upload id, or "trained" for base
	Weight float64               `json:"weight"`
}

// EnsembleRecord describes the composition of a published ensemble version.
type EnsembleRecord struct {
	EnsembleVersion string              `json:"ensembleVersion"`
	Description     string              `json:"description"`
	ComponentModels []EnsembleComponent `json:"componentModels"`
	CreatedAt       time.Time           `json:"createdAt"`
}

// IntentCount is one entry of the top-intents leaderboard.
type IntentCount struct {
	Intent string `json:"intent"`
	Count  int    `json:"count"`
}

// Stats is the aggregate view served by /api/ai/stats.
type Stats struct {
	TotalInteractions      int           `json:"totalInteractions"`
	UniqueDevices          int           `json:"uniqueDevices"`
	AverageFeedbackRating  float64       `json:"averageFeedbackRating"`
	TopIntents             []IntentCount `json:"topIntents"`
	LatestModelVersion     string        `json:"latestModelVersion"`
	LastTrainingDate       *time.Time    `json:"lastTrainingDate"`
	TotalModels            int           `json:"totalModels"`
	IncorporatedUserModels int           `json:"incorporatedUserModels"`
}

// InteractionBatch is the payload of one /api/ai/learn request.
type InteractionBatch struct {
	DeviceID     string        `json:"deviceId"`
	Interactions []Interaction `json:"interactions"`
	Feedback     []Feedback    `json:"feedback,omitempty"`
}

// ModelComparison relates a new version to its predecessor.
type ModelComparison struct {
	PreviousVersion string  `json:"previousVersion,omitempty"`
	AccuracyDelta   float64 `json:"accuracyDelta"`
	Improvement     bool    `json:"improvement"`
}

// TrainingDataProfile describes the corpus a version was trained on.
type TrainingDataProfile struct {
	IntentDistribution map[string]int `json:"intentDistribution"`
	FeedbackSamples    int            `json:"feedbackSamples"`
	PositiveFeedback   int            `json:"positiveFeedback"`
}

// IncorporatedModel is one client upload fused into a published version.
type IncorporatedModel struct {
	DeviceID string  `json:"deviceId"`
	Weight   float64 `json:"weight"`
	Size     int64   `json:"size"`
}

// TrainingSummary is published alongside every model version
// (latest_model_info.json and the per-version model_info documents).
type TrainingSummary struct {
	Version            string              `json:"version"`
	ModelType          string              `json:"modelType"`
	Accuracy           float64             `json:"accuracy"`
	TrainingDataSize   int                 `json:"trainingDataSize"`
	TrainingDate       time.Time           `json:"trainingDate"`
	Classes            []string            `json:"classes"`
	EnsembleSize       int                 `json:"ensembleSize"`
	IncorporatedIDs    []string            `json:"incorporatedModelIds"`
	IncorporatedModels []IncorporatedModel `json:"incorporatedModels"`
	PlaceholderCount   int                 `json:"placeholderCount"`
	Comparison         ModelComparison     `json:"comparison"`
	TrainingData       TrainingDataProfile `json:"trainingData"`
	Changes            []string            `json:"changes"`
	SummaryText        string              `json:"summaryText"`
	ExportError        string              `json:"exportError,omitempty"`
	DurationSeconds    float64             `json:"durationSeconds"`
}

// CycleState is the orchestrator's pipeline position, surfaced by /health.
type CycleState string

const (
	CycleIdle       CycleState = "idle"
	CycleCollecting CycleState = "collecting"
	CycleTraining   CycleState = "training"
	CycleFusing     CycleState = "fusing"
	CycleExporting  CycleState = "exporting"
	CyclePublishing CycleState = "publishing"
	CycleRetaining  CycleState = "retaining"
	CycleFailed     CycleState = "failed"
)
