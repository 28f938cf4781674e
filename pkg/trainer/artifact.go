package trainer

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"time"

	"github.com/cortexlab/fedhub/pkg/errdefs"
	"github.com/cortexlab/fedhub/pkg/types"
)

// artifactMagic prefixes every artifact so foreign files fail fast instead
// of producing a confusing gob error.
var artifactMagic = []byte("FHMODEL1")

// Artifact is the serialized model container published to the blob store
// and uploaded by clients. One format serves both directions.
type Artifact struct {
	FormatVersion    int
	Version          string
	TrainingDate     time.Time
	Accuracy         float64
	TrainingDataSize int
	Classes          []string
	Members          []ArtifactMember
}

// ArtifactMember is one serialized ensemble member.
type ArtifactMember struct {
	Kind   types.EnsembleComponentKind
	Source string
	Weight float64
	Model  *Classifier
}

const artifactFormatVersion = 1

// EncodeArtifact writes the container: magic, length-prefixed gob payload.
func EncodeArtifact(w io.Writer, a *Artifact) error {
	a.FormatVersion = artifactFormatVersion

	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(a); err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}

	if _, err := w.Write(artifactMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint64(payload.Len())); err != nil {
		return err
	}
	_, err := w.Write(payload.Bytes())
	return err
}

// DecodeArtifact reads a container written by EncodeArtifact. Anything that
// is not one of ours (bad magic, truncated payload, wrong format version)
// returns ErrInvariant, which the orchestrator maps to a placeholder member.
func DecodeArtifact(r io.Reader) (*Artifact, error) {
	magic := make([]byte, len(artifactMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("%w: artifact too short", errdefs.ErrInvariant)
	}
	if !bytes.Equal(magic, artifactMagic) {
		return nil, fmt.Errorf("%w: not a model artifact", errdefs.ErrInvariant)
	}

	var size uint64
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return nil, fmt.Errorf("%w: artifact header truncated", errdefs.ErrInvariant)
	}
	// The length header is client input: read what is actually there and
	// check it against the claim, never allocate from the claim.
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: artifact payload unreadable: %v", errdefs.ErrInvariant, err)
	}
	if uint64(len(payload)) < size {
		return nil, fmt.Errorf("%w: artifact payload truncated", errdefs.ErrInvariant)
	}
	payload = payload[:size]

	var a Artifact
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: artifact payload unreadable: %v", errdefs.ErrInvariant, err)
	}
	if a.FormatVersion != artifactFormatVersion {
		return nil, fmt.Errorf("%w: unsupported artifact format %d", errdefs.ErrInvariant, a.FormatVersion)
	}
	return &a, nil
}

// ArtifactFromEnsemble packages an ensemble and its training metadata.
func ArtifactFromEnsemble(e *Ensemble, version string, accuracy float64, trainingSize int, trainedAt time.Time) *Artifact {
	members := make([]ArtifactMember, len(e.Members))
	for i, m := range e.Members {
		members[i] = ArtifactMember{Kind: m.Kind, Source: m.Source, Weight: m.Weight, Model: m.Model}
	}
	return &Artifact{
		Version:          version,
		TrainingDate:     trainedAt,
		Accuracy:         accuracy,
		TrainingDataSize: trainingSize,
		Classes:          e.Classes,
		Members:          members,
	}
}

// BaseClassifier returns the artifact's base member, or the first member if
// the artifact predates member kinds. Client uploads that contain no usable
// classifier are ErrInvariant.
func (a *Artifact) BaseClassifier() (*Classifier, error) {
	for _, m := range a.Members {
		if m.Kind == types.ComponentBase && m.Model != nil {
			return m.Model, nil
		}
	}
	if len(a.Members) > 0 && a.Members[0].Model != nil {
		return a.Members[0].Model, nil
	}
	return nil, fmt.Errorf("%w: artifact carries no classifier", errdefs.ErrInvariant)
}
