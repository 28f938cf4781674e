package trainer

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/cortexlab/fedhub/pkg/errdefs"
	"github.com/cortexlab/fedhub/pkg/log"
)

// Example is one training row: the user message, its intent label, and the
// feedback-derived sample weight.
type Example struct {
	Text   string
	Intent string
	Weight float64
}

// Sample weights by feedback signal.
const (
	WeightDefault       = 1.0 // no feedback
	WeightFeedback      = 2.0 // any feedback present
	WeightHighRating    = 3.0 // rating >= 4
	HighRatingCutoff    = 4
	defaultTestFraction = 0.2
)

// Config controls a training run.
type Config struct {
	MaxFeatures  int
	NGramMax     int
	Forest       ForestConfig
	TestFraction float64
	Seed         int64
}

// DefaultConfig mirrors the production pipeline: 5000 tf-idf features over
// 1..2-grams, a 100-tree forest, 80/20 evaluation split.
func DefaultConfig() Config {
	return Config{
		MaxFeatures:  5000,
		NGramMax:     2,
		Forest:       DefaultForestConfig(),
		TestFraction: defaultTestFraction,
	}
}

// Result is a completed base-model fit.
type Result struct {
	Classifier *Classifier
	Accuracy   float64
	Classes    []string
	TrainSize  int
	Duration   time.Duration
}

// Trainer fits base models from accumulated examples.
type Trainer struct {
	cfg  Config
	prep *Preprocessor
}

// New creates a trainer sharing the given preprocessor.
func New(cfg Config, prep *Preprocessor) *Trainer {
	if cfg.MaxFeatures == 0 {
		cfg = DefaultConfig()
	}
	if prep == nil {
		prep = NewPreprocessor()
	}
	return &Trainer{cfg: cfg, prep: prep}
}

// Preprocessor exposes the trainer's shared preprocessor.
func (t *Trainer) Preprocessor() *Preprocessor {
	return t.prep
}

// Train fits a base classifier. Examples with an empty message or intent
// must already be filtered out by the caller.
func (t *Trainer) Train(examples []Example) (*Result, error) {
	start := time.Now()
	if len(examples) == 0 {
		return nil, fmt.Errorf("%w: no training examples", errdefs.ErrInvariant)
	}

	// Stable class index, sorted for determinism.
	classSet := make(map[string]int)
	for _, ex := range examples {
		classSet[ex.Intent] = 0
	}
	classes := make([]string, 0, len(classSet))
	for c := range classSet {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	for i, c := range classes {
		classSet[c] = i
	}

	docs := make([][]string, len(examples))
	y := make([]int, len(examples))
	w := make([]float64, len(examples))
	for i, ex := range examples {
		docs[i] = t.prep.Tokens(ex.Text)
		y[i] = classSet[ex.Intent]
		w[i] = ex.Weight
		if w[i] <= 0 {
			w[i] = WeightDefault
		}
	}

	trainIdx, testIdx := t.split(y, len(classes))

	vec := NewVectorizer(t.cfg.MaxFeatures, t.cfg.NGramMax)
	trainDocs := make([][]string, len(trainIdx))
	for i, idx := range trainIdx {
		trainDocs[i] = docs[idx]
	}
	if err := vec.Fit(trainDocs); err != nil {
		return nil, err
	}

	X := make([][]float64, len(trainIdx))
	yTrain := make([]int, len(trainIdx))
	wTrain := make([]float64, len(trainIdx))
	for i, idx := range trainIdx {
		X[i] = vec.Transform(docs[idx])
		yTrain[i] = y[idx]
		wTrain[i] = w[idx]
	}

	fcfg := t.cfg.Forest
	fcfg.Seed = t.cfg.Seed
	forest, err := TrainForest(X, yTrain, wTrain, len(classes), fcfg)
	if err != nil {
		return nil, err
	}

	clf := &Classifier{Vectorizer: vec, Forest: forest, Classes: classes}

	accuracy := 1.0
	if len(testIdx) > 0 && len(classes) > 1 {
		correct := 0
		for _, idx := range testIdx {
			pred, _ := forest.Predict(vec.Transform(docs[idx]))
			if pred == y[idx] {
				correct++
			}
		}
		accuracy = float64(correct) / float64(len(testIdx))
	}

	res := &Result{
		Classifier: clf,
		Accuracy:   accuracy,
		Classes:    classes,
		TrainSize:  len(trainIdx),
		Duration:   time.Since(start),
	}
	log.WithComponent("trainer").Info().
		Int("train_rows", res.TrainSize).
		Int("test_rows", len(testIdx)).
		Int("classes", len(classes)).
		Float64("accuracy", res.Accuracy).
		Dur("elapsed", res.Duration).
		Msg("base model trained")
	return res, nil
}

// split produces train/test index sets. Stratified by class when every
// class has at least two samples; plain shuffled split otherwise. A single
// class skips evaluation entirely.
func (t *Trainer) split(y []int, numClasses int) (train, test []int) {
	n := len(y)
	frac := t.cfg.TestFraction
	if frac <= 0 || frac >= 1 {
		frac = defaultTestFraction
	}
	if numClasses < 2 || n < 5 {
		train = make([]int, n)
		for i := range train {
			train[i] = i
		}
		return train, nil
	}

	rng := rand.New(rand.NewSource(t.cfg.Seed))

	byClass := make([][]int, numClasses)
	for i, c := range y {
		byClass[c] = append(byClass[c], i)
	}
	stratify := true
	for _, members := range byClass {
		if len(members) < 2 {
			stratify = false
			break
		}
	}

	if !stratify {
		perm := rng.Perm(n)
		cut := int(float64(n) * frac)
		if cut < 1 {
			cut = 1
		}
		return perm[cut:], perm[:cut]
	}

	for _, members := range byClass {
		rng.Shuffle(len(members), func(i, j int) {
			members[i], members[j] = members[j], members[i]
		})
		cut := int(float64(len(members)) * frac)
		if cut < 1 {
			cut = 1
		}
		test = append(test, members[:cut]...)
		train = append(train, members[cut:]...)
	}
	return train, test
}
