/*
Package trainer implements the intent-classification pipeline: text
preprocessing, TF-IDF vectorization, a weighted random forest, and the
soft-voting ensemble that fuses uploaded client models with the base model.

# Pipeline

	raw text
	  │  lowercase, tokenize, drop stopwords, light lemmatization
	  ▼
	tokens ──▶ TF-IDF (1..2-grams, 5000 features, L2 rows)
	  │
	  ▼
	random forest (100 trees, gini, weighted bootstrap)
	  │
	  ▼
	soft-voting ensemble (base weight 2.0, uploads weight 1.0)

# Sample weights

Feedback shifts how much an interaction counts during training:

	no feedback           1x
	any feedback          2x
	rating >= 4           3x

Weights flow into the bootstrap distribution and the gini computation, so a
highly rated exchange genuinely pulls the trees toward its label.

# Evaluation

With more than one class the trainer holds out a stratified 20% and reports
held-out accuracy; a single-class corpus trains on everything and reports
1.0. Splits and forests are seeded, so a training run is reproducible from
its inputs.

# Artifacts

Model artifacts are a magic-prefixed gob container (EncodeArtifact /
DecodeArtifact) holding the full ensemble: vectorizer, forests, classes,
member weights, and training metadata. Clients upload the same format; an
upload that fails to decode is replaced in the ensemble by a placeholder
member trained on synthetic data with the base model's dimensions, keeping
the declared member count intact.
*/
package trainer
