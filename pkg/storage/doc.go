/*
Package storage provides persistent state management for fedhub using BoltDB.

The storage package is the single source of truth for everything the server
knows: interaction logs, feedback, uploaded client models, published model
versions, and ensemble composition records. Rows are JSON documents in
per-table buckets inside one embedded BoltDB file.

# Architecture

	┌────────────────── STORAGE SYSTEM ──────────────────┐
	│                                                      │
	│  Store interface                                     │
	│      │                                               │
	│  BoltStore (bbolt, single file)                      │
	│      │                                               │
	│  buckets:                                            │
	│    interactions      id → Interaction JSON           │
	│    feedback          interaction_id → Feedback JSON  │
	│    uploaded_models   id → UploadedModel JSON         │
	│    model_versions    version → ModelVersion JSON     │
	│    ensemble_models   version → EnsembleRecord JSON   │
	│                                                      │
	└──────────────────────────────────────────────────────┘

# Write semantics

BoltDB admits exactly one write transaction at a time, which is the
consistency model the rest of the server is built on:

  - SaveBatch commits a request's interactions and feedback in one
    transaction: either the whole batch lands or none of it does.
  - Writes acquire a process-wide mutex before entering bbolt. Contention
    (bolt.ErrTimeout) is classified ErrTransient and retried up to 3 times
    with a randomized 0.5–2.0s backoff before surfacing.
  - Upserts are Put-by-key: re-ingesting an interaction id replaces the row
    byte-for-byte, so client retries are idempotent.
  - Every successful commit fires the OnCommit hooks; the snapshot syncer
    hangs its dirty flag off that.

# Reads

Reads run in bbolt read transactions and never block writers. Values
returned by bbolt are only valid inside the transaction, so rows are
unmarshaled (copied) before the closure returns.

# Snapshots

Snapshot(w) streams a consistent copy of the whole database via
tx.WriteTo from a read transaction. The syncer pushes these bytes to the
blob store; on boot the newest remote snapshot is restored before the
database is opened.

# Usage

	store, err := storage.NewBoltStore("/var/lib/fedhub/fedhub.db")
	if err != nil {
		log.Fatal(err.Error())
	}
	defer store.Close()

	err = store.SaveBatch(interactions, feedback)

	pending, err := store.ListPendingUploads()

	var buf bytes.Buffer
	n, err := store.Snapshot(&buf)
*/
package storage
