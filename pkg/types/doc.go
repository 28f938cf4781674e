/*
Package types defines the shared domain types for fedhub.

These are the rows of the store of record (interactions, feedback, uploaded
models, model versions, ensemble records), the wire shapes of the HTTP API
(batches, stats), and the small enums that move between packages
(incorporation status, cycle state, ensemble component kinds).

Types here are plain data: no methods with side effects, no package
dependencies beyond time. Every package may import types; types imports
nothing of ours, which keeps the dependency graph acyclic.

# Conventions

  - JSON tags use camelCase to match the client API; the store persists the
    same encoding, so a row read from the database marshals directly into an
    API response.
  - Timestamps are time.Time, serialized RFC3339.
  - Enumerations are typed strings so zero values are visibly invalid in
    logs rather than silently the first enum member.

# Lifecycle of an UploadedModel

	pending ──▶ processing ──▶ incorporated
	                 │
	                 └────────▶ failed

A cycle that aborts before publishing rolls processing back to pending so the
upload is retried by the next cycle.
*/
package types
