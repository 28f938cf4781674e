/*
Package orchestrator runs the federated training cycle.

A cycle is triggered, never scheduled directly: the API kicks after ingests
and uploads, the scheduler kicks at its daily window, and all kicks land on
a buffered channel of depth one, so any number of triggers raised while a
cycle runs collapse into exactly one follow-up cycle.

The trigger policy fires when any of these hold:

  - pending uploads reach the configured threshold
  - training is stale beyond StaleHours and at least one upload waits
  - NewRowsTrigger interactions arrived since the last training and at
    least one upload waits

The scheduler's daily evaluation adds a catch-up clause that trains on new
data alone once training is a day old, so a server that never receives
uploads still improves its base model.

One cycle walks the pipeline collecting -> training -> fusing -> exporting
-> publishing -> retaining, with the current position surfaced through
State for /health. Pending uploads are claimed (marked processing) before
training; any failure before the publish completes rolls them back to
pending so the next cycle retries them. Publishing is ordered so that every
blob lands before the first database row: a crash mid-publish leaves
orphaned blobs, never a model_versions row pointing at missing bytes.

Uploads that cannot be decoded or whose model shape drifted from the fresh
base are replaced by placeholder members trained on synthetic data, keeping
the published ensemble's declared member count honest. Uploads whose bytes
are gone entirely are marked failed.

Retention keeps the newest RetainModels versions. The 1.0.0 seed row and
everything under base_model/ are permanent.
*/
package orchestrator
