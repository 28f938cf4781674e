/*
Package registry resolves model versions to downloadable bytes.

The registry sits between the HTTP download surface and the two stores: the
row store says which versions exist and which blob_ref each carries; the
blob store says where the bytes are. ResolveForDownload turns a version
string into either a 302 redirect (short-lived direct URL from the blob
backend) or a byte stream through the server (local mode, stream-only refs,
or when link minting fails).

The "1.0.0" alias is special: it is the version baked into shipped clients
and always resolves to the base_model/model_latest pointer, regardless of
what its seed row says. Publishing a new model therefore upgrades every
client that only knows 1.0.0.

The registry also keeps the in-memory base-model cache. Cold reads collapse
via singleflight into one blob round trip; the orchestrator invalidates the
cache after every publish.
*/
package registry
