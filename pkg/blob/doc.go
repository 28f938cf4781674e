/*
Package blob stores model artifacts, training reports, ingest mirrors, and
database snapshots in an object store.

Two backends implement the Storage interface:

  - Remote: a Dropbox-compatible OAuth2 content API. Every call carries a
    bearer token from the token manager; a 401 triggers exactly one forced
    refresh and replay. Network errors, 429s and 5xx responses are
    classified ErrTransient and retried with fibonacci backoff (3 attempts).
  - Local: plain files under <data_dir>/blobs. Used when STORAGE_MODE=local
    or as a degraded fallback. Temp links are never available, so model
    downloads stream bytes through the server.

# Namespace

	base_model/   model_latest.<ext>, model_<version>.<ext>,
	              latest_model_info.json, model_info_<version>.json
	trained/      model_<version>.<ext>   (per-cycle outputs)
	uploaded/     <upload_id>_<original_filename>
	user_data/    interactions_<device>_<ts>.json
	model_info/   model_<version>_update.json / .md
	nltk_data/    stopwords_english.txt   (preprocessor override)
	backups/      fedhub_latest.db + timestamped copies

# Blob references

Rows in the store point at objects with scheme-tagged refs:

	blob:base_model/model_latest.mlmodel    remote object
	stream:trained/model_1.0.17x.mlmodel    remote, stream-only (no link)
	file:/var/lib/fedhub/blobs/...          local file
	mem:base_model                          in-memory cache entry

ParseRef rejects unknown schemes as ErrInvariant: a ref written by this
server always carries a scheme, so anything else is corruption.
*/
package blob
