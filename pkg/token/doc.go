/*
Package token manages the OAuth2 refresh-token lifecycle for the remote
blob store.

The manager owns tokens.json in the data directory. Once that file exists it
is the source of truth; environment variables only seed the very first write,
so a token rotated at runtime survives restarts without env changes.

Refresh policy:

  - Current() refreshes when the access token expires within 300s.
  - Successful refreshes are spaced at least 60s apart; a caller inside the
    cooldown gets the existing token as long as it is still usable.
  - ForceRefresh() is for 401s from the backend. It ignores expiry but not
    the cooldown, which breaks 401/refresh loops against a misbehaving
    backend.
  - The refresh grant is a form POST (grant_type=refresh_token) with a 10s
    timeout. Failures map to ErrRefreshFailed; absent credentials map to
    ErrUnconfigured.

State writes are atomic (temp file + rename). A corrupt token file is
quarantined beside the original and re-seeded rather than crashing the
server.
*/
package token
