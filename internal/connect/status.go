package connect

// Status is the small vocabulary external callers consume. The engine is the
// only place internal failures are translated into it; callers never see
// provider-specific error shapes.
type Status string

const (
	// StatusNotConnected: no credential exists for the pair.
	StatusNotConnected Status = "not_connected"

	// StatusConnected: a usable access token is available.
	StatusConnected Status = "connected"

	// StatusTokenExpiredNoRefresh: the access token is stale and the
	// provider never granted offline access. Terminal without a new
	// consent flow.
	StatusTokenExpiredNoRefresh Status = "token_expired_no_refresh"

	// StatusReauthRequired: refresh was rejected or the stored ciphertext
	// no longer decrypts. The record is kept for visibility but the
	// connection is unusable until the user re-consents.
	StatusReauthRequired Status = "reauth_required"
)

// Usable reports whether dependent features may proceed.
func (s Status) Usable() bool { return s == StatusConnected }
