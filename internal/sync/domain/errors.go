package domain

import "errors"

var (
	// ErrCredential means the stored tokens are invalid or expired. The
	// credential collaborator must re-authenticate the user; retrying here
	// cannot succeed.
	ErrCredential = errors.New("credentials invalid or expired")

	// ErrWatchSetup means the provider refused the watch request (quota,
	// permission, bad topic). The renewal scheduler retries it.
	ErrWatchSetup = errors.New("watch setup rejected by provider")

	// ErrMarkerTooOld means the provider no longer retains history back to
	// the stored marker. Callers must fall back to a full resync.
	ErrMarkerTooOld = errors.New("change marker older than retained history")

	// ErrRemoteTimeout and ErrRemoteUnavailable are transient provider
	// failures. Notification processing nacks so the message is redelivered.
	ErrRemoteTimeout     = errors.New("remote provider timed out")
	ErrRemoteUnavailable = errors.New("remote provider unavailable")

	// ErrSyncNotActive means no watch registration exists for the user.
	ErrSyncNotActive = errors.New("sync not active for user")
)
