package domain

import "errors"

var (
	// ErrAuthFailed means the remote service rejected the credentials; the run is
	// aborted and the user must re-authenticate before retrying.
	ErrAuthFailed = errors.New("authentication failed")

	ErrSyncInProgress  = errors.New("sync already in progress")
	ErrPlayNotFound    = errors.New("play not found")
	ErrMissingUsername = errors.New("username is required")
	ErrInvalidPlay     = errors.New("invalid play")
)

// IsAuthError reports whether err requires re-authentication.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthFailed)
}
