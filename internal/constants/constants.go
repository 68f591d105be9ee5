package constants

import "time"

const (
	ExternalAPITimeout = 30 * time.Second
	DatabaseTimeout    = 5 * time.Second
	RequestTimeout     = 30 * time.Second
)

// the remote list call always returns 100 plays per page
const PlaysPageSize = 100

const (
	// SQLite only has one writer; a bigger pool just trades SQLITE_BUSY for waiting
	DBMaxOpenConns    = 1
	DBMaxIdleConns    = 1
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout   = 5 * time.Second
	ReadHeaderTimeout = 10 * time.Second
)

const (
	DefaultDownloadInterval = 1 * time.Hour
	DefaultUploadPause      = 1 * time.Second
)

const (
	StillProcessingInitialWait = 1500 * time.Millisecond
	StillProcessingMultiplier  = 2.5
	StillProcessingJitter      = 30 // percent
	StillProcessingMaxWait     = 30 * time.Second
	StillProcessingMaxElapsed  = 5 * time.Minute

	RateLimitedWait       = 5 * time.Second
	RateLimitedMaxRetries = 4

	OverloadedWait       = 5 * time.Second
	OverloadedMaxRetries = 1
)
