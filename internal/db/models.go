package db

// Timestamps are unix millis with 0 meaning unset; dates are YYYY-MM-DD.

type Play struct {
	LocalID         string
	PlayID          int64
	Date            string
	Length          int64
	StartTime       int64
	GameID          int64
	GameName        string
	Subtypes        string
	Location        string
	Comments        string
	Quantity        int64
	Incomplete      bool
	NoWinStats      bool
	SyncTimestamp   int64
	UpdateTimestamp int64
	DeleteTimestamp int64
	DirtyTimestamp  int64
	SyncHash        string
	NaturalKey      string
	CreatedAt       int64
	UpdatedAt       int64
}

type PlayPlayer struct {
	LocalID       string
	Seq           int64
	Username      string
	UserID        int64
	Name          string
	StartPosition string
	Color         string
	Score         string
	IsNew         bool
	Rating        float64
	Win           bool
}

type Game struct {
	GameID    int64
	Name      string
	NumPlays  int64
	UpdatedAt int64
}

type SyncState struct {
	Key       string
	Value     int64
	UpdatedAt int64
}

type PlayStat struct {
	Key       string
	H         int64
	N         int64
	UpdatedAt int64
}
