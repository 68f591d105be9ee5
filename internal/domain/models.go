package domain

import (
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

type Play struct {
	LocalID string // nanoid
	PlayID  int    // assigned by the remote service, 0 until first upload

	Date      time.Time // day granularity, UTC midnight
	Length    int       // minutes
	StartTime time.Time // only meaningful while Length == 0

	GameID     int
	GameName   string
	Subtypes   []string
	Location   string
	Comments   string
	Quantity   int
	Incomplete bool
	NoWinStats bool
	Players    []Player

	SyncTimestamp   time.Time
	UpdateTimestamp time.Time
	DeleteTimestamp time.Time
	DirtyTimestamp  time.Time
	SyncHash        string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Player struct {
	Username      string
	UserID        int
	Name          string
	StartPosition string
	Color         string
	Score         string
	IsNew         bool
	Rating        float64
	Win           bool
}

// IsSynced reports whether the remote service has ever acknowledged the play.
func (p *Play) IsSynced() bool {
	return p.PlayID > 0
}

func (p *Play) HasPendingDelete() bool {
	return !p.DeleteTimestamp.IsZero()
}

// HasPendingUpdate is false when a delete is also pending; deletes win.
func (p *Play) HasPendingUpdate() bool {
	return !p.UpdateTimestamp.IsZero() && p.DeleteTimestamp.IsZero()
}

// IsDirty reports any local change that has not been confirmed upstream.
func (p *Play) IsDirty() bool {
	return !p.UpdateTimestamp.IsZero() || !p.DeleteTimestamp.IsZero() || !p.DirtyTimestamp.IsZero()
}

// InProgress is true for a play that was started but not finished.
func (p *Play) InProgress() bool {
	return p.Length == 0 && !p.StartTime.IsZero()
}

// IsBoardGame is false for plays of other catalog subtypes (RPGs, video games).
// A play without subtypes is assumed to be a board game.
func (p *Play) IsBoardGame() bool {
	if len(p.Subtypes) == 0 {
		return true
	}
	for _, s := range p.Subtypes {
		if strings.HasPrefix(s, "boardgame") {
			return true
		}
	}
	return false
}

func (p *Play) DateString() string {
	return FormatDate(p.Date)
}

// ParseDate parses a YYYY-MM-DD day into UTC midnight.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// Day truncates t to its calendar day in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ToMillis maps the zero time to 0 so unset timestamps persist as 0.
func ToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func FromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

type SaveStatus int

const (
	SaveError SaveStatus = iota
	SaveInserted
	SaveUpdated
	SaveUnchanged
	SaveDirty
)

func (s SaveStatus) String() string {
	switch s {
	case SaveInserted:
		return "inserted"
	case SaveUpdated:
		return "updated"
	case SaveUnchanged:
		return "unchanged"
	case SaveDirty:
		return "dirty"
	default:
		return "error"
	}
}

// PlayFilter selects plays from the local store. Zero fields do not filter.
type PlayFilter struct {
	GameID        int
	PendingDelete bool
	PendingUpdate bool
}

// PruneDirection says which side of the boundary date a prune covers.
type PruneDirection int

const (
	PruneOnOrAfter PruneDirection = iota
	PruneOnOrBefore
)

func (d PruneDirection) String() string {
	if d == PruneOnOrBefore {
		return "<="
	}
	return ">="
}

// Game is the local play tally for one catalog item.
type Game struct {
	ID        int
	Name      string
	NumPlays  int
	UpdatedAt time.Time
}
