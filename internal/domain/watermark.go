package domain

import (
	"math"
	"time"
)

// OldestWatermark is the backfill boundary. It is either unbounded (history not
// yet backfilled at all), complete (backfilled to the beginning of time), or a
// date: everything on or after it is present locally.
type OldestWatermark struct {
	date      time.Time
	unbounded bool
}

const (
	oldestUnboundedMillis = math.MaxInt64
	oldestCompleteMillis  = 0
)

func UnboundedOldest() OldestWatermark {
	return OldestWatermark{unbounded: true}
}

func CompleteOldest() OldestWatermark {
	return OldestWatermark{}
}

func OldestAt(date time.Time) OldestWatermark {
	if date.IsZero() {
		return CompleteOldest()
	}
	return OldestWatermark{date: Day(date)}
}

func (w OldestWatermark) IsUnbounded() bool { return w.unbounded }

func (w OldestWatermark) IsComplete() bool { return !w.unbounded && w.date.IsZero() }

// Date is zero unless the watermark is a concrete date.
func (w OldestWatermark) Date() time.Time { return w.date }

// Lower moves the watermark down to date. It never moves it up, and a complete
// watermark stays complete.
func (w OldestWatermark) Lower(date time.Time) OldestWatermark {
	if w.IsComplete() || date.IsZero() {
		return w
	}
	date = Day(date)
	if w.unbounded || date.Before(w.date) {
		return OldestWatermark{date: date}
	}
	return w
}

func (w OldestWatermark) Millis() int64 {
	switch {
	case w.unbounded:
		return oldestUnboundedMillis
	case w.date.IsZero():
		return oldestCompleteMillis
	default:
		return w.date.UnixMilli()
	}
}

func OldestFromMillis(ms int64) OldestWatermark {
	switch {
	case ms == oldestUnboundedMillis:
		return UnboundedOldest()
	case ms <= oldestCompleteMillis:
		return CompleteOldest()
	default:
		return OldestAt(time.UnixMilli(ms).UTC())
	}
}

func (w OldestWatermark) String() string {
	switch {
	case w.unbounded:
		return "unbounded"
	case w.date.IsZero():
		return "complete"
	default:
		return FormatDate(w.date)
	}
}

type Watermarks struct {
	Newest time.Time // zero when nothing has been synced yet
	Oldest OldestWatermark
}

// NewestFromMillis treats negative and zero values as "never synced".
func NewestFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return Day(time.UnixMilli(ms).UTC())
}

// AdvanceNewest returns the later of current and candidate.
func AdvanceNewest(current, candidate time.Time) time.Time {
	if candidate.IsZero() {
		return current
	}
	candidate = Day(candidate)
	if current.IsZero() || candidate.After(current) {
		return candidate
	}
	return current
}
