package domain

import (
	"sort"
	"strconv"
)

// HIndex is the largest H such that H entries were played at least H times.
// N counts the entries with at least H plays.
type HIndex struct {
	H int
	N int
}

const InvalidHIndex = -1

func NewHIndex(counts []int) HIndex {
	if len(counts) == 0 {
		return HIndex{H: InvalidHIndex}
	}
	sorted := append([]int(nil), counts...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	h := 0
	for i, c := range sorted {
		if c >= i+1 {
			h = i + 1
		} else {
			break
		}
	}

	n := 0
	for _, c := range sorted {
		if c >= h {
			n++
		}
	}
	return HIndex{H: h, N: n}
}

func (h HIndex) Valid() bool {
	return h.H != InvalidHIndex
}

func (h HIndex) String() string {
	if !h.Valid() {
		return "?"
	}
	return strconv.Itoa(h.H) + " (" + strconv.Itoa(h.N) + ")"
}

// PlayCountDescription describes which plays of a game were just recorded,
// e.g. "3rd", "4th & 5th" or "6th - 8th".
func PlayCountDescription(count, quantity int) string {
	switch {
	case quantity <= 1:
		return Ordinal(count)
	case quantity == 2:
		return Ordinal(count-1) + " & " + Ordinal(count)
	default:
		return Ordinal(count-quantity+1) + " - " + Ordinal(count)
	}
}

func Ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}
