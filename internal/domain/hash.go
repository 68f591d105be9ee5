package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ContentHash fingerprints the fields that matter for reconciliation. Two plays
// with the same hash are treated as identical by the download path.
func (p *Play) ContentHash() string {
	d := xxhash.New()
	write := func(s string) {
		_, _ = d.WriteString(s)
		_, _ = d.WriteString("\n")
	}

	write(p.DateString())
	write(strconv.Itoa(p.Quantity))
	write(strconv.Itoa(p.Length))
	write(strconv.FormatBool(p.Incomplete))
	write(strconv.FormatBool(p.NoWinStats))
	write(p.Location)
	write(p.Comments)
	for _, pl := range p.Players {
		write(pl.Username)
		write(strconv.Itoa(pl.UserID))
		write(pl.Name)
		write(pl.StartPosition)
		write(pl.Color)
		write(pl.Score)
		write(strconv.FormatBool(pl.IsNew))
		write(strconv.FormatFloat(pl.Rating, 'f', -1, 64))
		write(strconv.FormatBool(pl.Win))
	}

	return fmt.Sprintf("%016x", d.Sum64())
}

// RosterKey is the order-independent identity of the players in a play.
func (p *Play) RosterKey() string {
	names := make([]string, 0, len(p.Players))
	for _, pl := range p.Players {
		names = append(names, strings.ToLower(strings.TrimSpace(pl.Username))+"|"+strings.TrimSpace(pl.Name))
	}
	sort.Strings(names)
	return strings.Join(names, ";")
}

// NaturalKey identifies a play that was logged offline and later echoed back by
// the remote service before its external id was recorded locally. It is a
// heuristic: two near-identical plays of the same game on the same day collide.
func (p *Play) NaturalKey() string {
	return strings.Join([]string{
		p.DateString(),
		strconv.Itoa(p.GameID),
		strconv.Itoa(p.Quantity),
		strings.TrimSpace(p.Location),
		p.RosterKey(),
	}, "/")
}
