package api

import (
	"fmt"
	"net/url"
	"playsync/internal/domain"
	"strconv"
)

// EncodeUpsertForm builds the geekplay.php form that creates a play, or updates
// it when the play already has an external id.
func EncodeUpsertForm(p *domain.Play) url.Values {
	form := url.Values{}
	form.Set("ajax", "1")
	form.Set("action", "save")
	form.Set("version", "2")
	form.Set("objecttype", "thing")
	if p.PlayID > 0 {
		form.Set("playid", strconv.Itoa(p.PlayID))
	}
	form.Set("objectid", strconv.Itoa(p.GameID))
	form.Set("playdate", p.DateString())
	// the site ignores this but the form it submits always carries it
	form.Set("dateinput", p.DateString())
	form.Set("length", strconv.Itoa(p.Length))
	form.Set("location", p.Location)
	form.Set("quantity", strconv.Itoa(p.Quantity))
	form.Set("incomplete", boolFlag(p.Incomplete))
	form.Set("nowinstats", boolFlag(p.NoWinStats))
	form.Set("comments", p.Comments)

	for i, pl := range p.Players {
		key := func(field string) string {
			return fmt.Sprintf("players[%d][%s]", i, field)
		}
		form.Set(key("playerid"), "player_"+strconv.Itoa(i))
		form.Set(key("name"), pl.Name)
		form.Set(key("username"), pl.Username)
		form.Set(key("score"), pl.Score)
		form.Set(key("color"), pl.Color)
		form.Set(key("position"), pl.StartPosition)
		form.Set(key("rating"), strconv.FormatFloat(pl.Rating, 'f', -1, 64))
		form.Set(key("new"), boolFlag(pl.IsNew))
		form.Set(key("win"), boolFlag(pl.Win))
	}
	return form
}

func EncodeDeleteForm(playID int) url.Values {
	form := url.Values{}
	form.Set("ajax", "1")
	form.Set("action", "delete")
	form.Set("finalize", "1")
	form.Set("playid", strconv.Itoa(playID))
	return form
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
