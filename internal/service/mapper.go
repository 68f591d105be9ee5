package service

import (
	"fmt"
	"playsync/internal/api"
	"playsync/internal/domain"
	"strings"
)

func playFromRemote(rp api.RemotePlay) (domain.Play, error) {
	date, err := domain.ParseDate(strings.TrimSpace(rp.Date))
	if err != nil {
		return domain.Play{}, fmt.Errorf("play %d has invalid date %q: %w", rp.ID, rp.Date, err)
	}

	subtypes := make([]string, 0, len(rp.Item.Subtypes))
	for _, s := range rp.Item.Subtypes {
		subtypes = append(subtypes, s.Value)
	}

	players := make([]domain.Player, 0, len(rp.Players))
	for _, p := range rp.Players {
		players = append(players, domain.Player{
			Username:      p.Username,
			UserID:        p.UserID,
			Name:          p.Name,
			StartPosition: p.StartPosition,
			Color:         p.Color,
			Score:         p.Score,
			IsNew:         p.New == 1,
			Rating:        p.Rating,
			Win:           p.Win == 1,
		})
	}

	quantity := rp.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	return domain.Play{
		PlayID:     rp.ID,
		Date:       date,
		Length:     rp.Length,
		GameID:     rp.Item.ObjectID,
		GameName:   rp.Item.Name,
		Subtypes:   subtypes,
		Location:   rp.Location,
		Comments:   strings.TrimSpace(rp.Comments),
		Quantity:   quantity,
		Incomplete: rp.Incomplete == 1,
		NoWinStats: rp.NoWinStats == 1,
		Players:    players,
	}, nil
}
