// Package standings accumulates per-player counters from wager events and
// ranks players into a leaderboard.
package standings

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// Created is the delta recorded for the creator of a wager.
func Created(address string, stake int64, at time.Time) domain.PlayerDelta {
	return domain.PlayerDelta{
		Address:           address,
		WagersCreated:     1,
		VolumeContributed: stake,
		At:                at,
	}
}

// Joined is the delta recorded for the party accepting a wager.
func Joined(address string, stake int64, at time.Time) domain.PlayerDelta {
	return domain.PlayerDelta{
		Address:           address,
		WagersJoined:      1,
		VolumeContributed: stake,
		At:                at,
	}
}

// Resolved returns one delta per participant of w. Wins and losses are only
// counted when the settlement has a winner set; refunds and pushes just
// touch the records.
func Resolved(w domain.Wager, s domain.Settlement, at time.Time) []domain.PlayerDelta {
	amounts := s.Amounts()
	parts := w.Participants()
	out := make([]domain.PlayerDelta, 0, len(parts))
	for _, p := range parts {
		d := domain.PlayerDelta{Address: p.Address, At: at}
		if len(s.Winners) > 0 {
			if s.IsWinner(p.Address) {
				d.Wins = 1
				d.VolumeWon = amounts[p.Address]
			} else {
				d.Losses = 1
			}
		}
		out = append(out, d)
	}
	return out
}

// Rename validates a display name and returns the delta that sets it.
func Rename(address, name string, at time.Time) (domain.PlayerDelta, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.PlayerDelta{}, fmt.Errorf("username must not be empty: %w", domain.ErrValidation)
	}
	if utf8.RuneCountInString(name) > domain.MaxUsernameLength {
		return domain.PlayerDelta{}, fmt.Errorf("username longer than %d characters: %w", domain.MaxUsernameLength, domain.ErrValidation)
	}
	return domain.PlayerDelta{Address: address, Username: &name, At: at}, nil
}
