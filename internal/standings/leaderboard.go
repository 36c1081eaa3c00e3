package standings

import (
	"fmt"
	"sort"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// Less orders players by wins, volume won and volume contributed, all
// descending, then by address ascending.
func Less(a, b domain.PlayerStats) bool {
	if a.Wins != b.Wins {
		return a.Wins > b.Wins
	}
	if a.VolumeWon != b.VolumeWon {
		return a.VolumeWon > b.VolumeWon
	}
	if a.VolumeContributed != b.VolumeContributed {
		return a.VolumeContributed > b.VolumeContributed
	}
	return a.Address < b.Address
}

// Rank sorts a copy of players and numbers them from 1.
func Rank(players []domain.PlayerStats) []domain.LeaderboardEntry {
	sorted := make([]domain.PlayerStats, len(players))
	copy(sorted, players)
	sort.Slice(sorted, func(i, j int) bool { return Less(sorted[i], sorted[j]) })

	out := make([]domain.LeaderboardEntry, len(sorted))
	for i, p := range sorted {
		out[i] = domain.LeaderboardEntry{Rank: i + 1, PlayerStats: p}
	}
	return out
}

// ValidatePage rejects negative pagination values.
func ValidatePage(opts domain.ListOpts) error {
	if opts.Offset < 0 || opts.Limit < 0 {
		return fmt.Errorf("offset %d limit %d: %w", opts.Offset, opts.Limit, domain.ErrValidation)
	}
	return nil
}

// Page returns items[offset:offset+limit], clamped to the slice.
func Page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset >= len(items) || opts.Limit == 0 {
		return []T{}
	}
	end := opts.Offset + opts.Limit
	if end > len(items) || end < opts.Offset {
		end = len(items)
	}
	return items[opts.Offset:end]
}
