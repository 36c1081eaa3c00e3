package domain

import "time"

// MaxUsernameLength bounds display names set through SetUsername.
const MaxUsernameLength = 32

// PlayerStats is the per-address accumulator. Records are created on first
// interaction and never deleted.
type PlayerStats struct {
	Address           string    `json:"address"`
	Username          string    `json:"username"`
	WagersCreated     int64     `json:"wagers_created"`
	WagersJoined      int64     `json:"wagers_joined"`
	Wins              int64     `json:"wins"`
	Losses            int64     `json:"losses"`
	VolumeContributed int64     `json:"volume_contributed"`
	VolumeWon         int64     `json:"volume_won"`
	LastUpdated       time.Time `json:"last_updated"`
}

// PlayerDelta is an additive change to one player's counters. Deltas are
// applied inside the store so concurrent resolutions touching the same
// address never lose updates.
type PlayerDelta struct {
	Address           string
	WagersCreated     int64
	WagersJoined      int64
	Wins              int64
	Losses            int64
	VolumeContributed int64
	VolumeWon         int64
	Username          *string
	At                time.Time
}

// Apply folds d into p.
func (d PlayerDelta) Apply(p PlayerStats) PlayerStats {
	if p.Address == "" {
		p.Address = d.Address
	}
	p.WagersCreated += d.WagersCreated
	p.WagersJoined += d.WagersJoined
	p.Wins += d.Wins
	p.Losses += d.Losses
	p.VolumeContributed += d.VolumeContributed
	p.VolumeWon += d.VolumeWon
	if d.Username != nil {
		p.Username = *d.Username
	}
	if d.At.After(p.LastUpdated) {
		p.LastUpdated = d.At
	}
	return p
}

// LeaderboardEntry is one ranked row of the leaderboard.
type LeaderboardEntry struct {
	Rank int `json:"rank"`
	PlayerStats
}

// GlobalStats aggregates counters across all wagers.
type GlobalStats struct {
	TotalWagers   int64 `json:"total_wagers"`
	TotalResolved int64 `json:"total_resolved"`
	TotalVolume   int64 `json:"total_volume"`
}

// GlobalDelta is an additive change to GlobalStats.
type GlobalDelta struct {
	Wagers   int64
	Resolved int64
	Volume   int64
}
