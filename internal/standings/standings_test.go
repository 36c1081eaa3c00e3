package standings

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestResolvedCountsWinsAndLosses(t *testing.T) {
	w := domain.Wager{
		PlayerA: "0xa", PlayerAStance: domain.StanceAgree,
		PlayerB: "0xb", PlayerBStance: domain.StanceDisagree,
		Pot: 200,
	}
	s := domain.Settlement{
		Kind:        domain.SettlementWinner,
		Winners:     []string{"0xa"},
		Allocations: []domain.Allocation{{Address: "0xa", Amount: 200}, {Address: "0xb", Amount: 0}},
	}

	deltas := Resolved(w, s, at)
	require.Len(t, deltas, 2)
	assert.Equal(t, domain.PlayerDelta{Address: "0xa", Wins: 1, VolumeWon: 200, At: at}, deltas[0])
	assert.Equal(t, domain.PlayerDelta{Address: "0xb", Losses: 1, At: at}, deltas[1])
}

func TestResolvedPushOnlyTouches(t *testing.T) {
	w := domain.Wager{
		PlayerA: "0xa", PlayerAStance: domain.StanceAgree,
		PlayerB: "0xb", PlayerBStance: domain.StanceAgree,
		Pot: 201,
	}
	s := domain.Settlement{
		Kind:        domain.SettlementPush,
		Allocations: []domain.Allocation{{Address: "0xa", Amount: 100}, {Address: "0xb", Amount: 101}},
	}

	for _, d := range Resolved(w, s, at) {
		assert.Zero(t, d.Wins)
		assert.Zero(t, d.Losses)
		assert.Zero(t, d.VolumeWon)
		assert.Equal(t, at, d.At)
	}
}

func TestRename(t *testing.T) {
	d, err := Rename("0xa", "  oracle-fan  ", at)
	require.NoError(t, err)
	require.NotNil(t, d.Username)
	assert.Equal(t, "oracle-fan", *d.Username)

	_, err = Rename("0xa", "   ", at)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = Rename("0xa", strings.Repeat("x", 33), at)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = Rename("0xa", strings.Repeat("ü", 32), at)
	assert.NoError(t, err)
}

func TestRankIsTotalOrder(t *testing.T) {
	players := []domain.PlayerStats{
		{Address: "0xd", Wins: 1, VolumeWon: 50, VolumeContributed: 10},
		{Address: "0xc", Wins: 1, VolumeWon: 50, VolumeContributed: 10},
		{Address: "0xb", Wins: 1, VolumeWon: 50, VolumeContributed: 20},
		{Address: "0xa", Wins: 1, VolumeWon: 80},
		{Address: "0xe", Wins: 3},
		{Address: "0xf"},
	}

	ranked := Rank(players)
	var order []string
	for _, e := range ranked {
		order = append(order, e.Address)
	}
	assert.Equal(t, []string{"0xe", "0xa", "0xb", "0xc", "0xd", "0xf"}, order)
	assert.Equal(t, 1, ranked[0].Rank)
	assert.Equal(t, 6, ranked[5].Rank)

	for i := range players {
		for j := range players {
			if i == j {
				continue
			}
			assert.NotEqual(t, Less(players[i], players[j]), Less(players[j], players[i]))
		}
	}
}

func TestPage(t *testing.T) {
	items := []int{0, 1, 2, 3, 4}
	assert.Equal(t, []int{1, 2}, Page(items, domain.ListOpts{Offset: 1, Limit: 2}))
	assert.Equal(t, []int{3, 4}, Page(items, domain.ListOpts{Offset: 3, Limit: 10}))
	assert.Equal(t, []int{}, Page(items, domain.ListOpts{Offset: 5, Limit: 1}))
	assert.Equal(t, []int{}, Page(items, domain.ListOpts{Offset: 0, Limit: 0}))

	assert.ErrorIs(t, ValidatePage(domain.ListOpts{Offset: -1}), domain.ErrValidation)
	assert.ErrorIs(t, ValidatePage(domain.ListOpts{Limit: -1}), domain.ErrValidation)
	assert.NoError(t, ValidatePage(domain.ListOpts{}))
}
