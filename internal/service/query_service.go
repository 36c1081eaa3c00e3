package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/standings"
)

// QueryService is the read-only projection surface over the repository.
type QueryService struct {
	repo    domain.WagerRepository
	payouts domain.PayoutStore
}

// NewQueryService creates a QueryService. payouts may be nil when the
// store does not track payout records.
func NewQueryService(repo domain.WagerRepository, payouts domain.PayoutStore) *QueryService {
	return &QueryService{repo: repo, payouts: payouts}
}

func (q *QueryService) GetWager(ctx context.Context, id string) (domain.Wager, error) {
	w, err := q.repo.GetWager(ctx, id)
	if err != nil {
		return domain.Wager{}, fmt.Errorf("query_service: get wager: %w", err)
	}
	return w, nil
}

func (q *QueryService) GetStatus(ctx context.Context, id string) (domain.WagerStatusView, error) {
	w, err := q.GetWager(ctx, id)
	if err != nil {
		return domain.WagerStatusView{}, err
	}
	return w.StatusView(), nil
}

// ListWagers returns wagers in creation order.
func (q *QueryService) ListWagers(ctx context.Context, opts domain.ListOpts) ([]domain.Wager, error) {
	if err := standings.ValidatePage(opts); err != nil {
		return nil, fmt.Errorf("query_service: list wagers: %w", err)
	}
	ids, err := q.repo.ListWagerIDs(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("query_service: list wagers: %w", err)
	}
	out := make([]domain.Wager, 0, len(ids))
	for _, id := range ids {
		w, err := q.repo.GetWager(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("query_service: list wagers: %w", err)
		}
		out = append(out, w)
	}
	return out, nil
}

func (q *QueryService) LastWagerID(ctx context.Context) (string, error) {
	id, err := q.repo.LastWagerID(ctx)
	if err != nil {
		return "", fmt.Errorf("query_service: last wager: %w", err)
	}
	return id, nil
}

// GetPlayerStats fails with ErrNotFound for an address that never
// interacted.
func (q *QueryService) GetPlayerStats(ctx context.Context, address string) (domain.PlayerStats, error) {
	p, err := q.repo.GetPlayer(ctx, normalizeAddress(address))
	if err != nil {
		return domain.PlayerStats{}, fmt.Errorf("query_service: player stats: %w", err)
	}
	return p, nil
}

// ListPlayers returns players in first-interaction order.
func (q *QueryService) ListPlayers(ctx context.Context, opts domain.ListOpts) ([]domain.PlayerStats, error) {
	if err := standings.ValidatePage(opts); err != nil {
		return nil, fmt.Errorf("query_service: list players: %w", err)
	}
	addrs, err := q.repo.ListPlayerAddresses(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("query_service: list players: %w", err)
	}
	out := make([]domain.PlayerStats, 0, len(addrs))
	for _, a := range addrs {
		p, err := q.repo.GetPlayer(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("query_service: list players: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// GetLeaderboard recomputes the full ranking and returns one page of it.
func (q *QueryService) GetLeaderboard(ctx context.Context, opts domain.ListOpts) ([]domain.LeaderboardEntry, error) {
	if err := standings.ValidatePage(opts); err != nil {
		return nil, fmt.Errorf("query_service: leaderboard: %w", err)
	}
	players, err := q.repo.ListPlayers(ctx)
	if err != nil {
		return nil, fmt.Errorf("query_service: leaderboard: %w", err)
	}
	return standings.Page(standings.Rank(players), opts), nil
}

func (q *QueryService) GetGlobalStats(ctx context.Context) (domain.GlobalStats, error) {
	g, err := q.repo.GlobalStats(ctx)
	if err != nil {
		return domain.GlobalStats{}, fmt.Errorf("query_service: global stats: %w", err)
	}
	return g, nil
}

// ListPayouts returns the payout records of a wager. An unknown wager is
// ErrNotFound; a wager resolved without transfers has none.
func (q *QueryService) ListPayouts(ctx context.Context, wagerID string) ([]domain.Payout, error) {
	if strings.TrimSpace(wagerID) == "" {
		return nil, fmt.Errorf("query_service: payouts: wager id required: %w", domain.ErrValidation)
	}
	if _, err := q.repo.GetWager(ctx, wagerID); err != nil {
		return nil, fmt.Errorf("query_service: payouts: %w", err)
	}
	if q.payouts == nil {
		return []domain.Payout{}, nil
	}
	out, err := q.payouts.ListPayouts(ctx, wagerID)
	if err != nil {
		return nil, fmt.Errorf("query_service: payouts: %w", err)
	}
	if out == nil {
		out = []domain.Payout{}
	}
	return out, nil
}
