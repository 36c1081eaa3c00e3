package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// WagerRepository implements domain.WagerRepository and domain.PayoutStore.
// Each Commit runs in one transaction; player and global counters are
// applied as increments so concurrent batches never overwrite each other.
type WagerRepository struct {
	pool *pgxpool.Pool
}

// NewWagerRepository creates a WagerRepository backed by pool.
func NewWagerRepository(pool *pgxpool.Pool) *WagerRepository {
	return &WagerRepository{pool: pool}
}

const wagerSelectCols = `id, prediction, verification_criteria, category,
	player_a, player_a_stance, player_b, player_b_stance,
	stake_amount, pot, deadline, status, verification, settlement,
	created_at, accepted_at, resolved_at, version`

func scanWager(row pgx.Row) (domain.Wager, error) {
	var (
		w                      domain.Wager
		aStance, bStance       string
		status                 string
		verification, settleJS []byte
	)
	if err := row.Scan(
		&w.ID, &w.Prediction, &w.VerificationCriteria, &w.Category,
		&w.PlayerA, &aStance, &w.PlayerB, &bStance,
		&w.StakeAmount, &w.Pot, &w.Deadline, &status, &verification, &settleJS,
		&w.CreatedAt, &w.AcceptedAt, &w.ResolvedAt, &w.Version,
	); err != nil {
		return domain.Wager{}, err
	}
	w.PlayerAStance = domain.Stance(aStance)
	w.PlayerBStance = domain.Stance(bStance)
	w.Status = domain.WagerStatus(status)
	if verification != nil {
		w.Verification = &domain.VerificationResult{}
		if err := json.Unmarshal(verification, w.Verification); err != nil {
			return domain.Wager{}, fmt.Errorf("decode verification: %w", err)
		}
	}
	if settleJS != nil {
		w.Settlement = &domain.Settlement{}
		if err := json.Unmarshal(settleJS, w.Settlement); err != nil {
			return domain.Wager{}, fmt.Errorf("decode settlement: %w", err)
		}
	}
	return w, nil
}

func (r *WagerRepository) NextWagerSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.pool.QueryRow(ctx, `SELECT nextval('wager_seq')`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("postgres: next wager seq: %w", err)
	}
	return seq, nil
}

func (r *WagerRepository) GetWager(ctx context.Context, id string) (domain.Wager, error) {
	w, err := scanWager(r.pool.QueryRow(ctx, `SELECT `+wagerSelectCols+` FROM wagers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Wager{}, fmt.Errorf("postgres: wager %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Wager{}, fmt.Errorf("postgres: get wager %s: %w", id, err)
	}
	return w, nil
}

func (r *WagerRepository) ListWagerIDs(ctx context.Context, opts domain.ListOpts) ([]string, error) {
	if opts.Limit <= 0 {
		return []string{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id FROM wagers ORDER BY ix LIMIT $1 OFFSET $2`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wager ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: list wager ids: %w", err)
	}
	return ids, nil
}

func (r *WagerRepository) LastWagerID(ctx context.Context) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `SELECT id FROM wagers ORDER BY ix DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("postgres: last wager: %w", domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("postgres: last wager: %w", err)
	}
	return id, nil
}

func (r *WagerRepository) ListResolved(ctx context.Context, from, to time.Time) ([]domain.Wager, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+wagerSelectCols+`
		FROM wagers
		WHERE status = 'resolved' AND resolved_at >= $1 AND resolved_at < $2
		ORDER BY ix`, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved: %w", err)
	}
	defer rows.Close()

	var out []domain.Wager
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan resolved wager: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list resolved rows: %w", err)
	}
	return out, nil
}

const playerSelectCols = `address, username, wagers_created, wagers_joined,
	wins, losses, volume_contributed, volume_won, last_updated`

func scanPlayer(row pgx.Row) (domain.PlayerStats, error) {
	var p domain.PlayerStats
	err := row.Scan(&p.Address, &p.Username, &p.WagersCreated, &p.WagersJoined,
		&p.Wins, &p.Losses, &p.VolumeContributed, &p.VolumeWon, &p.LastUpdated)
	return p, err
}

func (r *WagerRepository) GetPlayer(ctx context.Context, address string) (domain.PlayerStats, error) {
	p, err := scanPlayer(r.pool.QueryRow(ctx, `SELECT `+playerSelectCols+` FROM players WHERE address = $1`, address))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PlayerStats{}, fmt.Errorf("postgres: player %s: %w", address, domain.ErrNotFound)
	}
	if err != nil {
		return domain.PlayerStats{}, fmt.Errorf("postgres: get player %s: %w", address, err)
	}
	return p, nil
}

func (r *WagerRepository) ListPlayerAddresses(ctx context.Context, opts domain.ListOpts) ([]string, error) {
	if opts.Limit <= 0 {
		return []string{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT address FROM players ORDER BY ix LIMIT $1 OFFSET $2`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list player addresses: %w", err)
	}
	addrs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: list player addresses: %w", err)
	}
	return addrs, nil
}

func (r *WagerRepository) ListPlayers(ctx context.Context) ([]domain.PlayerStats, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+playerSelectCols+` FROM players ORDER BY ix`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list players: %w", err)
	}
	defer rows.Close()

	out := []domain.PlayerStats{}
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan player: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list players rows: %w", err)
	}
	return out, nil
}

func (r *WagerRepository) GlobalStats(ctx context.Context) (domain.GlobalStats, error) {
	var g domain.GlobalStats
	err := r.pool.QueryRow(ctx,
		`SELECT total_wagers, total_resolved, total_volume FROM global_stats WHERE id = 1`,
	).Scan(&g.TotalWagers, &g.TotalResolved, &g.TotalVolume)
	if err != nil {
		return domain.GlobalStats{}, fmt.Errorf("postgres: global stats: %w", err)
	}
	return g, nil
}

// Commit writes b in a single transaction.
func (r *WagerRepository) Commit(ctx context.Context, b domain.Batch) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if b.Wager != nil {
		if err := writeWager(ctx, tx, *b.Wager); err != nil {
			return err
		}
	}
	for _, d := range b.Players {
		if err := applyPlayerDelta(ctx, tx, d); err != nil {
			return err
		}
	}
	for _, p := range b.Payouts {
		if err := insertPayout(ctx, tx, p); err != nil {
			return err
		}
	}
	if b.Global != (domain.GlobalDelta{}) {
		if _, err := tx.Exec(ctx, `
			UPDATE global_stats
			SET total_wagers = total_wagers + $1,
			    total_resolved = total_resolved + $2,
			    total_volume = total_volume + $3
			WHERE id = 1`, b.Global.Wagers, b.Global.Resolved, b.Global.Volume); err != nil {
			return fmt.Errorf("postgres: update global stats: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func writeWager(ctx context.Context, tx pgx.Tx, w domain.Wager) error {
	verification, err := jsonOrNil(w.Verification)
	if err != nil {
		return fmt.Errorf("postgres: encode verification: %w", err)
	}
	settlement, err := jsonOrNil(w.Settlement)
	if err != nil {
		return fmt.Errorf("postgres: encode settlement: %w", err)
	}

	if w.Version == 0 {
		_, err := tx.Exec(ctx, `
			INSERT INTO wagers (
				id, prediction, verification_criteria, category,
				player_a, player_a_stance, player_b, player_b_stance,
				stake_amount, pot, deadline, status, verification, settlement,
				created_at, accepted_at, resolved_at, version
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, 1)`,
			w.ID, w.Prediction, w.VerificationCriteria, w.Category,
			w.PlayerA, string(w.PlayerAStance), w.PlayerB, string(w.PlayerBStance),
			w.StakeAmount, w.Pot, w.Deadline, string(w.Status), verification, settlement,
			w.CreatedAt, w.AcceptedAt, w.ResolvedAt,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: insert wager %s: %w", w.ID, domain.ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("postgres: insert wager %s: %w", w.ID, err)
		}
		return nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE wagers SET
			player_b = $2, player_b_stance = $3, pot = $4, status = $5,
			verification = $6, settlement = $7, accepted_at = $8, resolved_at = $9,
			version = version + 1
		WHERE id = $1 AND version = $10`,
		w.ID, w.PlayerB, string(w.PlayerBStance), w.Pot, string(w.Status),
		verification, settlement, w.AcceptedAt, w.ResolvedAt, w.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: update wager %s: %w", w.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM wagers WHERE id = $1)`, w.ID).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: update wager %s: %w", w.ID, err)
	}
	if !exists {
		return fmt.Errorf("postgres: update wager %s: %w", w.ID, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: update wager %s at version %d: %w", w.ID, w.Version, domain.ErrConflict)
}

func applyPlayerDelta(ctx context.Context, tx pgx.Tx, d domain.PlayerDelta) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO players (
			address, username, wagers_created, wagers_joined, wins, losses,
			volume_contributed, volume_won, last_updated
		) VALUES ($1, COALESCE($2, ''), $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (address) DO UPDATE SET
			username           = COALESCE($2, players.username),
			wagers_created     = players.wagers_created + EXCLUDED.wagers_created,
			wagers_joined      = players.wagers_joined + EXCLUDED.wagers_joined,
			wins               = players.wins + EXCLUDED.wins,
			losses             = players.losses + EXCLUDED.losses,
			volume_contributed = players.volume_contributed + EXCLUDED.volume_contributed,
			volume_won         = players.volume_won + EXCLUDED.volume_won,
			last_updated       = GREATEST(players.last_updated, EXCLUDED.last_updated)`,
		d.Address, d.Username, d.WagersCreated, d.WagersJoined, d.Wins, d.Losses,
		d.VolumeContributed, d.VolumeWon, d.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: apply player delta %s: %w", d.Address, err)
	}
	return nil
}

func insertPayout(ctx context.Context, tx pgx.Tx, p domain.Payout) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payouts (
			id, wager_id, address, amount, status, attempts, last_error, tx_ref,
			created_at, updated_at, delivered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.WagerID, p.Address, p.Amount, string(p.Status), p.Attempts, p.LastError, p.TxRef,
		p.CreatedAt, p.UpdatedAt, p.DeliveredAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("postgres: insert payout %s: %w", p.ID, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("postgres: insert payout %s: %w", p.ID, err)
	}
	return nil
}

const payoutSelectCols = `id, wager_id, address, amount, status, attempts,
	last_error, tx_ref, created_at, updated_at, delivered_at`

func scanPayouts(rows pgx.Rows) ([]domain.Payout, error) {
	defer rows.Close()
	out := []domain.Payout{}
	for rows.Next() {
		var (
			p      domain.Payout
			status string
		)
		if err := rows.Scan(&p.ID, &p.WagerID, &p.Address, &p.Amount, &status, &p.Attempts,
			&p.LastError, &p.TxRef, &p.CreatedAt, &p.UpdatedAt, &p.DeliveredAt); err != nil {
			return nil, err
		}
		p.Status = domain.PayoutStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *WagerRepository) ListPayouts(ctx context.Context, wagerID string) ([]domain.Payout, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+payoutSelectCols+` FROM payouts WHERE wager_id = $1 ORDER BY ix`, wagerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list payouts %s: %w", wagerID, err)
	}
	out, err := scanPayouts(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan payouts %s: %w", wagerID, err)
	}
	return out, nil
}

func (r *WagerRepository) GetPayout(ctx context.Context, id string) (domain.Payout, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+payoutSelectCols+` FROM payouts WHERE id = $1`, id)
	if err != nil {
		return domain.Payout{}, fmt.Errorf("postgres: get payout %s: %w", id, err)
	}
	out, err := scanPayouts(rows)
	if err != nil {
		return domain.Payout{}, fmt.Errorf("postgres: scan payout %s: %w", id, err)
	}
	if len(out) == 0 {
		return domain.Payout{}, fmt.Errorf("postgres: payout %s: %w", id, domain.ErrNotFound)
	}
	return out[0], nil
}

func (r *WagerRepository) ListPending(ctx context.Context, limit int) ([]domain.Payout, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+payoutSelectCols+` FROM payouts WHERE status = 'pending' ORDER BY ix LIMIT $1`,
		limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending payouts: %w", err)
	}
	out, err := scanPayouts(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pending payouts: %w", err)
	}
	return out, nil
}

func (r *WagerRepository) UpdatePayout(ctx context.Context, p domain.Payout) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payouts SET
			status = $2, attempts = $3, last_error = $4, tx_ref = $5,
			updated_at = $6, delivered_at = $7
		WHERE id = $1 AND status = 'pending'`,
		p.ID, string(p.Status), p.Attempts, p.LastError, p.TxRef, p.UpdatedAt, p.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update payout %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := r.pool.QueryRow(ctx, `SELECT status FROM payouts WHERE id = $1`, p.ID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("postgres: payout %s: %w", p.ID, domain.ErrNotFound)
		}
		return fmt.Errorf("postgres: payout %s is %s: %w", p.ID, status, domain.ErrConflict)
	}
	return nil
}

func jsonOrNil[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// limitArg maps a non-positive limit to NULL, which Postgres reads as
// LIMIT ALL.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

var (
	_ domain.WagerRepository = (*WagerRepository)(nil)
	_ domain.PayoutStore     = (*WagerRepository)(nil)
)
