// Package transfer implements the payout capabilities a deployment can be
// configured with: signing native transfers from the escrow wallet, or
// emitting payout instructions for an external settler.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/keystore"
)

// Backend is the subset of the JSON-RPC client DirectTransfer needs.
// *ethclient.Client satisfies it.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// DirectConfig configures a DirectTransfer.
type DirectConfig struct {
	ChainID  int64
	GasLimit uint64
}

// DirectTransfer pays winners with native value transfers signed by the
// escrow key. The payout id is carried in the transaction data and each id
// is broadcast at most once per process.
type DirectTransfer struct {
	backend Backend
	key     *keystore.Key
	signer  types.Signer
	cfg     DirectConfig
	logger  *slog.Logger

	mu   sync.Mutex
	sent map[string]string
}

// Dial connects to rpcURL and returns a DirectTransfer using it.
func Dial(ctx context.Context, rpcURL string, key *keystore.Key, cfg DirectConfig, logger *slog.Logger) (*DirectTransfer, func(), error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("transfer: dial %s: %w", rpcURL, err)
	}
	return NewDirect(client, key, cfg, logger), client.Close, nil
}

// NewDirect creates a DirectTransfer over backend.
func NewDirect(backend Backend, key *keystore.Key, cfg DirectConfig, logger *slog.Logger) *DirectTransfer {
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 30_000
	}
	return &DirectTransfer{
		backend: backend,
		key:     key,
		signer:  types.LatestSignerForChainID(big.NewInt(cfg.ChainID)),
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "transfer_direct")),
		sent:    make(map[string]string),
	}
}

func (d *DirectTransfer) Mode() domain.TransferMode { return domain.TransferDirect }

// Pay signs and broadcasts one transfer. The mutex keeps nonces gapless
// when several payouts are delivered at once.
func (d *DirectTransfer) Pay(ctx context.Context, p domain.Payout) (string, error) {
	if !common.IsHexAddress(p.Address) {
		return "", fmt.Errorf("transfer: %q is not a hex address: %w", p.Address, domain.ErrValidation)
	}
	if p.Amount <= 0 {
		return "", fmt.Errorf("transfer: amount %d must be positive: %w", p.Amount, domain.ErrValidation)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if hash, ok := d.sent[p.ID]; ok {
		return hash, nil
	}

	nonce, err := d.backend.PendingNonceAt(ctx, d.key.Address)
	if err != nil {
		return "", fmt.Errorf("transfer: pending nonce: %w", err)
	}
	gasPrice, err := d.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("transfer: gas price: %w", err)
	}

	to := common.HexToAddress(p.Address)
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(p.Amount),
		Gas:      d.cfg.GasLimit,
		GasPrice: gasPrice,
		Data:     []byte(p.ID),
	}), d.signer, d.key.Private)
	if err != nil {
		return "", fmt.Errorf("transfer: sign: %w", err)
	}

	if err := d.backend.SendTransaction(ctx, tx); err != nil {
		// A node that already has the transaction rejects the resend; the
		// earlier broadcast stands.
		if !strings.Contains(strings.ToLower(err.Error()), "already known") {
			return "", fmt.Errorf("transfer: send: %w", err)
		}
	}

	hash := tx.Hash().Hex()
	d.sent[p.ID] = hash
	d.logger.InfoContext(ctx, "transfer broadcast",
		slog.String("payout_id", p.ID),
		slog.String("to", to.Hex()),
		slog.Int64("amount", p.Amount),
		slog.Uint64("nonce", nonce),
		slog.String("tx", hash),
	)
	return hash, nil
}

var _ domain.LedgerTransfer = (*DirectTransfer)(nil)
