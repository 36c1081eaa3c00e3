package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/keystore"
)

type fakeBackend struct {
	nonce   uint64
	sent    []*types.Transaction
	sendErr error
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func escrowKey(t *testing.T) *keystore.Key {
	t.Helper()
	k, err := keystore.ParseHex("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	return k
}

func TestDirectTransferSignsAndDedups(t *testing.T) {
	backend := &fakeBackend{nonce: 7}
	key := escrowKey(t)
	d := NewDirect(backend, key, DirectConfig{ChainID: 137}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	p := domain.Payout{ID: "c0ffee00-0000-4000-8000-000000000001", Address: "0x000000000000000000000000000000000000bEEF", Amount: 200}
	hash, err := d.Pay(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, hash, tx.Hash().Hex())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, big.NewInt(200), tx.Value())
	assert.Equal(t, common.HexToAddress(p.Address), *tx.To())
	assert.Equal(t, []byte(p.ID), tx.Data())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(137)), tx)
	require.NoError(t, err)
	assert.Equal(t, key.Address, from)

	again, err := d.Pay(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, hash, again)
	assert.Len(t, backend.sent, 1, "a payout id is broadcast once")
}

func TestDirectTransferRejectsBadInput(t *testing.T) {
	d := NewDirect(&fakeBackend{}, escrowKey(t), DirectConfig{ChainID: 1}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := d.Pay(context.Background(), domain.Payout{ID: "x", Address: "bob", Amount: 1})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = d.Pay(context.Background(), domain.Payout{ID: "x", Address: "0x000000000000000000000000000000000000bEEF"})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestDirectTransferSurfacesSendError(t *testing.T) {
	backend := &fakeBackend{sendErr: errors.New("insufficient funds")}
	d := NewDirect(backend, escrowKey(t), DirectConfig{ChainID: 1}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := d.Pay(context.Background(), domain.Payout{ID: "y", Address: "0x000000000000000000000000000000000000bEEF", Amount: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient funds")
}

type captureSink struct {
	topic, key string
	payload    []byte
}

func (c *captureSink) Emit(_ context.Context, topic, key string, payload []byte) error {
	c.topic, c.key, c.payload = topic, key, payload
	return nil
}

func TestEventTransferEmitsInstruction(t *testing.T) {
	sink := &captureSink{}
	e := NewEvent(sink, "")

	ref, err := e.Pay(context.Background(), domain.Payout{ID: "p1", WagerID: "w1", Address: "0xabc", Amount: 9, Attempts: 2})
	require.NoError(t, err)
	assert.Equal(t, "event:p1", ref)
	assert.Equal(t, DefaultInstructionTopic, sink.topic)
	assert.Equal(t, "p1", sink.key)

	var in Instruction
	require.NoError(t, json.Unmarshal(sink.payload, &in))
	assert.Equal(t, int64(9), in.Amount)
	assert.Equal(t, 3, in.Attempt)
}
