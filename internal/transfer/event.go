package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// DefaultInstructionTopic is where payout instructions are emitted.
const DefaultInstructionTopic = "payout.instruction"

// Instruction is the message an external settler consumes. ID doubles as
// the idempotency key.
type Instruction struct {
	ID       string    `json:"id"`
	WagerID  string    `json:"wager_id"`
	Address  string    `json:"address"`
	Amount   int64     `json:"amount"`
	Attempt  int       `json:"attempt"`
	IssuedAt time.Time `json:"issued_at"`
}

// EventTransfer hands payouts to an event sink instead of moving value.
type EventTransfer struct {
	sink  domain.EventSink
	topic string
	now   func() time.Time
}

// NewEvent creates an EventTransfer emitting to topic.
func NewEvent(sink domain.EventSink, topic string) *EventTransfer {
	if topic == "" {
		topic = DefaultInstructionTopic
	}
	return &EventTransfer{sink: sink, topic: topic, now: time.Now}
}

func (e *EventTransfer) Mode() domain.TransferMode { return domain.TransferEvent }

func (e *EventTransfer) Pay(ctx context.Context, p domain.Payout) (string, error) {
	payload, err := json.Marshal(Instruction{
		ID:       p.ID,
		WagerID:  p.WagerID,
		Address:  p.Address,
		Amount:   p.Amount,
		Attempt:  p.Attempts + 1,
		IssuedAt: e.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("transfer: marshal instruction: %w", err)
	}
	if err := e.sink.Emit(ctx, e.topic, p.ID, payload); err != nil {
		return "", fmt.Errorf("transfer: emit instruction %s: %w", p.ID, err)
	}
	return "event:" + p.ID, nil
}

var _ domain.LedgerTransfer = (*EventTransfer)(nil)
