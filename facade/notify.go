package facade

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/warp/claims-engine/ledger"
)

// Notice announces a confirmed mutation to downstream consumers.
type Notice struct {
	IntentID  string         `json:"intentId"`
	Method    ledger.Method  `json:"method"`
	Actor     common.Address `json:"actor"`
	TxHash    string         `json:"txHash"`
	Block     uint64         `json:"block"`
	Payload   map[string]any `json:"payload,omitempty"`
	Confirmed time.Time      `json:"confirmedAt"`
}

// Notifier publishes notices. Failures never change a façade result.
type Notifier interface {
	Publish(ctx context.Context, n Notice) error
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, Notice) error { return nil }
