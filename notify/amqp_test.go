package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/claims-engine/facade"
	"github.com/warp/claims-engine/ledger"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	sent       []published
	publishErr error
	closed     bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.declared = append(f.declared, name+"/"+kind)
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.sent = append(f.sent, published{exchange, key, msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestPublish_PersistentJSONOnTopicExchange(t *testing.T) {
	// GIVEN
	ch := &fakeChannel{}
	p, err := newPublisher(ch, "", nil)
	require.NoError(t, err)
	n := facade.Notice{
		IntentID: "intent-1",
		Method:   ledger.MethodProcessClaim,
		Actor:    common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		TxHash:   "0xabc",
		Block:    12,
		Payload:  map[string]any{"claimId": 7},
	}

	// WHEN
	require.NoError(t, p.Publish(context.Background(), n))

	// THEN
	assert.Equal(t, []string{DefaultExchange + "/topic"}, ch.declared)
	require.Len(t, ch.sent, 1)
	sent := ch.sent[0]
	assert.Equal(t, DefaultExchange, sent.exchange)
	assert.Equal(t, "claims.processClaim", sent.key)
	assert.Equal(t, amqp.Persistent, sent.msg.DeliveryMode)
	assert.Equal(t, "intent-1", sent.msg.MessageId)

	var got facade.Notice
	require.NoError(t, json.Unmarshal(sent.msg.Body, &got))
	assert.Equal(t, n.TxHash, got.TxHash)
	assert.Equal(t, n.Actor, got.Actor)

	pub, failed := p.Stats()
	assert.Equal(t, int64(1), pub)
	assert.Zero(t, failed)
}

func TestPublish_FailureIsCounted(t *testing.T) {
	ch := &fakeChannel{publishErr: errors.New("channel closed")}
	p, err := newPublisher(ch, "custom", nil)
	require.NoError(t, err)

	err = p.Publish(context.Background(), facade.Notice{Method: ledger.MethodWithdraw})

	assert.Error(t, err)
	_, failed := p.Stats()
	assert.Equal(t, int64(1), failed)
	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}
