/*
Package eth implements ledger.Gateway over Ethereum JSON-RPC.

PURPOSE:
  Reads go through eth_call against the latest block, events through
  eth_getLogs, and mutations are signed locally with the configured key
  and broadcast once. Nothing here retries.

REVERT REASONS:
  A revert detected during gas estimation carries its reason in the RPC
  error data. A transaction that is mined with status 0 carries none, so
  the call is replayed at its block to recover the reason.

SEE ALSO:
  - ledger/gateway.go: the interface
  - abi.go: contract ABI
*/
package eth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/warp/claims-engine/ledger"
)

// Config holds connection settings.
type Config struct {
	RPCURL          string
	ContractAddress string
	PrivateKey      string // hex, without 0x; empty means read-only
	ChainID         int64
	PollInterval    time.Duration
}

// Gateway is a go-ethereum backed ledger.Gateway.
type Gateway struct {
	client   *ethclient.Client
	abi      abi.ABI
	contract *bind.BoundContract
	address  common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	poll     time.Duration
	logger   *slog.Logger
}

var _ ledger.Gateway = (*Gateway)(nil)

// Dial connects to the node and binds the contract.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Gateway, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, ledger.Transport("dial", err)
	}

	g := &Gateway{
		client:  client,
		abi:     parsed,
		address: common.HexToAddress(cfg.ContractAddress),
		chainID: big.NewInt(cfg.ChainID),
		poll:    cfg.PollInterval,
		logger:  logger,
	}
	if g.poll <= 0 {
		g.poll = time.Second
	}
	g.contract = bind.NewBoundContract(g.address, parsed, client, client, client)

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		g.key = key
		g.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return g, nil
}

// Close releases the RPC connection.
func (g *Gateway) Close() { g.client.Close() }

func (g *Gateway) Sender() common.Address          { return g.from }
func (g *Gateway) ContractAddress() common.Address { return g.address }

// =============================================================================
// READS
// =============================================================================

func (g *Gateway) ReadEntity(ctx context.Context, kind ledger.EntityKind, key any) (ledger.Record, error) {
	rec, err := g.call(ctx, string(kind), key)
	if err != nil {
		return ledger.Record{}, err
	}
	// Public mappings return the zero tuple for unknown keys.
	switch kind {
	case ledger.EntityPolicy, ledger.EntityClaim:
		if id, ok := rec.Field("", 0); !ok || isZero(id) {
			return ledger.Record{}, ledger.NotFound(kind, key)
		}
	}
	return rec, nil
}

func (g *Gateway) Call(ctx context.Context, method ledger.Method, args ...any) (ledger.Record, error) {
	return g.call(ctx, string(method), args...)
}

func (g *Gateway) call(ctx context.Context, name string, args ...any) (ledger.Record, error) {
	m, ok := g.abi.Methods[name]
	if !ok {
		return ledger.Record{}, ledger.Transport(name, fmt.Errorf("unknown method %s", name))
	}
	input, err := g.abi.Pack(name, normalizeArgs(args)...)
	if err != nil {
		return ledger.Record{}, ledger.Transport(name, fmt.Errorf("pack: %w", err))
	}
	out, err := g.client.CallContract(ctx, ethereum.CallMsg{From: g.from, To: &g.address, Data: input}, nil)
	if err != nil {
		return ledger.Record{}, g.classify(name, err)
	}

	positional, err := m.Outputs.Unpack(out)
	if err != nil {
		return ledger.Record{}, ledger.Transport(name, fmt.Errorf("unpack: %w", err))
	}
	rec := ledger.Record{Positional: positional}
	if len(m.Outputs) > 1 {
		rec.Named = make(map[string]any, len(m.Outputs))
		if err := m.Outputs.UnpackIntoMap(rec.Named, out); err != nil {
			return ledger.Record{}, ledger.Transport(name, fmt.Errorf("unpack: %w", err))
		}
	}
	return rec, nil
}

func (g *Gateway) ReadEvents(ctx context.Context, kind ledger.EventKind, fromBlock uint64, toBlock *uint64) ([]ledger.Event, error) {
	ev, ok := g.abi.Events[string(kind)]
	if !ok {
		return nil, ledger.Transport("events", fmt.Errorf("unknown event %s", kind))
	}
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{g.address},
		Topics:    [][]common.Hash{{ev.ID}},
	}
	if toBlock != nil {
		q.ToBlock = new(big.Int).SetUint64(*toBlock)
	}
	logs, err := g.client.FilterLogs(ctx, q)
	if err != nil {
		return nil, ledger.Transport("events", err)
	}

	return g.decodeLogs(ev, logs), nil
}

// decodeLogs converts filtered logs to events. A log that does not decode
// is still returned, with empty Fields, so the domain decoder rejects it
// and replays that must not drop events fail instead of skipping it.
func (g *Gateway) decodeLogs(ev abi.Event, logs []types.Log) []ledger.Event {
	out := make([]ledger.Event, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		e, err := g.decodeLog(ev, l)
		if err != nil {
			g.logger.Warn("undecodable log", "event", ev.Name, "tx", l.TxHash.Hex(), "error", err)
			e = ledger.Event{
				Kind:     ledger.EventKind(ev.Name),
				Position: ledger.Position{Block: l.BlockNumber, TxIndex: l.TxIndex, LogIndex: l.Index},
				TxHash:   l.TxHash,
				Fields:   map[string]any{},
			}
		}
		out = append(out, e)
	}
	return out
}

func (g *Gateway) decodeLog(ev abi.Event, l types.Log) (ledger.Event, error) {
	fields := make(map[string]any, len(ev.Inputs))
	if len(l.Data) > 0 {
		if err := ev.Inputs.UnpackIntoMap(fields, l.Data); err != nil {
			return ledger.Event{}, err
		}
	}
	var indexed abi.Arguments
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if len(l.Topics) > 0 {
		if err := abi.ParseTopicsIntoMap(fields, indexed, l.Topics[1:]); err != nil {
			return ledger.Event{}, err
		}
	}
	return ledger.Event{
		Kind:     ledger.EventKind(ev.Name),
		Position: ledger.Position{Block: l.BlockNumber, TxIndex: l.TxIndex, LogIndex: l.Index},
		TxHash:   l.TxHash,
		Fields:   fields,
	}, nil
}

func (g *Gateway) CurrentBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	b, err := g.client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, ledger.Transport("balance", err)
	}
	return b, nil
}

func (g *Gateway) Head(ctx context.Context) (ledger.Head, error) {
	h, err := g.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return ledger.Head{}, ledger.Transport("head", err)
	}
	return ledger.Head{Number: h.Number.Uint64(), Time: time.Unix(int64(h.Time), 0).UTC()}, nil
}

// =============================================================================
// WRITES
// =============================================================================

func (g *Gateway) Submit(ctx context.Context, spec ledger.TxSpec) (ledger.TxHandle, error) {
	op := string(spec.Method)
	if g.key == nil {
		return ledger.TxHandle{}, ledger.Transport(op, errors.New("no signing key configured"))
	}
	opts, err := bind.NewKeyedTransactorWithChainID(g.key, g.chainID)
	if err != nil {
		return ledger.TxHandle{}, ledger.Transport(op, err)
	}
	opts.Context = ctx
	opts.Value = spec.Value

	tx, err := g.contract.Transact(opts, op, normalizeArgs(spec.Args)...)
	if err != nil {
		return ledger.TxHandle{}, g.classify(op, err)
	}
	g.logger.Debug("transaction broadcast", "method", op, "tx", tx.Hash().Hex(), "nonce", tx.Nonce())
	return ledger.TxHandle{Hash: tx.Hash(), Method: spec.Method, From: g.from}, nil
}

// Await polls for the receipt until it exists or ctx ends.
func (g *Gateway) Await(ctx context.Context, h ledger.TxHandle) (ledger.Receipt, error) {
	op := string(h.Method)
	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()

	for {
		r, err := g.client.TransactionReceipt(ctx, h.Hash)
		switch {
		case err == nil:
			if r.Status == types.ReceiptStatusSuccessful {
				return g.receipt(r), nil
			}
			return ledger.Receipt{}, ledger.Reverted(op, g.replayReason(ctx, h, r.BlockNumber))
		case !errors.Is(err, ethereum.NotFound):
			return ledger.Receipt{}, ledger.Transport(op, err)
		}

		select {
		case <-ctx.Done():
			return ledger.Receipt{}, ledger.Transport(op, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (g *Gateway) receipt(r *types.Receipt) ledger.Receipt {
	out := ledger.Receipt{TxHash: r.TxHash, BlockNumber: r.BlockNumber.Uint64(), GasUsed: r.GasUsed}
	for _, l := range r.Logs {
		if len(l.Topics) == 0 {
			continue
		}
		ev, err := g.abi.EventByID(l.Topics[0])
		if err != nil {
			continue
		}
		if e, err := g.decodeLog(*ev, *l); err == nil {
			out.Events = append(out.Events, e)
		}
	}
	return out
}

// replayReason re-executes a failed transaction at its block to read the
// revert reason. Empty when the node cannot tell.
func (g *Gateway) replayReason(ctx context.Context, h ledger.TxHandle, block *big.Int) string {
	tx, _, err := g.client.TransactionByHash(ctx, h.Hash)
	if err != nil {
		return ""
	}
	msg := ethereum.CallMsg{From: h.From, To: tx.To(), Data: tx.Data(), Value: tx.Value(), Gas: tx.Gas()}
	_, err = g.client.CallContract(ctx, msg, block)
	if err == nil {
		return ""
	}
	return revertReason(err)
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

type dataError interface {
	ErrorData() interface{}
}

// classify separates execution reverts from transport failures.
func (g *Gateway) classify(op string, err error) error {
	if reason := revertReason(err); reason != "" {
		return ledger.Reverted(op, reason)
	}
	if strings.Contains(err.Error(), "execution reverted") {
		return ledger.Reverted(op, "")
	}
	return ledger.Transport(op, err)
}

func revertReason(err error) string {
	var de dataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if data, derr := hexutil.Decode(s); derr == nil {
				if reason, uerr := abi.UnpackRevert(data); uerr == nil {
					return reason
				}
			}
		}
	}
	msg := err.Error()
	if i := strings.Index(msg, "execution reverted: "); i >= 0 {
		return msg[i+len("execution reverted: "):]
	}
	return ""
}

// =============================================================================
// HELPERS
// =============================================================================

// normalizeArgs converts domain id types to the ABI's Go types.
// Address and Hash also have Big() and must pass through unchanged.
func normalizeArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case common.Address, common.Hash:
			out[i] = v
		case interface{ Big() *big.Int }:
			out[i] = v.Big()
		case uint64:
			out[i] = new(big.Int).SetUint64(v)
		case int:
			out[i] = big.NewInt(int64(v))
		default:
			out[i] = a
		}
	}
	return out
}

func isZero(v any) bool {
	switch x := v.(type) {
	case *big.Int:
		return x == nil || x.Sign() == 0
	case nil:
		return true
	default:
		return false
	}
}
