package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"arb-exec-bot/internal/arb"
)

// Provider manages a shared RPC client handle, dialing lazily and replacing
// the connection after a reported failure.
type Provider struct {
	url     string
	timeout time.Duration
	log     *zap.Logger

	mu     sync.Mutex
	client *ethclient.Client
}

func NewProvider(url string, timeout time.Duration, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{url: url, timeout: timeout, log: log}
}

func (p *Provider) AcquireClient(ctx context.Context) (*ethclient.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	client, err := ethclient.DialContext(dialCtx, p.url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	p.client = client
	return client, nil
}

// Invalidate drops the current connection so the next acquire re-dials.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
}

// Target submits execution tickets to venue router contracts over JSON-RPC.
type Target struct {
	provider *Provider
	signer   *Signer
	venues   map[string]common.Address
	log      *zap.Logger
}

func NewTarget(provider *Provider, signer *Signer, venues map[string]common.Address, log *zap.Logger) (*Target, error) {
	if provider == nil {
		return nil, errors.New("client provider is required")
	}
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Target{provider: provider, signer: signer, venues: venues, log: log}, nil
}

func (t *Target) GetCurrentNonce(ctx context.Context, signer common.Address) (uint64, error) {
	client, err := t.provider.AcquireClient(ctx)
	if err != nil {
		return 0, err
	}
	nonce, err := client.PendingNonceAt(ctx, signer)
	if err != nil {
		t.provider.Invalidate()
		return 0, err
	}
	return nonce, nil
}

func (t *Target) IsVenueWhitelisted(ctx context.Context, venue string) (bool, error) {
	_ = ctx
	_, ok := t.venues[venue]
	return ok, nil
}

func (t *Target) Submit(ctx context.Context, ticket arb.ExecutionTicket) (Receipt, error) {
	router, ok := t.venues[ticket.Venue]
	if !ok {
		return Receipt{}, fmt.Errorf("venue %s has no router address", ticket.Venue)
	}
	client, err := t.provider.AcquireClient(ctx)
	if err != nil {
		return Receipt{}, err
	}
	data, err := t.calldata(ticket)
	if err != nil {
		return Receipt{}, err
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    ticket.Nonce,
		GasPrice: new(big.Int).SetUint64(ticket.GasPriceWei),
		Gas:      ticket.GasLimit,
		To:       &router,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := t.signer.SignTx(tx)
	if err != nil {
		return Receipt{}, err
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		t.provider.Invalidate()
		return Receipt{}, err
	}
	t.log.Debug("transaction submitted",
		zap.String("tx", signed.Hash().Hex()),
		zap.String("venue", ticket.Venue),
		zap.Uint64("nonce", ticket.Nonce),
	)
	receipt, err := bind.WaitMined(ctx, client, signed)
	if err != nil {
		return Receipt{TxHash: signed.Hash().Hex()}, err
	}
	return Receipt{
		TxHash:   signed.Hash().Hex(),
		Success:  receipt.Status == types.ReceiptStatusSuccessful,
		Reverted: receipt.Status == types.ReceiptStatusFailed,
		GasUsed:  receipt.GasUsed,
	}, nil
}

// calldata carries the full ticket for normal submissions and only the commit
// digest for commit-reveal, where the parameters are revealed in a follow-up
// transaction by the router's reveal path.
func (t *Target) calldata(ticket arb.ExecutionTicket) ([]byte, error) {
	if ticket.Countermeasure == arb.CountermeasureCommitReveal {
		digest, err := CommitDigest(ticket)
		if err != nil {
			return nil, err
		}
		return digest.Bytes(), nil
	}
	return msgpack.Marshal(ticket)
}
