package chain

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"arb-exec-bot/internal/state"
)

// NonceSource hands out strictly increasing, never reused nonces per signer.
// The authoritative counter is queried under a per-signer mutex immediately
// before submission, and the submission itself runs inside the same critical
// section so issued nonces reflect true submission order. A submission that
// times out is treated as consumed: the local floor keeps the nonce burned
// even if the transaction is later dropped, trading a possible gap for the
// guarantee that no nonce is ever handed out twice. Pre-flight rejections
// never consume a nonce.
type NonceSource struct {
	counter NonceCounter
	store   state.Store
	log     *zap.Logger

	mu    sync.Mutex
	lanes map[common.Address]*nonceLane
}

type nonceLane struct {
	mu       sync.Mutex
	loaded   bool
	hasLast  bool
	last     uint64
	storeKey string
}

func NewNonceSource(counter NonceCounter, store state.Store, log *zap.Logger) *NonceSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &NonceSource{
		counter: counter,
		store:   store,
		log:     log,
		lanes:   make(map[common.Address]*nonceLane),
	}
}

// WithNext resolves the next nonce for the signer and runs submit inside the
// per-signer critical section. submit reports whether the nonce was consumed
// (accepted by the chain, including reverts) — only then does the local floor
// advance.
func (n *NonceSource) WithNext(ctx context.Context, signer common.Address, submit func(nonce uint64) (consumed bool, err error)) error {
	lane := n.lane(signer)
	lane.mu.Lock()
	defer lane.mu.Unlock()

	if err := n.loadFloorLocked(ctx, lane); err != nil {
		return err
	}
	chainNonce, err := n.counter.GetCurrentNonce(ctx, signer)
	if err != nil {
		return fmt.Errorf("query current nonce: %w", err)
	}
	next := chainNonce
	if lane.hasLast && lane.last+1 > next {
		next = lane.last + 1
	}

	consumed, err := submit(next)
	if consumed {
		lane.last = next
		lane.hasLast = true
		n.persistFloorLocked(lane)
	}
	return err
}

func (n *NonceSource) lane(signer common.Address) *nonceLane {
	n.mu.Lock()
	defer n.mu.Unlock()
	lane, ok := n.lanes[signer]
	if !ok {
		lane = &nonceLane{storeKey: nonceFloorKey(signer)}
		n.lanes[signer] = lane
	}
	return lane
}

func (n *NonceSource) loadFloorLocked(ctx context.Context, lane *nonceLane) error {
	if lane.loaded || n.store == nil {
		lane.loaded = true
		return nil
	}
	raw, ok, err := n.store.Get(ctx, lane.storeKey)
	if err != nil {
		return err
	}
	if ok {
		parsed, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid stored nonce %q: %w", raw, err)
		}
		lane.last = parsed
		lane.hasLast = true
	}
	lane.loaded = true
	return nil
}

func (n *NonceSource) persistFloorLocked(lane *nonceLane) {
	if n.store == nil {
		return
	}
	if err := n.store.Set(context.Background(), lane.storeKey, strconv.FormatUint(lane.last, 10)); err != nil {
		n.log.Warn("nonce floor persistence failed", zap.String("key", lane.storeKey), zap.Error(err))
	}
}

func nonceFloorKey(signer common.Address) string {
	return "chain:nonce:" + strings.ToLower(signer.Hex())
}
