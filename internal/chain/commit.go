package chain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"

	"arb-exec-bot/internal/arb"
)

// CommitDigest derives the commit-reveal hash for a ticket: keccak256 over
// its canonical msgpack encoding. The encoding is deterministic for a given
// ticket, so the same ticket always commits to the same digest.
func CommitDigest(ticket arb.ExecutionTicket) (common.Hash, error) {
	payload, err := msgpack.Marshal(ticket)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(payload), nil
}
