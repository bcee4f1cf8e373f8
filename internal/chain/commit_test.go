package chain

import (
	"testing"
	"time"

	"arb-exec-bot/internal/arb"
)

func sampleTicket() arb.ExecutionTicket {
	return arb.ExecutionTicket{
		OpportunityID:  "opp-1",
		Signer:         "0xaa",
		Nonce:          7,
		Pair:           arb.TokenPair{Base: "WETH", Quote: "USDC"},
		Venue:          "uniswap-v3",
		AmountUSD:      500,
		SlippageBps:    50,
		GasPriceWei:    30_000_000_000,
		GasLimit:       250_000,
		Deadline:       time.Unix(1700000000, 0).UTC(),
		Countermeasure: arb.CountermeasureCommitReveal,
	}
}

func TestCommitDigestDeterministic(t *testing.T) {
	ticket := sampleTicket()
	first, err := CommitDigest(ticket)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	second, err := CommitDigest(ticket)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if first != second {
		t.Fatalf("digest not deterministic: %s vs %s", first, second)
	}
}

func TestCommitDigestBindsParameters(t *testing.T) {
	base, err := CommitDigest(sampleTicket())
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	bumped := sampleTicket()
	bumped.Nonce++
	other, err := CommitDigest(bumped)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if base == other {
		t.Fatalf("different tickets must commit to different digests")
	}
}
