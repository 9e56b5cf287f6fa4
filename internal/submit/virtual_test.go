package submit

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"AgroSubsidy-Chain/internal/eventlog"
)

func instantSleep(ctx context.Context, d time.Duration) error {
	return nil
}

func TestVirtualSubmitterChoreography(t *testing.T) {
	log := eventlog.New(32)
	submitter := NewVirtualSubmitter(log,
		WithSleep(instantSleep),
		WithIntn(func(n int) int { return 1 }),
	)

	party := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	receipt, err := submitter.SubmitPayment(context.Background(), party, common.Hash{0x12}, big.NewInt(1e18))
	if err != nil {
		t.Fatalf("submit payment: %v", err)
	}
	if !receipt.Virtual {
		t.Fatal("expected virtual receipt")
	}
	if receipt.TxHash == (common.Hash{}) {
		t.Fatal("expected a synthetic tx hash")
	}
	if receipt.GasUsed != 45001 {
		t.Fatalf("unexpected gas: %d", receipt.GasUsed)
	}

	entries := log.Query(0, 0)
	wantOrder := []string{"已提交", "已打包", "确认中 1/2", "确认中 2/2", "已确认"}
	if len(entries) != len(wantOrder) {
		t.Fatalf("expected %d entries, got %d", len(wantOrder), len(entries))
	}
	for i, marker := range wantOrder {
		if !strings.Contains(entries[i].Text, marker) {
			t.Fatalf("entry %d: %q does not contain %q", i, entries[i].Text, marker)
		}
	}
}

func TestVirtualSubmitterHonorsCancellation(t *testing.T) {
	log := eventlog.New(8)
	submitter := NewVirtualSubmitter(log, WithIntn(func(n int) int { return 0 }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := submitter.SubmitEligibility(ctx, common.Address{}, "evt-1", "scheme-001")
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}
