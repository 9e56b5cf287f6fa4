package submit

import (
	"context"
	cryptorand "crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"AgroSubsidy-Chain/internal/eventlog"
	"AgroSubsidy-Chain/internal/ledger"
)

// 虚拟确认节奏与模拟的 gas 区间。
const (
	virtualGasFloor = 45000
	virtualGasSpan  = 85001

	minedDelayFloor   = 250 * time.Millisecond
	minedDelaySpan    = 350
	confirmDelayFloor = 200 * time.Millisecond
	confirmDelaySpan  = 250

	maxConfirmations = 3
)

// VirtualSubmitter 在不触碰账本的情况下模拟提交、打包与多轮确认，
// 输出与真实路径同形的回执，保证演练模式覆盖完整流程。
type VirtualSubmitter struct {
	log   *eventlog.Buffer
	sleep func(ctx context.Context, d time.Duration) error
	intn  func(n int) int
}

var _ Submitter = (*VirtualSubmitter)(nil)

// VirtualOption 定义可选配置。
type VirtualOption func(*VirtualSubmitter)

// WithSleep 覆盖等待实现，测试中注入零延迟。
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) VirtualOption {
	return func(v *VirtualSubmitter) {
		if sleep != nil {
			v.sleep = sleep
		}
	}
}

// WithIntn 覆盖随机数来源，测试中注入确定序列。
func WithIntn(intn func(n int) int) VirtualOption {
	return func(v *VirtualSubmitter) {
		if intn != nil {
			v.intn = intn
		}
	}
}

// NewVirtualSubmitter 构造虚拟提交器。
func NewVirtualSubmitter(log *eventlog.Buffer, opts ...VirtualOption) *VirtualSubmitter {
	v := &VirtualSubmitter{
		log:   log,
		sleep: sleepContext,
		intn:  cryptoIntn,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// SubmitEligibility 模拟一次资格裁定落账。
func (v *VirtualSubmitter) SubmitEligibility(ctx context.Context, party common.Address, eventID, schemeID string) (Receipt, error) {
	return v.choreograph(ctx, "资格裁定", map[string]any{
		"party":    party.Hex(),
		"event_id": eventID,
		"scheme":   schemeID,
	})
}

// SubmitPayment 模拟一次拨付落账。
func (v *VirtualSubmitter) SubmitPayment(ctx context.Context, party common.Address, proofHash common.Hash, amount *big.Int) (Receipt, error) {
	return v.choreograph(ctx, "拨付", map[string]any{
		"party":      party.Hex(),
		"proof_hash": proofHash.Hex(),
		"amount":     ledger.FormatAmount(amount),
	})
}

func (v *VirtualSubmitter) choreograph(ctx context.Context, kind string, data map[string]any) (Receipt, error) {
	txHash := randomHash()
	submitted := withTx(data, txHash)
	v.log.Info(fmt.Sprintf("虚拟%s交易已提交（模拟）", kind), submitted)

	if err := v.sleep(ctx, minedDelayFloor+time.Duration(v.intn(minedDelaySpan))*time.Millisecond); err != nil {
		return Receipt{}, err
	}
	gas := uint64(virtualGasFloor + v.intn(virtualGasSpan))
	mined := withTx(data, txHash)
	mined["gas_used"] = gas
	v.log.Info(fmt.Sprintf("虚拟%s交易已打包", kind), mined)

	confirmations := 1 + v.intn(maxConfirmations)
	for i := 1; i <= confirmations; i++ {
		if err := v.sleep(ctx, confirmDelayFloor+time.Duration(v.intn(confirmDelaySpan))*time.Millisecond); err != nil {
			return Receipt{}, err
		}
		v.log.Info(fmt.Sprintf("虚拟%s交易确认中 %d/%d", kind, i, confirmations), withTx(nil, txHash))
	}
	v.log.Info(fmt.Sprintf("虚拟%s交易已确认", kind), withTx(nil, txHash))

	return Receipt{TxHash: txHash, Virtual: true, GasUsed: gas}, nil
}

func withTx(data map[string]any, txHash common.Hash) map[string]any {
	merged := map[string]any{"tx_hash": txHash.Hex(), "virtual": true}
	for key, value := range data {
		merged[key] = value
	}
	return merged
}

func randomHash() common.Hash {
	var h common.Hash
	if _, err := cryptorand.Read(h[:]); err != nil {
		// crypto/rand 不可用时退化为时间派生，仅影响模拟哈希的随机性。
		binaryFill(h[:], uint64(time.Now().UnixNano()))
	}
	return h
}

func binaryFill(dst []byte, seed uint64) {
	for i := range dst {
		seed = seed*6364136223846793005 + 1442695040888963407
		dst[i] = byte(seed >> 56)
	}
}

func cryptoIntn(n int) int {
	if n <= 1 {
		return 0
	}
	bound := big.NewInt(int64(n))
	value, err := cryptorand.Int(cryptorand.Reader, bound)
	if err != nil {
		return int(time.Now().UnixNano()) % n
	}
	return int(value.Int64())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
