// Package submit 将“把决定落到账本”抽象为一种可替换的能力。
// 真实变体驱动账本网关写入并等待确认；虚拟变体在不触碰账本的前提下
// 产出同样形状的回执与确认轨迹。流水线只依赖 Submitter，不感知差异。
package submit

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"AgroSubsidy-Chain/internal/eventlog"
	"AgroSubsidy-Chain/internal/ledger"
)

// Receipt 是一次提交的最终结果。
type Receipt struct {
	TxHash  common.Hash
	Virtual bool
	GasUsed uint64
}

// Submitter 把资格裁定与拨付落到账本（或模拟落账）。
type Submitter interface {
	SubmitEligibility(ctx context.Context, party common.Address, eventID, schemeID string) (Receipt, error)
	SubmitPayment(ctx context.Context, party common.Address, proofHash common.Hash, amount *big.Int) (Receipt, error)
}

// LedgerSubmitter 通过账本网关执行真实写入并等待打包确认。
type LedgerSubmitter struct {
	gateway ledger.Gateway
	log     *eventlog.Buffer
}

var _ Submitter = (*LedgerSubmitter)(nil)

// NewLedgerSubmitter 构造真实提交器。
func NewLedgerSubmitter(gateway ledger.Gateway, log *eventlog.Buffer) *LedgerSubmitter {
	return &LedgerSubmitter{gateway: gateway, log: log}
}

// SubmitEligibility 将资格裁定写入账本并等待确认。
func (s *LedgerSubmitter) SubmitEligibility(ctx context.Context, party common.Address, eventID, schemeID string) (Receipt, error) {
	handle, err := s.gateway.SubmitEligibility(ctx, party, eventID, schemeID)
	if err != nil {
		return Receipt{}, err
	}
	s.log.Info("资格裁定交易已提交", map[string]any{
		"tx_hash": handle.Hash().Hex(),
		"party":   party.Hex(),
	})
	if err := handle.Wait(ctx); err != nil {
		return Receipt{}, err
	}
	s.log.Info("资格裁定交易已确认", map[string]any{"tx_hash": handle.Hash().Hex()})
	return Receipt{TxHash: handle.Hash()}, nil
}

// SubmitPayment 执行拨付交易并等待确认。
func (s *LedgerSubmitter) SubmitPayment(ctx context.Context, party common.Address, proofHash common.Hash, amount *big.Int) (Receipt, error) {
	handle, err := s.gateway.SubmitPayment(ctx, party, proofHash, amount)
	if err != nil {
		return Receipt{}, err
	}
	s.log.Info("拨付交易已提交", map[string]any{
		"tx_hash":    handle.Hash().Hex(),
		"party":      party.Hex(),
		"proof_hash": proofHash.Hex(),
		"amount":     ledger.FormatAmount(amount),
	})
	if err := handle.Wait(ctx); err != nil {
		return Receipt{}, err
	}
	s.log.Info("拨付交易已确认", map[string]any{"tx_hash": handle.Hash().Hex()})
	return Receipt{TxHash: handle.Hash()}, nil
}
