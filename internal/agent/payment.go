package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgroSubsidy-Chain/internal/errors"
	"AgroSubsidy-Chain/internal/ledger"
	"AgroSubsidy-Chain/internal/observability/alerting"
	"AgroSubsidy-Chain/internal/observability/metrics"
	"AgroSubsidy-Chain/internal/storage/mysql"
	"AgroSubsidy-Chain/pkg/logger"
)

// 写失败计数按流水线阶段区分，避免两条流水线互相清零。
const (
	stageEligibility = "eligibility"
	stagePayment     = "payment"
)

// attemptPayment 针对一条已落账（或预演）的裁定执行拨付。
// 幂等保障：先查凭证是否已拨付，已拨付则直接跳过；凭证状态读不到时
// 宁可不拨，留待下一轮重试，绝不冒重复拨付的风险。
func (a *Agent) attemptPayment(ctx context.Context, event ledger.DisasterEvent, decision ledger.EligibilityDecision) (paid, virtual bool) {
	callCtx, cancel := a.callCtx(ctx)
	executed, err := a.gateway.IsPaymentExecuted(callCtx, decision.ProofHash)
	cancel()
	if err != nil {
		a.log.Warn("查询拨付状态失败，本轮不拨付", map[string]any{
			"party":      decision.Party.Hex(),
			"proof_hash": decision.ProofHash.Hex(),
			"error":      err.Error(),
		})
		metrics.RecordPayment("failed")
		return false, false
	}
	if executed {
		a.log.Info("该凭证的拨付已执行，跳过", map[string]any{
			"party":      decision.Party.Hex(),
			"proof_hash": decision.ProofHash.Hex(),
		})
		metrics.RecordPayment("duplicate")
		return false, false
	}

	receipt, err := a.payments.SubmitPayment(ctx, decision.Party, decision.ProofHash, decision.Amount)
	if err != nil {
		a.log.Error("拨付交易失败", map[string]any{
			"party":      decision.Party.Hex(),
			"proof_hash": decision.ProofHash.Hex(),
			"error":      err.Error(),
		})
		metrics.RecordPayment("failed")
		a.recordWriteFailure(ctx, event, stagePayment, decision.Party, decision.ProofHash, err)
		return false, false
	}
	a.resetWriteFailure(stagePayment, decision.ProofHash)

	result := "executed"
	if receipt.Virtual {
		result = "virtual"
	}
	metrics.RecordPayment(result)

	amount := ledger.FormatAmount(decision.Amount)
	a.log.Info("拨付完成", map[string]any{
		"party":      decision.Party.Hex(),
		"proof_hash": decision.ProofHash.Hex(),
		"amount":     amount,
		"tx_hash":    receipt.TxHash.Hex(),
		"virtual":    receipt.Virtual,
	})
	logger.Audit().Info("拨付完成",
		slog.String("party", decision.Party.Hex()),
		slog.String("event_id", event.ID),
		slog.String("proof_hash", decision.ProofHash.Hex()),
		slog.String("amount", amount),
		slog.String("tx_hash", receipt.TxHash.Hex()),
		slog.Bool("virtual", receipt.Virtual),
	)

	if a.repo != nil {
		record := mysql.DisbursementRecord{
			EventID:   event.ID,
			Region:    event.Region,
			Party:     decision.Party.Hex(),
			ProofHash: decision.ProofHash.Hex(),
			Amount:    amount,
			TxHash:    receipt.TxHash.Hex(),
			Virtual:   receipt.Virtual,
			CreatedAt: a.now().Unix(),
		}
		if err := a.repo.Save(ctx, record); err != nil {
			a.log.Warn("写入拨付审计记录失败", map[string]any{
				"party": decision.Party.Hex(),
				"error": err.Error(),
			})
		}
	}

	return true, receipt.Virtual
}

// recordWriteFailure 按流水线阶段统计同一凭证的连续写入失败，恰好达到
// 阈值时发出一次告警。同阶段的一次成功写入清零计数，两个阶段互不影响。
func (a *Agent) recordWriteFailure(ctx context.Context, event ledger.DisasterEvent, stage string, party common.Address, proofHash common.Hash, cause error) {
	key := stage + ":" + proofHash.Hex()
	a.mu.Lock()
	a.writeFailures[key]++
	failures := a.writeFailures[key]
	a.mu.Unlock()

	if failures != a.alertThreshold {
		return
	}

	a.log.Error("同一凭证连续写入失败达到阈值，需要人工介入", map[string]any{
		"stage":      stage,
		"party":      party.Hex(),
		"proof_hash": proofHash.Hex(),
		"failures":   failures,
	})
	if a.alerts == nil {
		return
	}
	alertEvent := alerting.Event{
		Code:       ledger.CodeWriteFailure,
		Message:    cause.Error(),
		Severity:   xerrors.SeverityCritical,
		Party:      party.Hex(),
		ProofHash:  proofHash.Hex(),
		EventID:    event.ID,
		Failures:   failures,
		Threshold:  a.alertThreshold,
		OccurredAt: a.now(),
	}
	notifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.alerts.Notify(notifyCtx, alertEvent); err != nil {
		a.log.Warn("告警发送失败", map[string]any{"error": err.Error()})
	}
}

func (a *Agent) resetWriteFailure(stage string, proofHash common.Hash) {
	a.mu.Lock()
	delete(a.writeFailures, stage+":"+proofHash.Hex())
	a.mu.Unlock()
}
