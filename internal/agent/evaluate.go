package agent

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"AgroSubsidy-Chain/internal/ledger"
	"AgroSubsidy-Chain/internal/llm"
	"AgroSubsidy-Chain/internal/observability/metrics"
	"AgroSubsidy-Chain/pkg/logger"
)

// ProcessEvent 处理一个灾害事件：逐户评估灾区内的受助方，尝试拨付，
// 最后生成一段批次摘要。区域名单读取失败视为事件级失败，由调用方
// 决定是否重放；单户的失败只影响该户。
func (a *Agent) ProcessEvent(ctx context.Context, event ledger.DisasterEvent) error {
	a.log.Info("检测到灾害事件", map[string]any{
		"event_id": event.ID,
		"region":   event.Region,
		"drought":  event.DroughtAlert,
		"flood":    event.FloodAlert,
	})

	callCtx, cancel := a.callCtx(ctx)
	parties, err := a.gateway.PartiesInRegion(callCtx, event.Region)
	cancel()
	if err != nil {
		a.log.Error("读取灾区受助方名单失败", map[string]any{
			"event_id": event.ID,
			"region":   event.Region,
			"error":    err.Error(),
		})
		return err
	}

	if len(parties) == 0 {
		a.log.Info("灾区内没有登记的受助方", map[string]any{
			"event_id": event.ID,
			"region":   event.Region,
		})
	}

	outcomes := make([]llm.PartyOutcome, 0, len(parties))
	for _, party := range parties {
		outcomes = append(outcomes, a.evaluateParty(ctx, event, party))
	}

	summary := a.composeSummary(ctx, event, outcomes)
	a.log.Info(summary, map[string]any{"event_id": event.ID, "kind": "summary"})

	metrics.RecordEventProcessed()
	return nil
}

// evaluateParty 对单个受助方执行完整的评估与拨付流程。
func (a *Agent) evaluateParty(ctx context.Context, event ledger.DisasterEvent, party common.Address) llm.PartyOutcome {
	outcome := llm.PartyOutcome{Party: party.Hex()}

	callCtx, cancel := a.callCtx(ctx)
	profile, err := a.gateway.Profile(callCtx, party)
	cancel()
	if err != nil {
		a.log.Warn("读取受助方档案失败，跳过该户", map[string]any{
			"party": party.Hex(),
			"error": err.Error(),
		})
		outcome.Skipped = "档案读取失败"
		return outcome
	}

	if !profile.Active {
		a.log.Warn("受助方档案未激活，跳过评估", map[string]any{
			"party":  party.Hex(),
			"region": profile.Region,
			"crop":   profile.CropClass.String(),
		})
		outcome.Skipped = "档案未激活"
		return outcome
	}

	callCtx, cancel = a.callCtx(ctx)
	decision, err := a.gateway.PreviewEligibility(callCtx, party, event.ID, a.schemeID)
	cancel()
	if err != nil {
		a.log.Warn("资格裁定预演失败，跳过该户", map[string]any{
			"party":    party.Hex(),
			"event_id": event.ID,
			"error":    err.Error(),
		})
		outcome.Skipped = "裁定预演失败"
		return outcome
	}

	metrics.RecordDecision(decision.Eligible)
	outcome.Eligible = decision.Eligible
	outcome.Reason = decision.Reason
	outcome.Amount = ledger.FormatAmount(decision.Amount)

	if !decision.Eligible {
		a.log.Info("受助方不符合补贴条件", map[string]any{
			"party":  party.Hex(),
			"reason": decision.Reason,
		})
		return outcome
	}

	receipt, err := a.eligibility.SubmitEligibility(ctx, party, event.ID, a.schemeID)
	if err != nil {
		a.log.Error("资格裁定写入失败，本轮不拨付", map[string]any{
			"party":    party.Hex(),
			"event_id": event.ID,
			"error":    err.Error(),
		})
		a.recordWriteFailure(ctx, event, stageEligibility, party, decision.ProofHash, err)
		return outcome
	}
	a.resetWriteFailure(stageEligibility, decision.ProofHash)

	// 真实落账后以账本上的最新裁定为准，拨付凭证必须来自落账结果。
	if !receipt.Virtual {
		callCtx, cancel = a.callCtx(ctx)
		canonical, err := a.gateway.LatestDecision(callCtx, party)
		cancel()
		if err != nil {
			a.log.Warn("读取已落账裁定失败，沿用预演结果", map[string]any{
				"party": party.Hex(),
				"error": err.Error(),
			})
		} else if canonical.ProofHash != (common.Hash{}) {
			decision = canonical
			outcome.Amount = ledger.FormatAmount(decision.Amount)
			outcome.Reason = decision.Reason
		}
	}

	logger.Audit().Info("资格裁定完成",
		slog.String("party", party.Hex()),
		slog.String("event_id", event.ID),
		slog.String("proof_hash", decision.ProofHash.Hex()),
		slog.String("amount", ledger.FormatAmount(decision.Amount)),
		slog.Bool("virtual", receipt.Virtual),
	)

	paid, virtual := a.attemptPayment(ctx, event, decision)
	outcome.Paid = paid
	outcome.Virtual = virtual || receipt.Virtual
	return outcome
}
