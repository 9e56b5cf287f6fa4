package agent

import (
	"context"
	"strings"

	"AgroSubsidy-Chain/internal/ledger"
	"AgroSubsidy-Chain/internal/llm"
)

// composeSummary 为处理完的批次生成一段叙述性摘要。
// 大模型缺席或失败时退回确定性的离线模板，摘要永远不会让批次失败。
func (a *Agent) composeSummary(ctx context.Context, event ledger.DisasterEvent, outcomes []llm.PartyOutcome) string {
	req := llm.Request{
		Event: llm.EventDigest{
			ID:           event.ID,
			Region:       event.Region,
			Temperature:  event.Temperature,
			Rainfall:     event.Rainfall,
			DroughtAlert: event.DroughtAlert,
			FloodAlert:   event.FloodAlert,
		},
		Outcomes: outcomes,
	}

	if a.knowledge != nil {
		for _, snippet := range a.knowledge.Query(event.Region, event.DroughtAlert, event.FloodAlert) {
			if strings.TrimSpace(snippet.Title) == "" && strings.TrimSpace(snippet.Content) == "" {
				continue
			}
			req.Knowledge = append(req.Knowledge, llm.KnowledgeCard{
				Title:   snippet.Title,
				Content: snippet.Content,
			})
		}
	}

	if a.summarizer == nil {
		return llm.Fallback(req)
	}

	callCtx, cancel := a.callCtx(ctx)
	defer cancel()
	summary, err := a.summarizer.Summarize(callCtx, req)
	if err != nil {
		a.log.Warn("摘要生成失败，使用离线模板", map[string]any{
			"event_id": event.ID,
			"error":    err.Error(),
		})
		return llm.Fallback(req)
	}
	if strings.TrimSpace(summary) == "" {
		return llm.Fallback(req)
	}
	return summary
}
