package llm

import (
	"context"
	"fmt"
	"strings"
)

// EventDigest 是供摘要使用的灾害事件快照。
type EventDigest struct {
	ID           string
	Region       string
	Temperature  int64
	Rainfall     uint64
	DroughtAlert bool
	FloodAlert   bool
}

// PartyOutcome 描述单个受助方在本批次中的处理结果。
// Skipped 非空时表示该受助方未进入裁定流程及原因。
type PartyOutcome struct {
	Party    string
	Eligible bool
	Amount   string
	Reason   string
	Paid     bool
	Virtual  bool
	Skipped  string
}

// KnowledgeCard 表示提供给大模型的知识切片，帮助生成更加准确的摘要。
type KnowledgeCard struct {
	Title   string
	Content string
}

// Request 描述一次灾情处理批次的摘要输入。
type Request struct {
	Event     EventDigest
	Outcomes  []PartyOutcome
	Knowledge []KnowledgeCard
}

// Client 定义了调用大模型生成批次摘要的统一接口。
type Client interface {
	Summarize(ctx context.Context, req Request) (string, error)
}

// Fallback 在大模型不可用时生成确定性的批次摘要。
// 输出只依赖输入，便于测试与审计。
func Fallback(req Request) string {
	eligible := 0
	paid := 0
	skipped := 0
	for _, outcome := range req.Outcomes {
		if outcome.Skipped != "" {
			skipped++
			continue
		}
		if outcome.Eligible {
			eligible++
		}
		if outcome.Paid {
			paid++
		}
	}

	conditions := make([]string, 0, 2)
	if req.Event.DroughtAlert {
		conditions = append(conditions, "干旱预警")
	}
	if req.Event.FloodAlert {
		conditions = append(conditions, "洪涝预警")
	}
	condition := "无灾害预警"
	if len(conditions) > 0 {
		condition = strings.Join(conditions, "、")
	}

	return fmt.Sprintf(
		"灾情事件 %s（%s，%s）处理完成：评估 %d 户，符合条件 %d 户，完成拨付 %d 笔，跳过 %d 户。",
		req.Event.ID, req.Event.Region, condition,
		len(req.Outcomes), eligible, paid, skipped,
	)
}
