package agent

import (
	"context"

	"AgroSubsidy-Chain/internal/observability/metrics"
)

// Bootstrap 将游标对齐到账本头部，并对最近一次历史灾害事件做一次性补处理。
// 补处理失败不会阻止启动，定时轮询会继续覆盖新事件。
func (a *Agent) Bootstrap(ctx context.Context) error {
	callCtx, cancel := a.callCtx(ctx)
	head, err := a.gateway.HeadHeight(callCtx)
	cancel()
	if err != nil {
		return err
	}
	a.cursor.Store(head)
	a.log.Info("代理启动，游标对齐账本头部", map[string]any{
		"chain":  a.gateway.ChainName(),
		"height": head,
	})
	return a.catchUpLatest(ctx)
}

// BootstrapReplay 用于批处理节拍：游标保持在 0，首次轮询从账本起点
// 完整重放全部灾害事件，历史补处理照常执行。
func (a *Agent) BootstrapReplay(ctx context.Context) error {
	a.cursor.Store(0)
	a.log.Info("代理以重放模式启动，游标从账本起点开始", map[string]any{
		"chain": a.gateway.ChainName(),
	})
	return a.catchUpLatest(ctx)
}

// catchUpLatest 对账本上最近一次灾害事件做一次性补处理。
func (a *Agent) catchUpLatest(ctx context.Context) error {
	callCtx, cancel := a.callCtx(ctx)
	event, err := a.gateway.LatestEvent(callCtx)
	cancel()
	if err != nil {
		a.log.Warn("读取历史灾害事件失败，跳过启动补处理", map[string]any{"error": err.Error()})
		return nil
	}
	if event == nil {
		a.log.Info("账本上尚无灾害事件记录", nil)
		return nil
	}

	a.log.Info("补处理最近一次历史灾害事件", map[string]any{"event_id": event.ID})
	if err := a.ProcessEvent(ctx, *event); err != nil {
		a.log.Warn("历史灾害事件补处理失败", map[string]any{
			"event_id": event.ID,
			"error":    err.Error(),
		})
	}
	return nil
}

// PollOnce 执行一次区块范围轮询：处理 (cursor, head] 区间内的全部灾害
// 事件。任一事件处理失败时游标保持不动，下一次轮询重放同一区间；只有
// 整批成功后游标才前移，保证事件不会被跳过。
func (a *Agent) PollOnce(ctx context.Context) error {
	callCtx, cancel := a.callCtx(ctx)
	head, err := a.gateway.HeadHeight(callCtx)
	cancel()
	if err != nil {
		metrics.RecordPollTick("error")
		a.log.Warn("查询账本高度失败", map[string]any{"error": err.Error()})
		return err
	}

	cursor := a.cursor.Load()
	if head <= cursor {
		metrics.RecordPollTick("idle")
		return nil
	}

	callCtx, cancel = a.callCtx(ctx)
	events, err := a.gateway.EventsInRange(callCtx, cursor+1, head)
	cancel()
	if err != nil {
		metrics.RecordPollTick("error")
		a.log.Warn("过滤灾害事件失败，游标保持不动", map[string]any{
			"from":  cursor + 1,
			"to":    head,
			"error": err.Error(),
		})
		return err
	}

	for _, event := range events {
		if err := a.ProcessEvent(ctx, event); err != nil {
			metrics.RecordPollTick("error")
			a.log.Warn("灾害事件处理失败，整批不前移游标", map[string]any{
				"event_id": event.ID,
				"error":    err.Error(),
			})
			return err
		}
	}

	a.cursor.Store(head)
	metrics.RecordPollTick("processed")
	return nil
}

// Cursor 返回当前轮询游标，用于状态展示与测试。
func (a *Agent) Cursor() uint64 {
	return a.cursor.Load()
}
