package dispatch

import (
	"context"
	"sync/atomic"
	"time"

	"AgroSubsidy-Chain/internal/eventlog"
)

// Runner 把定时节拍与队列消费装配到一起：节拍器按固定间隔投递
// 轮询触发，唯一的工作协程顺序处理所有触发。工作协程尚未空闲时
// 到来的节拍直接跳过，避免轮询请求在队列里越积越多。
type Runner struct {
	queue    Queue
	interval time.Duration
	log      *eventlog.Buffer
	busy     atomic.Bool
}

// NewRunner 构造触发运行器。
func NewRunner(queue Queue, interval time.Duration, log *eventlog.Buffer) *Runner {
	return &Runner{queue: queue, interval: interval, log: log}
}

// Enqueue 投递一个外部触发（模拟、演示）。
func (r *Runner) Enqueue(ctx context.Context, job Job) error {
	return r.queue.Publish(ctx, job)
}

// Busy 报告工作协程当前是否在处理批次。
func (r *Runner) Busy() bool {
	return r.busy.Load()
}

// Start 启动消费协程与节拍器，阻塞到 ctx 取消。
// interval 为零时不启动节拍器，只消费外部触发。
func (r *Runner) Start(ctx context.Context, handler Handler) error {
	consumeErr := make(chan error, 1)
	go func() {
		consumeErr <- r.queue.Consume(ctx, func(ctx context.Context, job Job) error {
			r.busy.Store(true)
			defer r.busy.Store(false)
			return handler(ctx, job)
		})
	}()

	if r.interval <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-consumeErr:
			return err
		}
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-consumeErr:
			return err
		case <-ticker.C:
			if r.busy.Load() {
				r.log.Info("上一批次仍在处理，跳过本次轮询节拍", nil)
				continue
			}
			if err := r.queue.Publish(ctx, Job{Kind: KindPoll}); err != nil {
				r.log.Warn("投递轮询触发失败", map[string]any{"error": err.Error()})
			}
		}
	}
}
