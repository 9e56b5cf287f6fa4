package dispatch

import (
	"context"
	"errors"
	"sync"
)

// MemoryQueue 使用 channel 实现进程内触发队列，是单机部署的默认选择。
type MemoryQueue struct {
	ch     chan string
	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan string, size)}
}

// Publish 将触发投递到队列。
func (q *MemoryQueue) Publish(ctx context.Context, job Job) error {
	payload, err := EncodeJob(job)
	if err != nil {
		return err
	}
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return errors.New("队列已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- payload:
		return nil
	}
}

// Consume 以单工作协程消费队列中的触发。
func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-q.ch:
			if !ok {
				return nil
			}
			job, err := DecodeJob(payload)
			if err != nil {
				continue
			}
			// 处理失败不重投：下一次轮询节拍会覆盖同样的区间。
			_ = handler(ctx, job)
		}
	}
}

// Close 关闭内存队列。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	q.mu.Unlock()
	return nil
}
