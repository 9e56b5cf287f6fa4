// Package dispatch 承载触发队列：把“该干一次活了”变成串行执行。
// 所有处理批次（定时轮询、手工模拟、演示）都经由同一条队列、
// 由单个工作协程消费，处理的串行性由结构保证而不是靠约定。
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"AgroSubsidy-Chain/internal/ledger"
)

// Kind 标识触发的类别。
type Kind string

const (
	// KindPoll 要求执行一次区块范围轮询。
	KindPoll Kind = "poll"
	// KindSimulate 要求处理一个合成灾害事件。
	KindSimulate Kind = "simulate"
)

// Job 是投入触发队列的一次处理请求。
type Job struct {
	Kind  Kind                  `json:"kind"`
	Event *ledger.DisasterEvent `json:"event,omitempty"`
}

// EncodeJob 将触发序列化为队列载荷。
func EncodeJob(job Job) (string, error) {
	encoded, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("序列化触发失败: %w", err)
	}
	return string(encoded), nil
}

// DecodeJob 从队列载荷还原触发。
func DecodeJob(payload string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return Job{}, fmt.Errorf("解析触发失败: %w", err)
	}
	return job, nil
}

// Handler 处理来自触发队列的一次请求。
type Handler func(ctx context.Context, job Job) error

// Producer 负责向队列投递触发。
type Producer interface {
	Publish(ctx context.Context, job Job) error
	Close() error
}

// Consumer 以单工作协程消费队列，保证批次串行执行。
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
