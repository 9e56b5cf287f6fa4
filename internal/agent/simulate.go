package agent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"AgroSubsidy-Chain/internal/dispatch"
	xerrors "AgroSubsidy-Chain/internal/errors"
	"AgroSubsidy-Chain/internal/ledger"
)

// 合成灾害事件的默认参数，用于演示与联调。
const (
	DemoRegion      = "DemoDistrict"
	DemoTemperature = 3000
	DemoRainfall    = 500
)

// SyntheticEvent 构造一个合成灾害事件。事件 ID 带 demo- 前缀，
// 方便在日志与审计里与链上事件区分开。
func SyntheticEvent(region string, temperature int64, rainfall uint64, drought, flood bool) ledger.DisasterEvent {
	return ledger.DisasterEvent{
		ID:           "demo-" + uuid.NewString(),
		Region:       region,
		Temperature:  temperature,
		Rainfall:     rainfall,
		DroughtAlert: drought,
		FloodAlert:   flood,
		ObservedAt:   time.Now().Unix(),
	}
}

// DefaultSyntheticEvent 返回演示模式使用的标准干旱事件。
func DefaultSyntheticEvent() ledger.DisasterEvent {
	return SyntheticEvent(DemoRegion, DemoTemperature, DemoRainfall, true, false)
}

// HandleTrigger 把触发队列的请求分派到对应的流水线。
func (a *Agent) HandleTrigger(ctx context.Context, job dispatch.Job) error {
	switch job.Kind {
	case dispatch.KindPoll:
		return a.PollOnce(ctx)
	case dispatch.KindSimulate:
		if job.Event == nil {
			return xerrors.New(xerrors.CodeInvalidArgument, "模拟触发缺少事件内容")
		}
		return a.ProcessEvent(ctx, *job.Event)
	default:
		return xerrors.New(xerrors.CodeInvalidArgument, "未知的触发类别")
	}
}
