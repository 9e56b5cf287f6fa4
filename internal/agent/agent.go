package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"AgroSubsidy-Chain/internal/eventlog"
	"AgroSubsidy-Chain/internal/knowledge"
	"AgroSubsidy-Chain/internal/ledger"
	"AgroSubsidy-Chain/internal/llm"
	"AgroSubsidy-Chain/internal/observability/alerting"
	"AgroSubsidy-Chain/internal/storage/mysql"
	"AgroSubsidy-Chain/internal/submit"
)

// Agent 协调账本读写、规则裁定与资金拨付，是系统的业务核心。
// 所有批次由触发队列串行驱动，Agent 内部不做并发处理。
type Agent struct {
	gateway     ledger.Gateway
	eligibility submit.Submitter
	payments    submit.Submitter
	summarizer  llm.Client
	knowledge   knowledge.Provider
	repo        mysql.DisbursementRepository
	alerts      alerting.Dispatcher
	log         *eventlog.Buffer

	schemeID        string
	callTimeout     time.Duration
	alertThreshold  int
	autoEligibility bool
	autoPayments    bool
	contracts       ledger.ContractAddresses

	cursor atomic.Uint64

	mu            sync.Mutex
	writeFailures map[string]int

	now func() time.Time
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

const (
	defaultSchemeID       = "scheme-001"
	defaultAlertThreshold = 3
)

// WithSummarizer 配置批次摘要的大模型客户端，缺省时使用离线模板。
func WithSummarizer(client llm.Client) Option {
	return func(a *Agent) {
		a.summarizer = client
	}
}

// WithKnowledgeProvider 配置政策知识库，用于在摘要前补充上下文。
func WithKnowledgeProvider(provider knowledge.Provider) Option {
	return func(a *Agent) {
		a.knowledge = provider
	}
}

// WithRepository 配置拨付审计仓库。
func WithRepository(repo mysql.DisbursementRepository) Option {
	return func(a *Agent) {
		a.repo = repo
	}
}

// WithAlertDispatcher 配置告警分发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(a *Agent) {
		a.alerts = dispatcher
	}
}

// WithScheme 设置默认的补贴方案。
func WithScheme(schemeID string) Option {
	return func(a *Agent) {
		if schemeID != "" {
			a.schemeID = schemeID
		}
	}
}

// WithCallTimeout 设置每次账本调用的超时时间。
func WithCallTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout > 0 {
			a.callTimeout = timeout
		}
	}
}

// WithAlertThreshold 设置同一凭证连续写入失败的告警阈值。
func WithAlertThreshold(threshold int) Option {
	return func(a *Agent) {
		if threshold > 0 {
			a.alertThreshold = threshold
		}
	}
}

// WithContracts 记录默认链上四个合约的部署地址，仅用于状态展示。
func WithContracts(contracts ledger.ContractAddresses) Option {
	return func(a *Agent) {
		a.contracts = contracts
	}
}

// WithAutoExecution 记录两条流水线是否启用真实落账，仅用于状态展示。
func WithAutoExecution(eligibility, payments bool) Option {
	return func(a *Agent) {
		a.autoEligibility = eligibility
		a.autoPayments = payments
	}
}

// WithClock 覆盖时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

// New 创建一个 Agent。eligibility 与 payments 分别是两条流水线使用的
// 提交器，真实或虚拟由装配方决定，流水线本身不感知差异。
func New(gateway ledger.Gateway, eligibility, payments submit.Submitter, log *eventlog.Buffer, opts ...Option) *Agent {
	ag := &Agent{
		gateway:        gateway,
		eligibility:    eligibility,
		payments:       payments,
		log:            log,
		schemeID:       defaultSchemeID,
		alertThreshold: defaultAlertThreshold,
		writeFailures:  make(map[string]int),
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag
}

// Status 是 /status 返回的运行快照。
type Status struct {
	Chain           string                   `json:"chain"`
	SchemeID        string                   `json:"scheme_id"`
	Cursor          uint64                   `json:"cursor"`
	Contracts       ledger.ContractAddresses `json:"contracts"`
	SignerReady     bool                     `json:"signer_ready"`
	SummarizerReady bool                     `json:"summarizer_ready"`
	AutoEligibility bool                     `json:"auto_execute_eligibility"`
	AutoPayments    bool                     `json:"auto_execute_payments"`
}

// Status 返回当前运行快照。
func (a *Agent) Status() Status {
	return Status{
		Chain:           a.gateway.ChainName(),
		SchemeID:        a.schemeID,
		Cursor:          a.cursor.Load(),
		Contracts:       a.contracts,
		SignerReady:     a.gateway.CanWrite(),
		SummarizerReady: a.summarizer != nil,
		AutoEligibility: a.autoEligibility,
		AutoPayments:    a.autoPayments,
	}
}

// Log 暴露事件日志缓冲区，供运营端查询。
func (a *Agent) Log() *eventlog.Buffer {
	return a.log
}

// callCtx 为单次账本调用派生带超时的上下文。
func (a *Agent) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.callTimeout)
}
