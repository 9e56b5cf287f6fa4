package agent

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"AgroSubsidy-Chain/internal/eventlog"
	"AgroSubsidy-Chain/internal/ledger"
	"AgroSubsidy-Chain/internal/llm"
	"AgroSubsidy-Chain/internal/observability/alerting"
	"AgroSubsidy-Chain/internal/submit"
)

type stubGateway struct {
	head       uint64
	events     []ledger.DisasterEvent
	eventsErr  error
	latest     *ledger.DisasterEvent
	parties    map[string][]common.Address
	partiesErr error
	profiles   map[common.Address]ledger.PartyProfile
	decisions  map[common.Address]ledger.EligibilityDecision
	executed   map[common.Hash]bool
	canWrite   bool
}

func (s *stubGateway) ChainName() string { return "stub" }
func (s *stubGateway) CanWrite() bool    { return s.canWrite }
func (s *stubGateway) Close()            {}

func (s *stubGateway) HeadHeight(ctx context.Context) (uint64, error) {
	return s.head, nil
}

func (s *stubGateway) EventsInRange(ctx context.Context, from, to uint64) ([]ledger.DisasterEvent, error) {
	if s.eventsErr != nil {
		return nil, s.eventsErr
	}
	var events []ledger.DisasterEvent
	for _, event := range s.events {
		if event.SourceHeight >= from && event.SourceHeight <= to {
			events = append(events, event)
		}
	}
	return events, nil
}

func (s *stubGateway) LatestEvent(ctx context.Context) (*ledger.DisasterEvent, error) {
	return s.latest, nil
}

func (s *stubGateway) PartiesInRegion(ctx context.Context, region string) ([]common.Address, error) {
	if s.partiesErr != nil {
		return nil, s.partiesErr
	}
	return s.parties[region], nil
}

func (s *stubGateway) Profile(ctx context.Context, party common.Address) (ledger.PartyProfile, error) {
	profile, ok := s.profiles[party]
	if !ok {
		return ledger.PartyProfile{}, errors.New("档案不存在")
	}
	return profile, nil
}

func (s *stubGateway) PreviewEligibility(ctx context.Context, party common.Address, eventID, schemeID string) (ledger.EligibilityDecision, error) {
	decision, ok := s.decisions[party]
	if !ok {
		return ledger.EligibilityDecision{}, errors.New("无裁定")
	}
	decision.EventID = eventID
	return decision, nil
}

func (s *stubGateway) SubmitEligibility(ctx context.Context, party common.Address, eventID, schemeID string) (ledger.TxHandle, error) {
	return nil, errors.New("stub gateway does not submit")
}

func (s *stubGateway) LatestDecision(ctx context.Context, party common.Address) (ledger.EligibilityDecision, error) {
	return s.decisions[party], nil
}

func (s *stubGateway) IsPaymentExecuted(ctx context.Context, proofHash common.Hash) (bool, error) {
	return s.executed[proofHash], nil
}

func (s *stubGateway) SubmitPayment(ctx context.Context, party common.Address, proofHash common.Hash, amount *big.Int) (ledger.TxHandle, error) {
	return nil, errors.New("stub gateway does not submit")
}

var _ ledger.Gateway = (*stubGateway)(nil)

type stubSubmitter struct {
	receipt submit.Receipt
	err     error
	calls   int
}

func (s *stubSubmitter) SubmitEligibility(ctx context.Context, party common.Address, eventID, schemeID string) (submit.Receipt, error) {
	s.calls++
	return s.receipt, s.err
}

func (s *stubSubmitter) SubmitPayment(ctx context.Context, party common.Address, proofHash common.Hash, amount *big.Int) (submit.Receipt, error) {
	s.calls++
	return s.receipt, s.err
}

// selectiveSubmitter 只让指定受助方的拨付失败，其余照常成功。
type selectiveSubmitter struct {
	failParty common.Address
	receipt   submit.Receipt
	paid      []common.Address
}

func (s *selectiveSubmitter) SubmitEligibility(ctx context.Context, party common.Address, eventID, schemeID string) (submit.Receipt, error) {
	return s.receipt, nil
}

func (s *selectiveSubmitter) SubmitPayment(ctx context.Context, party common.Address, proofHash common.Hash, amount *big.Int) (submit.Receipt, error) {
	if party == s.failParty {
		return submit.Receipt{}, errors.New("节点拒绝交易")
	}
	s.paid = append(s.paid, party)
	return s.receipt, nil
}

type stubSummarizer struct {
	summary string
	err     error
}

func (s *stubSummarizer) Summarize(ctx context.Context, req llm.Request) (string, error) {
	return s.summary, s.err
}

type countingDispatcher struct {
	events []alerting.Event
}

func (c *countingDispatcher) Notify(ctx context.Context, event alerting.Event) error {
	c.events = append(c.events, event)
	return nil
}

func instantVirtual(log *eventlog.Buffer) *submit.VirtualSubmitter {
	return submit.NewVirtualSubmitter(log,
		submit.WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
		submit.WithIntn(func(n int) int { return 0 }),
	)
}

var (
	partyActive    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	partyRejected  = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	partyInactive  = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	partySecond    = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	proofActive    = common.HexToHash("0x01")
	proofRejected  = common.HexToHash("0x02")
	proofSecond    = common.HexToHash("0x03")
	demoAmountWei  = new(big.Int).Mul(big.NewInt(15), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))
)

func demoGateway() *stubGateway {
	return &stubGateway{
		head: 5,
		parties: map[string][]common.Address{
			DemoRegion: {partyActive, partyRejected, partyInactive},
		},
		profiles: map[common.Address]ledger.PartyProfile{
			partyActive:   {Address: partyActive, Region: DemoRegion, CropClass: ledger.CropRice, Active: true},
			partyRejected: {Address: partyRejected, Region: DemoRegion, CropClass: ledger.CropWheat, Active: true},
			partyInactive: {Address: partyInactive, Region: DemoRegion, CropClass: ledger.CropCorn, Active: false},
		},
		decisions: map[common.Address]ledger.EligibilityDecision{
			partyActive: {
				Party:     partyActive,
				Eligible:  true,
				Amount:    demoAmountWei,
				ProofHash: proofActive,
				Reason:    "干旱强度超过阈值",
			},
			partyRejected: {
				Party:     partyRejected,
				Eligible:  false,
				Amount:    big.NewInt(0),
				ProofHash: proofRejected,
				Reason:    "作物不在补贴范围",
			},
		},
		executed: map[common.Hash]bool{},
	}
}

func TestProcessSyntheticEventFullPipeline(t *testing.T) {
	gateway := demoGateway()
	log := eventlog.New(128)
	ag := New(gateway, instantVirtual(log), instantVirtual(log), log)

	event := DefaultSyntheticEvent()
	if err := ag.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("process event: %v", err)
	}

	entries := log.Query(0, 0)
	if len(entries) < 8 {
		t.Fatalf("expected at least 8 log entries, got %d", len(entries))
	}
	last := entries[len(entries)-1]
	if last.Data["kind"] != "summary" {
		t.Fatalf("expected batch to end with a summary entry, got %q", last.Text)
	}
	if !strings.Contains(last.Text, "评估 3 户") {
		t.Fatalf("unexpected summary: %q", last.Text)
	}

	var sawInactiveSkip, sawRejection, sawPayout bool
	for _, entry := range entries {
		if strings.Contains(entry.Text, "未激活") {
			sawInactiveSkip = true
		}
		if strings.Contains(entry.Text, "不符合补贴条件") {
			sawRejection = true
		}
		if strings.Contains(entry.Text, "拨付完成") {
			sawPayout = true
			if entry.Data["amount"] != "1.5" {
				t.Fatalf("unexpected payout amount: %v", entry.Data["amount"])
			}
		}
	}
	if !sawInactiveSkip || !sawRejection || !sawPayout {
		t.Fatalf("missing pipeline entries: inactive=%t rejection=%t payout=%t",
			sawInactiveSkip, sawRejection, sawPayout)
	}
}

func TestPollOnceAdvancesCursorOnlyOnFullSuccess(t *testing.T) {
	gateway := demoGateway()
	gateway.events = []ledger.DisasterEvent{
		{ID: "evt-6", Region: DemoRegion, DroughtAlert: true, SourceHeight: 6},
		{ID: "evt-7", Region: DemoRegion, DroughtAlert: true, SourceHeight: 7},
	}
	log := eventlog.New(256)
	ag := New(gateway, instantVirtual(log), instantVirtual(log), log)

	ctx := context.Background()
	if err := ag.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if ag.Cursor() != 5 {
		t.Fatalf("cursor after bootstrap: %d", ag.Cursor())
	}

	gateway.head = 7
	gateway.partiesErr = errors.New("账本不可用")
	if err := ag.PollOnce(ctx); err == nil {
		t.Fatal("expected poll failure")
	}
	if ag.Cursor() != 5 {
		t.Fatalf("cursor must not advance on failure, got %d", ag.Cursor())
	}

	gateway.partiesErr = nil
	if err := ag.PollOnce(ctx); err != nil {
		t.Fatalf("poll retry: %v", err)
	}
	if ag.Cursor() != 7 {
		t.Fatalf("cursor after successful poll: %d", ag.Cursor())
	}

	// 空区间只消耗一个节拍，不产生批次。
	if err := ag.PollOnce(ctx); err != nil {
		t.Fatalf("idle poll: %v", err)
	}
	if ag.Cursor() != 7 {
		t.Fatalf("idle poll moved cursor: %d", ag.Cursor())
	}
}

func TestBootstrapReplayStartsFromGenesis(t *testing.T) {
	gateway := demoGateway()
	gateway.events = []ledger.DisasterEvent{
		{ID: "evt-2", Region: DemoRegion, DroughtAlert: true, SourceHeight: 2},
		{ID: "evt-5", Region: DemoRegion, DroughtAlert: true, SourceHeight: 5},
	}
	log := eventlog.New(256)
	ag := New(gateway, instantVirtual(log), instantVirtual(log), log)

	ctx := context.Background()
	if err := ag.BootstrapReplay(ctx); err != nil {
		t.Fatalf("bootstrap replay: %v", err)
	}
	if ag.Cursor() != 0 {
		t.Fatalf("replay bootstrap must keep cursor at genesis, got %d", ag.Cursor())
	}

	if err := ag.PollOnce(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if ag.Cursor() != 5 {
		t.Fatalf("cursor after replay poll: %d", ag.Cursor())
	}

	var replayed int
	for _, entry := range log.Query(0, 0) {
		if entry.Text == "检测到灾害事件" {
			replayed++
		}
	}
	if replayed < 2 {
		t.Fatalf("expected both historical events replayed, got %d", replayed)
	}
}

func TestPaymentFailureIsContainedPerParty(t *testing.T) {
	gateway := demoGateway()
	gateway.parties[DemoRegion] = []common.Address{partyActive, partySecond}
	gateway.profiles[partySecond] = ledger.PartyProfile{
		Address: partySecond, Region: DemoRegion, CropClass: ledger.CropWheat, Active: true,
	}
	gateway.decisions[partySecond] = ledger.EligibilityDecision{
		Party:     partySecond,
		Eligible:  true,
		Amount:    demoAmountWei,
		ProofHash: proofSecond,
		Reason:    "干旱强度超过阈值",
	}
	gateway.events = []ledger.DisasterEvent{
		{ID: "evt-6", Region: DemoRegion, DroughtAlert: true, SourceHeight: 6},
	}

	log := eventlog.New(256)
	payments := &selectiveSubmitter{
		failParty: partyActive,
		receipt:   submit.Receipt{TxHash: common.HexToHash("0xbeef"), Virtual: true},
	}
	ag := New(gateway, instantVirtual(log), payments, log)

	ctx := context.Background()
	if err := ag.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	gateway.head = 6
	if err := ag.PollOnce(ctx); err != nil {
		t.Fatalf("single party payment failure must not fail the batch: %v", err)
	}
	if ag.Cursor() != 6 {
		t.Fatalf("cursor must advance when the batch completes, got %d", ag.Cursor())
	}

	if len(payments.paid) != 1 || payments.paid[0] != partySecond {
		t.Fatalf("remaining party must still be paid, got %v", payments.paid)
	}
	var sawFailure bool
	for _, entry := range log.Query(0, 0) {
		if entry.Text == "拨付交易失败" && entry.Data["party"] == partyActive.Hex() {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Fatal("expected a payment failure entry for the failing party")
	}
}

func TestPaymentSkipsExecutedProof(t *testing.T) {
	gateway := demoGateway()
	gateway.executed[proofActive] = true
	log := eventlog.New(128)
	payments := &stubSubmitter{}
	ag := New(gateway, instantVirtual(log), payments, log)

	if err := ag.ProcessEvent(context.Background(), DefaultSyntheticEvent()); err != nil {
		t.Fatalf("process event: %v", err)
	}

	if payments.calls != 0 {
		t.Fatalf("executed proof must not be paid again, got %d calls", payments.calls)
	}
	var sawSkip bool
	for _, entry := range log.Query(0, 0) {
		if strings.Contains(entry.Text, "拨付已执行") {
			sawSkip = true
		}
	}
	if !sawSkip {
		t.Fatal("expected duplicate payment skip entry")
	}
}

func TestWriteFailureAlertFiresOnceAtThreshold(t *testing.T) {
	gateway := demoGateway()
	log := eventlog.New(256)
	payments := &stubSubmitter{err: errors.New("节点拒绝交易")}
	alerts := &countingDispatcher{}
	ag := New(gateway, instantVirtual(log), payments, log,
		WithAlertDispatcher(alerts),
		WithAlertThreshold(3),
	)

	ctx := context.Background()
	event := DefaultSyntheticEvent()
	for i := 0; i < 4; i++ {
		if err := ag.ProcessEvent(ctx, event); err != nil {
			t.Fatalf("process event %d: %v", i, err)
		}
	}

	if len(alerts.events) != 1 {
		t.Fatalf("expected exactly one alert at threshold crossing, got %d", len(alerts.events))
	}
	alert := alerts.events[0]
	if alert.Failures != 3 || alert.Threshold != 3 {
		t.Fatalf("unexpected alert counters: %+v", alert)
	}
	if alert.ProofHash != proofActive.Hex() {
		t.Fatalf("unexpected alert proof: %s", alert.ProofHash)
	}
}

func TestSummarizerFailureFallsBackToTemplate(t *testing.T) {
	gateway := demoGateway()
	log := eventlog.New(128)
	ag := New(gateway, instantVirtual(log), instantVirtual(log), log,
		WithSummarizer(&stubSummarizer{err: errors.New("模型不可用")}),
	)

	if err := ag.ProcessEvent(context.Background(), DefaultSyntheticEvent()); err != nil {
		t.Fatalf("process event: %v", err)
	}

	entries := log.Query(0, 0)
	last := entries[len(entries)-1]
	if !strings.Contains(last.Text, "处理完成") {
		t.Fatalf("expected fallback summary, got %q", last.Text)
	}
	var sawWarn bool
	for _, entry := range entries {
		if strings.Contains(entry.Text, "摘要生成失败") {
			sawWarn = true
		}
	}
	if !sawWarn {
		t.Fatal("expected summarizer failure warning")
	}
}

func TestStatusSnapshot(t *testing.T) {
	gateway := demoGateway()
	gateway.canWrite = true
	log := eventlog.New(16)
	contracts := ledger.ContractAddresses{
		PartyRegistry:  "0x0000000000000000000000000000000000000011",
		DisasterOracle: "0x0000000000000000000000000000000000000022",
		RulesEngine:    "0x0000000000000000000000000000000000000033",
		FundCustodian:  "0x0000000000000000000000000000000000000044",
	}
	ag := New(gateway, instantVirtual(log), instantVirtual(log), log,
		WithScheme("scheme-007"),
		WithSummarizer(&stubSummarizer{summary: "ok"}),
		WithAutoExecution(true, false),
		WithContracts(contracts),
	)

	status := ag.Status()
	if status.Chain != "stub" || status.SchemeID != "scheme-007" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.Contracts != contracts {
		t.Fatalf("status must carry the contract addresses: %+v", status.Contracts)
	}
	if !status.SignerReady || !status.SummarizerReady {
		t.Fatalf("expected signer and summarizer ready: %+v", status)
	}
	if !status.AutoEligibility || status.AutoPayments {
		t.Fatalf("unexpected auto flags: %+v", status)
	}
}
