package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"AgroSubsidy-Chain/internal/agent"
	"AgroSubsidy-Chain/internal/auth"
	"AgroSubsidy-Chain/internal/dispatch"
	"AgroSubsidy-Chain/internal/eventlog"
	"AgroSubsidy-Chain/internal/ledger"
	"AgroSubsidy-Chain/internal/submit"
)

type fakeGateway struct{}

func (fakeGateway) ChainName() string { return "test-chain" }
func (fakeGateway) CanWrite() bool    { return false }
func (fakeGateway) Close()            {}

func (fakeGateway) HeadHeight(ctx context.Context) (uint64, error) { return 0, nil }

func (fakeGateway) EventsInRange(ctx context.Context, from, to uint64) ([]ledger.DisasterEvent, error) {
	return nil, nil
}

func (fakeGateway) LatestEvent(ctx context.Context) (*ledger.DisasterEvent, error) {
	return nil, nil
}

func (fakeGateway) PartiesInRegion(ctx context.Context, region string) ([]common.Address, error) {
	return nil, nil
}

func (fakeGateway) Profile(ctx context.Context, party common.Address) (ledger.PartyProfile, error) {
	return ledger.PartyProfile{}, errors.New("not registered")
}

func (fakeGateway) PreviewEligibility(ctx context.Context, party common.Address, eventID, schemeID string) (ledger.EligibilityDecision, error) {
	return ledger.EligibilityDecision{}, errors.New("not registered")
}

func (fakeGateway) SubmitEligibility(ctx context.Context, party common.Address, eventID, schemeID string) (ledger.TxHandle, error) {
	return nil, errors.New("read only")
}

func (fakeGateway) LatestDecision(ctx context.Context, party common.Address) (ledger.EligibilityDecision, error) {
	return ledger.EligibilityDecision{}, nil
}

func (fakeGateway) IsPaymentExecuted(ctx context.Context, proofHash common.Hash) (bool, error) {
	return false, nil
}

func (fakeGateway) SubmitPayment(ctx context.Context, party common.Address, proofHash common.Hash, amount *big.Int) (ledger.TxHandle, error) {
	return nil, errors.New("read only")
}

var _ ledger.Gateway = fakeGateway{}

func newTestServer(t *testing.T, guard *auth.Service) (*Server, *eventlog.Buffer, *dispatch.MemoryQueue) {
	t.Helper()
	log := eventlog.New(32)
	virtual := submit.NewVirtualSubmitter(log,
		submit.WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
		submit.WithIntn(func(n int) int { return 0 }),
	)
	ag := agent.New(fakeGateway{}, virtual, virtual, log, agent.WithScheme("scheme-test"))
	queue := dispatch.NewMemoryQueue(8)
	runner := dispatch.NewRunner(queue, 0, log)
	return NewServer(":0", ag, runner, guard), log, queue
}

func TestStatusEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var status agent.Status
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Chain != "test-chain" || status.SchemeID != "scheme-test" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.SignerReady {
		t.Fatal("read-only gateway must report signer not ready")
	}
}

func TestLogsEndpointFiltersAndCaps(t *testing.T) {
	server, log, _ := newTestServer(t, nil)
	for i := 0; i < 5; i++ {
		log.Info("条目", map[string]any{"i": i})
	}

	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logs?limit=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var resp logsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode logs: %v", err)
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(resp.Entries))
	}
	if resp.Now <= 0 {
		t.Fatal("response must carry the server clock")
	}

	bad := httptest.NewRecorder()
	server.Routes().ServeHTTP(bad, httptest.NewRequest(http.MethodGet, "/logs?since=abc", nil))
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("invalid since should be rejected, got %d", bad.Code)
	}
}

func TestSimulateEnqueuesSyntheticEvent(t *testing.T) {
	server, _, queue := newTestServer(t, nil)

	body := strings.NewReader(`{"region":"EastDistrict","flood_alert":true,"drought_alert":false}`)
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/simulate", body))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status code = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "queued" || resp["region"] != "EastDistrict" {
		t.Fatalf("unexpected response: %v", resp)
	}

	job := receiveJob(t, queue)
	if job.Kind != dispatch.KindSimulate || job.Event == nil {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.Event.Region != "EastDistrict" || !job.Event.FloodAlert || job.Event.DroughtAlert {
		t.Fatalf("unexpected event: %+v", job.Event)
	}
	if !strings.HasPrefix(job.Event.ID, "demo-") {
		t.Fatalf("synthetic event id must carry demo prefix, got %q", job.Event.ID)
	}
}

func TestDemoUsesShowcaseParameters(t *testing.T) {
	server, _, queue := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/demo", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status code = %d", rec.Code)
	}

	job := receiveJob(t, queue)
	if job.Event == nil || job.Event.Region != agent.DemoRegion || !job.Event.DroughtAlert {
		t.Fatalf("unexpected demo event: %+v", job.Event)
	}
	if job.Event.Temperature != 3600 || job.Event.Rainfall != 100 {
		t.Fatalf("demo event must use the drier showcase parameters: %+v", job.Event)
	}
}

func TestMutatingRoutesRequireToken(t *testing.T) {
	guard, err := auth.NewService("static", []string{"ops-token"})
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	server, _, _ := newTestServer(t, guard)
	routes := server.Routes()

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/demo", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated POST should be rejected, got %d", rec.Code)
	}

	open := httptest.NewRecorder()
	routes.ServeHTTP(open, httptest.NewRequest(http.MethodGet, "/status", nil))
	if open.Code != http.StatusOK {
		t.Fatalf("GET must stay open, got %d", open.Code)
	}

	authed := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/demo", nil)
	req.Header.Set("Authorization", "Bearer ops-token")
	routes.ServeHTTP(authed, req)
	if authed.Code != http.StatusAccepted {
		t.Fatalf("authenticated POST should pass, got %d", authed.Code)
	}
}

func TestHealthz(t *testing.T) {
	server, _, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
}

func receiveJob(t *testing.T, queue *dispatch.MemoryQueue) dispatch.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	jobCh := make(chan dispatch.Job, 1)
	go func() {
		_ = queue.Consume(ctx, func(ctx context.Context, job dispatch.Job) error {
			select {
			case jobCh <- job:
			default:
			}
			cancel()
			return nil
		})
	}()

	select {
	case job := <-jobCh:
		return job
	case <-ctx.Done():
		t.Fatal("no job received")
		return dispatch.Job{}
	}
}
