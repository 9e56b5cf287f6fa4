package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"AgroSubsidy-Chain/internal/agent"
	"AgroSubsidy-Chain/internal/auth"
	"AgroSubsidy-Chain/internal/dispatch"
	"AgroSubsidy-Chain/internal/ledger"
	"AgroSubsidy-Chain/internal/observability/metrics"
)

// 日志查询的默认条数，上限由缓冲区容量决定。
const defaultLogLimit = 200

// Server 暴露运营端 REST 接口：状态快照、活动日志、模拟触发与指标。
type Server struct {
	addr   string
	agent  *agent.Agent
	runner *dispatch.Runner
	guard  *auth.Service
}

// NewServer 构造 API 服务实例。guard 为 nil 时等同于关闭访问控制。
func NewServer(addr string, ag *agent.Agent, runner *dispatch.Runner, guard *auth.Service) *Server {
	return &Server{addr: addr, agent: ag, runner: runner, guard: guard}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Routes 返回完整的路由表，测试可直接挂到 httptest 上。
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/logs", s.handleLogs)
	mux.HandleFunc("/simulate", s.handleSimulate)
	mux.HandleFunc("/demo", s.handleDemo)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", metrics.Handler())

	if s.guard != nil && s.guard.Enabled() {
		// 只有会改变系统状态的入口需要令牌，只读接口保持开放。
		return s.guard.Middleware(http.MethodPost)(mux)
	}
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.agent == nil {
		http.Error(w, "智能体未初始化", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.agent.Status())
}

// logsResponse 附带服务端当前时间，客户端以此做增量轮询的游标。
type logsResponse struct {
	Now     int64           `json:"now"`
	Entries []eventlogEntry `json:"entries"`
}

type eventlogEntry struct {
	Timestamp int64          `json:"ts"`
	Level     string         `json:"level"`
	Text      string         `json:"text"`
	Data      map[string]any `json:"data,omitempty"`
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.agent == nil {
		http.Error(w, "智能体未初始化", http.StatusServiceUnavailable)
		return
	}

	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			http.Error(w, "since 参数必须是非负整数", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	buffer := s.agent.Log()
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit 参数必须是正整数", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	if limit > buffer.Capacity() {
		limit = buffer.Capacity()
	}

	entries := buffer.Query(since, limit)
	resp := logsResponse{
		Now:     time.Now().UnixMilli(),
		Entries: make([]eventlogEntry, 0, len(entries)),
	}
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, eventlogEntry{
			Timestamp: entry.Timestamp,
			Level:     string(entry.Level),
			Text:      entry.Text,
			Data:      entry.Data,
		})
	}
	writeJSON(w, resp)
}

// simulateRequest 描述模拟触发的事件参数，缺省值对应标准干旱演示。
type simulateRequest struct {
	Region       string `json:"region"`
	Temperature  *int64 `json:"temperature"`
	Rainfall     *int64 `json:"rainfall"`
	DroughtAlert *bool  `json:"drought_alert"`
	FloodAlert   *bool  `json:"flood_alert"`
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	req := simulateRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	region := req.Region
	if region == "" {
		region = agent.DemoRegion
	}
	temperature := int64(agent.DemoTemperature)
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	rainfall := int64(agent.DemoRainfall)
	if req.Rainfall != nil {
		rainfall = *req.Rainfall
	}
	if rainfall < 0 {
		http.Error(w, "rainfall 不能为负数", http.StatusBadRequest)
		return
	}
	drought := true
	if req.DroughtAlert != nil {
		drought = *req.DroughtAlert
	}
	flood := false
	if req.FloodAlert != nil {
		flood = *req.FloodAlert
	}

	event := agent.SyntheticEvent(region, temperature, uint64(rainfall), drought, flood)
	s.enqueueEvent(w, r, event)
}

// 演示入口使用比 /simulate 缺省值更极端的干旱参数，确保规则稳定命中。
const (
	demoTemperature int64  = 3600
	demoRainfall    uint64 = 100
)

// handleDemo 同时接受 GET 与 POST：演示入口要能直接在浏览器里触发。
func (s *Server) handleDemo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
		return
	}
	event := agent.SyntheticEvent(agent.DemoRegion, demoTemperature, demoRainfall, true, false)
	s.enqueueEvent(w, r, event)
}

func (s *Server) enqueueEvent(w http.ResponseWriter, r *http.Request, event ledger.DisasterEvent) {
	if s.runner == nil {
		http.Error(w, "触发队列未初始化", http.StatusServiceUnavailable)
		return
	}
	if err := s.runner.Enqueue(r.Context(), dispatch.Job{Kind: dispatch.KindSimulate, Event: &event}); err != nil {
		http.Error(w, "触发投递失败: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "queued",
		"event_id": event.ID,
		"region":   event.Region,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
