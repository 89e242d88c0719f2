package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "ZKRebalance-Chain/internal/errors"
	"ZKRebalance-Chain/internal/observability/metrics"
	"ZKRebalance-Chain/internal/reputation"
	"ZKRebalance-Chain/internal/workflow"
)

// Server 负责暴露 REST 接口，供外部提交再平衡运行并查询结果。
type Server struct {
	addr   string
	runs   *workflow.Service
	ledger reputation.Ledger
	token  string
}

// Option 配置 API 服务的可选行为。
type Option func(*Server)

// WithBearerToken 启用静态 Bearer 令牌校验；令牌为空时保持开放访问。
func WithBearerToken(token string) Option {
	return func(s *Server) { s.token = strings.TrimSpace(token) }
}

// NewServer 构造 API 服务实例。信誉账本可以为空，此时信誉端点返回 503。
func NewServer(addr string, runs *workflow.Service, ledger reputation.Ledger, opts ...Option) *Server {
	s := &Server{addr: addr, runs: runs, ledger: ledger}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 组装全部路由。单独暴露是为了便于测试与自定义挂载。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/runs", s.instrument("runs", s.handleRuns))
	mux.HandleFunc("/api/v1/runs/stats", s.instrument("run_stats", s.handleRunStats))
	mux.HandleFunc("/api/v1/runs/", s.instrument("run_detail", s.handleRunDetail))
	mux.HandleFunc("/api/v1/reputation/", s.instrument("reputation", s.handleReputation))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return s.requireAuth(mux)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	// 配置 HTTP 服务器。
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
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

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleSubmitRun 接收运行参数并入队，随后立即返回处于 pending 状态的运行记录。
func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "运行服务未初始化", http.StatusServiceUnavailable)
		return
	}

	// 解析请求体。
	var req workflow.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}

	run, err := s.runs.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "运行服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	runs, err := s.runs.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleRunDetail 返回单个运行的完整记录，包含步骤轨迹与结果。
func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	// 仅支持 GET 方法。
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.runs == nil {
		http.Error(w, "运行服务未初始化", http.StatusServiceUnavailable)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "缺少运行编号", http.StatusBadRequest)
		return
	}

	run, err := s.runs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.runs == nil {
		http.Error(w, "运行服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.runs.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// reputationPayload 是信誉端点的响应结构。
type reputationPayload struct {
	Summary reputation.Summary          `json:"summary"`
	History []reputation.FeedbackRecord `json:"history,omitempty"`
}

// handleReputation 返回服务代理的信誉摘要，history 参数附带最近的反馈记录。
func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.ledger == nil {
		http.Error(w, "信誉账本未启用", http.StatusServiceUnavailable)
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/reputation/")
	serverID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || serverID == 0 {
		http.Error(w, "无效的服务代理编号", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	summary, err := s.ledger.Summarize(ctx, serverID)
	if err != nil {
		writeError(w, err)
		return
	}

	payload := reputationPayload{Summary: summary}
	if rawLimit := r.URL.Query().Get("history"); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit <= 0 {
			http.Error(w, "history 参数必须是正整数", http.StatusBadRequest)
			return
		}
		records, err := s.ledger.History(ctx, serverID)
		if err != nil {
			writeError(w, err)
			return
		}
		payload.History = recentFirst(records, limit)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listOptionsFromQuery 把查询参数翻译为列表选项。
func listOptionsFromQuery(r *http.Request) ([]workflow.ListOption, error) {
	query := r.URL.Query()
	var opts []workflow.ListOption

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "limit 参数必须是正整数")
		}
		opts = append(opts, workflow.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "offset 参数不能为负数")
		}
		opts = append(opts, workflow.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []workflow.Status
		for _, part := range strings.Split(raw, ",") {
			status := workflow.Status(strings.TrimSpace(part))
			if !workflow.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的运行状态: "+string(status))
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, workflow.WithStatuses(statuses...))
	}
	if raw := query.Get("has_result"); raw != "" {
		hasResult, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "has_result 参数必须是布尔值")
		}
		opts = append(opts, workflow.WithResultPresence(hasResult))
	}
	if raw := query.Get("updated_since"); raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "updated_since 参数必须是 Unix 秒")
		}
		opts = append(opts, workflow.WithUpdatedSince(time.Unix(ts, 0)))
	}
	if raw := query.Get("updated_until"); raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "updated_until 参数必须是 Unix 秒")
		}
		opts = append(opts, workflow.WithUpdatedUntil(time.Unix(ts, 0)))
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, workflow.WithQuery(raw))
	}
	if raw := query.Get("order"); raw != "" {
		switch raw {
		case "asc":
			opts = append(opts, workflow.WithSortOrder(workflow.SortByUpdatedAsc))
		case "desc":
			opts = append(opts, workflow.WithSortOrder(workflow.SortByUpdatedDesc))
		default:
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "order 参数仅支持 asc/desc")
		}
	}
	return opts, nil
}

// recentFirst 把按提交顺序保存的记录裁剪为最近优先的切片。
func recentFirst(records []reputation.FeedbackRecord, limit int) []reputation.FeedbackRecord {
	out := make([]reputation.FeedbackRecord, 0, min(limit, len(records)))
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, records[i])
	}
	return out
}

// errorPayload 是统一的错误响应结构。
type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 按错误码映射 HTTP 状态，并以统一的 JSON 结构返回。
func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	writeJSON(w, statusForCode(code), errorPayload{
		Code:    string(code),
		Message: err.Error(),
	})
}

func statusForCode(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, workflow.CodeRunValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, workflow.CodeRunNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, workflow.CodeRunConflict:
		return http.StatusConflict
	case workflow.CodeRunPublish, workflow.CodeQueueClosed:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// instrument 包装处理函数，记录请求量与时延指标。
func (s *Server) instrument(handler string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(recorder, r)
		metrics.ObserveHTTPRequest(handler, r.Method, recorder.status, time.Since(start))
	}
}

// statusRecorder 包装 http.ResponseWriter 以捕获响应状态码。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	// 包装处理器以检查上下文状态。
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
