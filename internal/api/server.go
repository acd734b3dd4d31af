package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"respool/internal/events"
	"respool/internal/logger"
	"respool/internal/metrics"
	"respool/internal/worker"
	"respool/internal/workload"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"golang.org/x/net/websocket"
)

const (
	// maxJobsPerRequest は 1 リクエストで投入できるジョブ数の上限
	maxJobsPerRequest = 100000
	// DefaultEventBuffer はイベントバスの購読バッファサイズ
	DefaultEventBuffer = 100
)

// Config はAPIサーバーの設定
type Config struct {
	Addr        string
	Pool        worker.PoolConfig
	EventBuffer int
	Logger      *logger.Logger
}

// Server はAPIサーバー
type Server struct {
	addr     string
	pool     *worker.Pool
	metrics  *metrics.Metrics
	bus      *events.Bus
	registry *prometheus.Registry
	log      *logger.Logger
	handler  http.Handler

	mu             sync.RWMutex
	running        bool
	engine         *workload.Engine
	cancelWorkload context.CancelFunc
	wsClients      map[*websocket.Conn]bool

	server *http.Server
}

// NewServer は新しいAPIサーバーを作成する。
// サーバーは自前のプールを持ち、そのイベントとメトリクスを公開する
func NewServer(config Config) (*Server, error) {
	log := config.Logger
	if log == nil {
		log = logger.Default
	}
	buffer := config.EventBuffer
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}

	bus := events.NewBusWithBuffer(buffer)
	m := metrics.New()

	poolConfig := config.Pool
	poolConfig.Logger = log
	poolConfig.Observer = worker.MultiObserver{m, events.NewPoolObserver(bus, poolConfig.Name)}

	pool, err := worker.NewPoolWithConfig(poolConfig)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		metrics.NewCollector(pool, m),
		collectors.NewGoCollector(),
	)

	s := &Server{
		addr:      config.Addr,
		pool:      pool,
		metrics:   m,
		bus:       bus,
		registry:  registry,
		log:       log,
		wsClients: make(map[*websocket.Conn]bool),
	}
	s.handler = s.routes()

	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// API routes
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/resize", s.handleResize)
	mux.HandleFunc("/api/jobs", s.handleJobs)
	mux.HandleFunc("/api/wait", s.handleWait)
	mux.HandleFunc("/api/presets", s.handlePresets)
	mux.HandleFunc("/api/workload/start", s.handleWorkloadStart)
	mux.HandleFunc("/api/workload/stop", s.handleWorkloadStop)

	// Prometheus
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	// WebSocket
	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))

	return mux
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Pool はサーバーが管理するプールを返す
func (s *Server) Pool() *worker.Pool {
	return s.pool
}

// Bus はイベントバスを返す
func (s *Server) Bus() *events.Bus {
	return s.bus
}

// Start はサーバーを開始する。ctx の終了でシャットダウンする
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// バックグラウンドでイベントと状態を配信。ジョブ単位のイベントは stats に集約される
	go s.eventLoop(ctx, s.bus.Subscribe(events.LifecycleEvents...))
	go s.broadcastLoop(ctx)

	s.log.Info("", "API Server starting on http://%s", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close は実行中のワークロードを取り消し、プールとイベントバスを停止する
func (s *Server) Close() {
	s.mu.Lock()
	if s.cancelWorkload != nil {
		s.cancelWorkload()
	}
	s.mu.Unlock()

	s.pool.Stop()
	s.bus.Close()
}

// StatsResponse は状態レスポンス
type StatsResponse struct {
	Pool     worker.Stats     `json:"pool"`
	Workers  []int            `json:"workers"`
	Metrics  metrics.Snapshot `json:"metrics"`
	Workload *WorkloadStatus  `json:"workload,omitempty"`
}

// WorkloadStatus は実行中ワークロードの状態
type WorkloadStatus struct {
	Name    string            `json:"name"`
	Running bool              `json:"running"`
	Pool    *worker.Stats     `json:"pool,omitempty"`
	Metrics *metrics.Snapshot `json:"metrics,omitempty"`
}

func (s *Server) stats() StatsResponse {
	resp := StatsResponse{
		Pool:    s.pool.Stats(),
		Workers: s.pool.Workers(),
		Metrics: s.metrics.Snapshot(),
	}

	s.mu.RLock()
	engine := s.engine
	running := s.running
	s.mu.RUnlock()

	if engine != nil {
		resp.Workload = &WorkloadStatus{
			Name:    engine.Config().Name,
			Running: running,
			Pool:    engine.Stats(),
			Metrics: engine.Metrics(),
		}
	}

	return resp
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, s.stats())
}

// ResizeRequest はリサイズリクエスト
type ResizeRequest struct {
	Workers int `json:"workers"`
}

// ResizeResponse はリサイズレスポンス
type ResizeResponse struct {
	Previous int `json:"previous"`
	Target   int `json:"target"`
	Queued   int `json:"queued"`
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ResizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	prev := s.pool.Target()
	if err := s.pool.Resize(req.Workers); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, ResizeResponse{
		Previous: prev,
		Target:   req.Workers,
		Queued:   s.pool.QueueSize(),
	})
}

// JobsRequest はジョブ投入リクエスト。各ジョブは Duration だけスリープする
type JobsRequest struct {
	Count    int    `json:"count"`
	Duration string `json:"duration,omitempty"`
}

// JobsResponse はジョブ投入レスポンス
type JobsResponse struct {
	Submitted int `json:"submitted"`
	Queued    int `json:"queued"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JobsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Count < 1 || req.Count > maxJobsPerRequest {
		http.Error(w, fmt.Sprintf("count must be between 1 and %d", maxJobsPerRequest), http.StatusBadRequest)
		return
	}

	var d time.Duration
	if req.Duration != "" {
		parsed, err := time.ParseDuration(req.Duration)
		if err != nil || parsed < 0 {
			http.Error(w, "Invalid duration", http.StatusBadRequest)
			return
		}
		d = parsed
	}

	submitted := 0
	for range req.Count {
		if err := s.pool.Submit(sleepJob(d)); err != nil {
			s.writeError(w, err)
			return
		}
		submitted++
	}

	s.writeJSON(w, JobsResponse{Submitted: submitted, Queued: s.pool.QueueSize()})
}

func sleepJob(d time.Duration) worker.Job {
	return func() {
		if d > 0 {
			time.Sleep(d)
		}
	}
}

// handleWait はプールがアイドルになるまでブロックする。
// ?timeout=5s で待機時間を制限できる
func (s *Server) handleWait(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	if t := r.URL.Query().Get("timeout"); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil {
			http.Error(w, "Invalid timeout", http.StatusBadRequest)
			return
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	start := time.Now()
	if err := s.pool.WaitContext(ctx); err != nil {
		http.Error(w, "Pool did not become idle: "+err.Error(), http.StatusGatewayTimeout)
		return
	}

	s.writeJSON(w, map[string]any{
		"waited": time.Since(start).String(),
		"pool":   s.pool.Stats(),
	})
}

// PresetInfo はプリセット情報
type PresetInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Workers     int    `json:"workers"`
	Jobs        int    `json:"jobs"`
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	presets := lo.Map(workload.Presets(), func(c workload.Config, _ int) PresetInfo {
		return PresetInfo{
			Name:        c.Name,
			Description: c.Description,
			Workers:     c.Workers,
			Jobs:        c.Jobs,
		}
	})

	s.writeJSON(w, presets)
}

// WorkloadRequest はワークロード開始リクエスト
type WorkloadRequest struct {
	Preset  string `json:"preset"`
	Workers int    `json:"workers,omitempty"`
	Jobs    int    `json:"jobs,omitempty"`
}

func (s *Server) handleWorkloadStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req WorkloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// プリセット取得
	config, ok := workload.GetPreset(req.Preset)
	if !ok {
		config = workload.QuickWorkload()
	}

	// オーバーライド
	if req.Workers > 0 {
		config.Workers = req.Workers
	}
	if req.Jobs > 0 {
		config.Jobs = req.Jobs
	}
	if err := config.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		http.Error(w, "Workload already running", http.StatusConflict)
		return
	}

	engine := workload.New(config)
	engine.SetEventBus(s.bus)
	engine.SetLogger(s.log)
	ctx, cancel := context.WithCancel(context.Background())
	s.engine = engine
	s.cancelWorkload = cancel
	s.running = true
	s.mu.Unlock()

	// バックグラウンドで実行
	go func() {
		defer cancel()
		result, err := engine.Run(ctx)

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()

		if err != nil {
			s.log.Error("", "Workload failed: %v", err)
			s.broadcast(map[string]any{
				"type":  "workload_failed",
				"error": err.Error(),
			})
			return
		}

		s.log.Info("", "Workload completed: %d/%d jobs", result.Executed, result.Jobs)
		s.broadcast(map[string]any{
			"type":   "workload_complete",
			"result": result,
		})
	}()

	s.writeJSON(w, map[string]string{"status": "started", "workload": config.Name})
}

func (s *Server) handleWorkloadStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		http.Error(w, "No workload running", http.StatusBadRequest)
		return
	}
	s.cancelWorkload()
	s.mu.Unlock()

	s.writeJSON(w, map[string]string{"status": "stop requested"})
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// Keep connection alive
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

func (s *Server) broadcast(data any) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

// eventLoop はバスのイベントをWebSocketクライアントへ転送する
func (s *Server) eventLoop(ctx context.Context, ch <-chan events.Event) {
	defer s.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			s.broadcast(map[string]any{
				"type":  "event",
				"event": e,
			})
		}
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast(map[string]any{
				"type":  "stats",
				"stats": s.stats(),
			})
		}
	}
}

// writeError はプールのエラーをステータスコードに対応付ける
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, worker.ErrInvalidSize):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, worker.ErrPoolClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("", "Failed to encode JSON: %v", err)
	}
}
