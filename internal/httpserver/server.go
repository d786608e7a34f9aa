// Package httpserver exposes the HTTP and WebSocket surface of the telemetry
// service.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roadsim/odotelem/internal/api"
	"github.com/roadsim/odotelem/internal/config"
	"github.com/roadsim/odotelem/internal/eventstore"
	"github.com/roadsim/odotelem/internal/fleet"
	"github.com/roadsim/odotelem/internal/sim"
	"github.com/roadsim/odotelem/internal/telemetry"
	"github.com/roadsim/odotelem/internal/units"
	"github.com/roadsim/odotelem/internal/version"
)

const (
	readHeaderTimeout = 5 * time.Second
	wsSendQueueSize   = 16
)

// Server wraps the HTTP surface area of the application.
type Server struct {
	cfg          config.Config
	logger       *slog.Logger
	httpServer   *http.Server
	vehicles     []fleet.Info
	vehicleIndex map[string]fleet.Info
	runner       *sim.Runner
	store        *eventstore.Store

	maxWSClients int64
	wsActive     atomic.Int64
	wsTotal      atomic.Uint64
	wsRejected   atomic.Uint64
	wsSent       atomic.Uint64
	wsDropped    atomic.Uint64
	wsConnIDs    atomic.Uint64
	requestIDs   atomic.Uint64
}

// New assembles a Server with its handlers. The event store may be nil when
// persistence is disabled.
func New(cfg config.Config, logger *slog.Logger, vehicles []fleet.Info, runner *sim.Runner, store *eventstore.Store) *Server {
	s := &Server{
		cfg:          cfg,
		logger:       logger,
		vehicles:     vehicles,
		vehicleIndex: fleet.Index(vehicles),
		runner:       runner,
		store:        store,
	}

	if cfg.WS.MaxClients > 0 {
		s.maxWSClients = int64(cfg.WS.MaxClients)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/api/readyz", s.handleReadyz)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/vehicles", s.handleAPIVehicles)
	mux.HandleFunc("/api/vehicles/", s.handleAPIVehicleSubresource)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/", s.handleIndex)

	if cfg.EnablePrometheus {
		s.registerPrometheus(mux)
	}
	if cfg.EnablePprof {
		registerPprof(mux)
	}

	handler := s.withRequestLogging(mux)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Start begins serving HTTP until shutdown is requested.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("listener stopped")
	return nil
}

// Shutdown attempts a graceful shutdown within the supplied context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info := s.readiness()
	logger := s.loggerFromContext(r.Context())

	statusCode := http.StatusOK
	if info.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(info); err != nil {
		logger.Error("failed to encode readyz response", "err", err)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info := version.Current()
	logger := s.loggerFromContext(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		logger.Error("failed to encode version response", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	index := map[string]any{
		"service": "odotelem",
		"endpoints": []string{
			"/healthz",
			"/readyz",
			"/version",
			"/api/vehicles",
			"/api/vehicles/{id}/telemetry",
			"/api/vehicles/{id}/violations",
			"/api/vehicles/{id}/publish_rate",
			"/ws",
		},
	}

	logger := s.loggerFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(index); err != nil {
		logger.Error("failed to encode service index", "err", err)
	}
}

func (s *Server) handleAPIVehicles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	logger := s.loggerFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.vehicles); err != nil {
		logger.Error("failed to encode vehicle list", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
}

func (s *Server) handleAPIVehicleSubresource(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/vehicles/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	segments := strings.Split(rest, "/")
	if len(segments) != 2 || segments[0] == "" {
		http.NotFound(w, r)
		return
	}

	vehicleID := segments[0]
	if _, ok := s.vehicleIndex[vehicleID]; !ok {
		http.NotFound(w, r)
		return
	}

	switch segments[1] {
	case "telemetry":
		s.serveVehicleTelemetry(w, r, vehicleID)
	case "violations":
		s.serveVehicleViolations(w, r, vehicleID)
	case "publish_rate":
		s.serveVehiclePublishRate(w, r, vehicleID)
	default:
		http.NotFound(w, r)
	}
}

// telemetryResponse is the REST view of one vehicle's sampler state, with
// speed converted to the requested units.
type telemetryResponse struct {
	telemetry.Status
	Speed     float64 `json:"speed"`
	SpeedUnit string  `json:"speed_unit"`
	SimTime   float64 `json:"sim_time_s"`
	Completed bool    `json:"scenario_complete"`
}

func (s *Server) serveVehicleTelemetry(w http.ResponseWriter, r *http.Request, vehicleID string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.runner == nil {
		http.Error(w, "simulation unavailable", http.StatusServiceUnavailable)
		return
	}

	speedUnit := units.MPS
	if raw := r.URL.Query().Get("units"); raw != "" {
		if !units.IsValidSpeedUnit(raw) {
			http.Error(w, fmt.Sprintf("unsupported units %q", raw), http.StatusBadRequest)
			return
		}
		speedUnit = raw
	}

	status, ok := s.runner.Status(vehicleID)
	if !ok {
		http.NotFound(w, r)
		return
	}

	resp := telemetryResponse{
		Status:    status,
		Speed:     units.ConvertSpeed(status.Snapshot.SpeedMPS, speedUnit),
		SpeedUnit: speedUnit,
		SimTime:   s.runner.SimTime(),
		Completed: s.runner.Completed(),
	}

	logger := s.loggerFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("failed to encode telemetry", "vehicle_id", vehicleID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
}

func (s *Server) serveVehicleViolations(w http.ResponseWriter, r *http.Request, vehicleID string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "event store disabled", http.StatusServiceUnavailable)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	logger := s.loggerFromContext(r.Context())
	events, err := s.store.ByVehicle(vehicleID, limit)
	if err != nil {
		logger.Error("failed to query violations", "vehicle_id", vehicleID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []telemetry.ViolationEvent{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(events); err != nil {
		logger.Error("failed to encode violations", "vehicle_id", vehicleID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
}

type publishRateBody struct {
	Hz float64 `json:"hz"`
}

type publishRateResponse struct {
	VehicleID string  `json:"vehicle_id"`
	Hz        float64 `json:"hz"`
}

func (s *Server) serveVehiclePublishRate(w http.ResponseWriter, r *http.Request, vehicleID string) {
	if s.runner == nil {
		http.Error(w, "simulation unavailable", http.StatusServiceUnavailable)
		return
	}
	logger := s.loggerFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var body publishRateBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := s.runner.SetPublishFrequency(vehicleID, body.Hz); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Info("publish rate updated", "vehicle_id", vehicleID, "hz", body.Hz)
	default:
		w.Header().Set("Allow", "GET, PUT")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hz, err := s.runner.PublishFrequency(vehicleID)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(publishRateResponse{VehicleID: vehicleID, Hz: hz}); err != nil {
		logger.Error("failed to encode publish rate", "vehicle_id", vehicleID, "err", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	reqLogger := s.loggerFromContext(r.Context())
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.reserveWS() {
		reqLogger.Warn("websocket rejected", "reason", "capacity")
		http.Error(w, "websocket capacity reached", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseWS()

	opts := &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.cfg.AllowedOrigins),
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		reqLogger.Warn("websocket accept failed", "err", err)
		return
	}
	defer closeWebsocket(reqLogger, conn)

	connID := s.wsConnIDs.Add(1)
	s.wsTotal.Add(1)
	logger := reqLogger.With("ws_id", connID)

	outbound := newWSOutbound(wsSendQueueSize, &s.wsDropped)

	tickMS := 0
	if s.runner != nil {
		tickMS = int(s.runner.TimeStep() * 1000)
	}
	hello := api.NewHelloMessage(tickMS, s.cfg.PublishHz, s.vehicles, s.store != nil)

	ctx, cancel := context.WithCancel(r.Context())

	writerDone := make(chan struct{})
	go s.wsWriter(ctx, conn, outbound, cancel, logger, writerDone)

	var (
		snapCh           <-chan telemetry.Snapshot
		unsubscribe      func()
		eventCh          <-chan telemetry.ViolationEvent
		eventUnsubscribe func()
		currentVehicle   string
	)

	defer func() {
		if unsubscribe != nil {
			unsubscribe()
		}
		if eventUnsubscribe != nil {
			eventUnsubscribe()
		}
		outbound.close()
		cancel()
		<-writerDone
	}()

	if !s.enqueueMessage(outbound, hello, logger) {
		return
	}

	messageCh := make(chan []byte, 8)
	readErrCh := make(chan error, 1)
	go s.readMessages(ctx, conn, messageCh, readErrCh)

	defaultVehicle := s.defaultVehicle()

	switchSubscription := func(target string) error {
		if target == "" {
			return fmt.Errorf("empty vehicle id")
		}
		if _, ok := s.vehicleIndex[target]; !ok {
			return fmt.Errorf("unknown vehicle %q", target)
		}
		if s.runner == nil {
			return fmt.Errorf("simulation unavailable")
		}
		if target == currentVehicle {
			return nil
		}
		if unsubscribe != nil {
			unsubscribe()
			unsubscribe = nil
			snapCh = nil
		}
		if eventUnsubscribe != nil {
			eventUnsubscribe()
			eventUnsubscribe = nil
			eventCh = nil
		}
		ch, cancelSub, err := s.runner.Subscribe(target)
		if err != nil {
			return err
		}
		snapCh = ch
		unsubscribe = cancelSub
		evStream, evCancel, err := s.runner.SubscribeViolations(target)
		if err != nil {
			logger.Warn("failed to subscribe violation stream", "vehicle_id", target, "err", err)
		} else {
			eventCh = evStream
			eventUnsubscribe = evCancel
		}
		currentVehicle = target
		logger.Info("ws subscribed", "vehicle_id", target)
		return nil
	}

	if defaultVehicle != "" {
		if err := switchSubscription(defaultVehicle); err != nil {
			logger.Warn("failed to subscribe default vehicle", "vehicle_id", defaultVehicle, "err", err)
			_ = s.enqueueError(outbound, fmt.Sprintf("failed to subscribe default vehicle: %v", err), logger)
		}
	} else if len(s.vehicles) == 0 {
		_ = s.enqueueError(outbound, "no vehicles in scenario", logger)
	}

	for {
		select {
		case snap, ok := <-snapCh:
			if !ok {
				snapCh = nil
				currentVehicle = ""
				continue
			}
			if !s.enqueueMessage(outbound, api.NewTelemetryMessage(snap), logger) {
				return
			}
		case ev, ok := <-eventCh:
			if !ok {
				eventCh = nil
				continue
			}
			if !s.enqueueMessage(outbound, api.NewViolationMessage(ev), logger) {
				return
			}
		case data, ok := <-messageCh:
			if !ok {
				messageCh = nil
				continue
			}
			if err := s.handleClientMessage(outbound, data, switchSubscription, defaultVehicle, logger); err != nil {
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					return
				}
				logger.Warn("client message handling error", "err", err)
				return
			}
		case err := <-readErrCh:
			if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				logger.Warn("websocket read error", "err", err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) defaultVehicle() string {
	if s.cfg.DefaultVehicle != "" && s.cfg.DefaultVehicle != "auto" {
		if _, ok := s.vehicleIndex[s.cfg.DefaultVehicle]; ok {
			return s.cfg.DefaultVehicle
		}
		s.logger.Warn("configured default vehicle not found", "vehicle_id", s.cfg.DefaultVehicle)
	}
	if len(s.vehicles) > 0 {
		return s.vehicles[0].ID
	}
	return ""
}

func (s *Server) readMessages(ctx context.Context, conn *websocket.Conn, out chan<- []byte, errCh chan<- error) {
	defer close(out)
	for {
		readCtx := ctx
		var cancel context.CancelFunc
		if s.cfg.WS.ReadTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, s.cfg.WS.ReadTimeout)
		}
		msgType, data, err := conn.Read(readCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			errCh <- err
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		select {
		case out <- data:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleClientMessage(outbound *wsOutbound, data []byte, switchSubscription func(string) error, defaultVehicle string, logger *slog.Logger) error {
	var envelope api.ClientMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		logger.Debug("invalid client message", "err", err)
		return nil
	}

	switch envelope.Type {
	case "subscribe":
		var msg api.SubscribeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if !s.enqueueError(outbound, "invalid subscribe payload", logger) {
				return fmt.Errorf("failed to enqueue subscribe error")
			}
			return nil
		}
		target := msg.VehicleID
		if target == "" {
			target = defaultVehicle
		}
		if target == "" {
			if !s.enqueueError(outbound, "no vehicle_id provided and no default available", logger) {
				return fmt.Errorf("failed to enqueue vehicle missing error")
			}
			return nil
		}
		if err := switchSubscription(target); err != nil {
			if !s.enqueueError(outbound, err.Error(), logger) {
				return fmt.Errorf("failed to enqueue subscription error")
			}
			return nil
		}
	case "ping":
		if !s.enqueueMessage(outbound, api.PongMessage{Type: "pong"}, logger) {
			return fmt.Errorf("failed to enqueue pong response")
		}
	default:
		logger.Debug("unknown message type", "type", envelope.Type)
	}
	return nil
}

func (s *Server) wsWriter(ctx context.Context, conn *websocket.Conn, outbound *wsOutbound, cancel context.CancelFunc, logger *slog.Logger, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-outbound.channel():
			if !ok {
				return
			}
			if err := s.writeRaw(ctx, conn, msg); err != nil {
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					logger.Warn("websocket write failed", "err", err)
				}
				cancel()
				return
			}
			s.wsSent.Add(1)
		}
	}
}

func (s *Server) writeRaw(ctx context.Context, conn *websocket.Conn, data []byte) error {
	writeCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.WS.WriteTimeout > 0 {
		writeCtx, cancel = context.WithTimeout(ctx, s.cfg.WS.WriteTimeout)
	}
	if cancel != nil {
		defer cancel()
	}
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (s *Server) enqueueMessage(outbound *wsOutbound, payload any, logger *slog.Logger) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal websocket payload", "err", err)
		return false
	}
	if !outbound.enqueue(data) {
		logger.Warn("websocket outbound queue unavailable")
		return false
	}
	return true
}

func (s *Server) enqueueError(outbound *wsOutbound, msg string, logger *slog.Logger) bool {
	return s.enqueueMessage(outbound, api.ErrorMessage{Type: "error", Message: msg}, logger)
}

func (s *Server) reserveWS() bool {
	if s.maxWSClients <= 0 {
		s.wsActive.Add(1)
		return true
	}

	for {
		current := s.wsActive.Load()
		if current >= s.maxWSClients {
			s.wsRejected.Add(1)
			return false
		}
		if s.wsActive.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (s *Server) releaseWS() {
	s.wsActive.Add(-1)
}

func (s *Server) registerPrometheus(mux *http.ServeMux) {
	registry := prometheus.NewRegistry()
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "odotelem",
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Current number of active WebSocket clients.",
		}, func() float64 {
			return float64(s.wsActive.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "odotelem",
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "Total WebSocket connections accepted since start.",
		}, func() float64 {
			return float64(s.wsTotal.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "odotelem",
			Subsystem: "ws",
			Name:      "rejected_total",
			Help:      "Total WebSocket connection attempts rejected due to capacity.",
		}, func() float64 {
			return float64(s.wsRejected.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "odotelem",
			Subsystem: "ws",
			Name:      "messages_sent_total",
			Help:      "Total WebSocket messages sent to clients.",
		}, func() float64 {
			return float64(s.wsSent.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "odotelem",
			Subsystem: "ws",
			Name:      "messages_dropped_total",
			Help:      "Total WebSocket messages dropped due to backpressure.",
		}, func() float64 {
			return float64(s.wsDropped.Load())
		}),
	}

	if vehicleCollector := newVehicleMetricsCollector(s.vehicles, s.runner); vehicleCollector != nil {
		collectors = append(collectors, vehicleCollector)
	}

	for _, collector := range collectors {
		registry.MustRegister(collector)
	}

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

func registerPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

func originPatterns(origins []string) []string {
	for _, origin := range origins {
		if origin == "*" {
			return nil
		}
	}
	dst := make([]string, len(origins))
	copy(dst, origins)
	return dst
}

func (s *Server) readiness() readyResponse {
	resp := readyResponse{
		Vehicles: len(s.vehicles),
	}

	if s.runner == nil {
		resp.Status = "degraded"
		resp.Reason = "runner_not_configured"
		return resp
	}

	resp.SimTime = s.runner.SimTime()
	resp.Completed = s.runner.Completed()

	if len(s.vehicles) == 0 {
		resp.Status = "ok"
		return resp
	}

	if s.runner.Ready() {
		resp.Status = "ok"
		return resp
	}

	resp.Status = "initializing"
	resp.Reason = "waiting_for_first_tick"
	return resp
}

type readyResponse struct {
	Status    string  `json:"status"`
	Vehicles  int     `json:"vehicles"`
	SimTime   float64 `json:"sim_time_s"`
	Completed bool    `json:"scenario_complete"`
	Reason    string  `json:"reason,omitempty"`
}

type wsOutbound struct {
	ch     chan []byte
	closed atomic.Bool
	drops  *atomic.Uint64
}

func newWSOutbound(size int, dropCounter *atomic.Uint64) *wsOutbound {
	if size <= 0 {
		size = 1
	}
	return &wsOutbound{
		ch:    make(chan []byte, size),
		drops: dropCounter,
	}
}

func (o *wsOutbound) enqueue(msg []byte) bool {
	if o.closed.Load() {
		o.countDrop()
		return false
	}

	select {
	case o.ch <- msg:
		return true
	default:
	}

	droppedOld := false
	select {
	case <-o.ch:
		droppedOld = true
	default:
	}
	if droppedOld {
		o.countDrop()
	}

	if o.closed.Load() {
		o.countDrop()
		return false
	}

	select {
	case o.ch <- msg:
		return true
	default:
		o.countDrop()
		return false
	}
}

func (o *wsOutbound) close() {
	if o.closed.CompareAndSwap(false, true) {
		close(o.ch)
	}
}

func (o *wsOutbound) channel() <-chan []byte {
	return o.ch
}

func (o *wsOutbound) countDrop() {
	if o.drops != nil {
		o.drops.Add(1)
	}
}
