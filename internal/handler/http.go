package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/catalog"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/service"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBodyBytes = 16 << 10

// Claimer runs claims
type Claimer interface {
	Claim(ctx context.Context, req domain.ClaimRequest) (*domain.ClaimResult, error)
}

// PlayerAPI serves player reads and equipment changes
type PlayerAPI interface {
	GetPlayer(ctx context.Context, wallet string) (*service.PlayerView, error)
	Equip(ctx context.Context, req domain.EquipRequest) (*service.PlayerView, error)
	History(ctx context.Context, wallet string, limit int) ([]domain.ClaimEvent, error)
	Gaps(ctx context.Context, limit int) ([]domain.ClaimEvent, error)
}

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tune the router
type Options struct {
	RequestsPerSecond float64
	Burst             int
	// Readiness probes; /ready fails when any of them fails
	Ready []Pinger
}

// Handler provides HTTP handlers for the claim API
type Handler struct {
	claims  Claimer
	players PlayerAPI
	catalog *catalog.Catalog
	hub     *websocket.Hub
	opts    Options
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(claims Claimer, players PlayerAPI, cat *catalog.Catalog, hub *websocket.Hub, opts Options, logger *slog.Logger) *Handler {
	return &Handler{
		claims:  claims,
		players: players,
		catalog: cat,
		hub:     hub,
		opts:    opts,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success  bool        `json:"success"`
	Data     interface{} `json:"data,omitempty"`
	Error    string      `json:"error,omitempty"`
	Distance *float64    `json:"distance,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		if h.opts.RequestsPerSecond > 0 {
			r.Use(newIPLimiter(h.opts.RequestsPerSecond, h.opts.Burst).Middleware)
		}

		r.Get("/locations", h.ListLocations)
		r.Get("/quests", h.ListQuests)

		r.Post("/claims", h.SubmitClaim)
		r.Post("/find-loot", h.SubmitClaim)

		r.Route("/players/{wallet}", func(r chi.Router) {
			r.Get("/", h.GetPlayer)
			r.Post("/equip", h.Equip)
			r.Get("/claims", h.GetHistory)
		})

		r.Get("/reconciliation", h.GetGaps)

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError maps err onto a status and a public reason. Server-side
// failures other than transfer outcomes are reported generically.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := domain.HTTPStatus(err)
	resp := APIResponse{Error: err.Error()}

	var gf *domain.GeofenceError
	switch {
	case errors.As(err, &gf):
		d := gf.Distance
		resp.Error = domain.ErrGeofence.Error()
		resp.Distance = &d
	case errors.Is(err, service.ErrHistoryDisabled):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTransferAmbiguous):
		resp.Error = domain.ErrTransferAmbiguous.Error()
	case errors.Is(err, domain.ErrTransferFailed):
		resp.Error = domain.ErrTransferFailed.Error()
	case status >= http.StatusInternalServerError:
		h.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		resp.Error = domain.ErrInternalError.Error()
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeJSON(w, http.StatusBadRequest, APIResponse{Error: domain.ErrInvalidInput.Error()})
		return false
	}
	return true
}

func queryLimit(r *http.Request) int {
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	}
	if wallet := r.URL.Query().Get("wallet"); wallet != "" {
		stats["wallet_subscribers"] = h.hub.GetSubscriberCount(wallet)
	}
	h.writeSuccess(w, stats)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck reports ready once every backing store answers
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, p := range h.opts.Ready {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("readiness probe failed", "error", err)
			h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{Error: "not ready"})
			return
		}
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// ListLocations returns the claimable locations
func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.catalog.Locations())
}

// ListQuests returns the quest definitions
func (h *Handler) ListQuests(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.catalog.Quests())
}

// SubmitClaim handles a proof-of-presence claim. A successful claim is
// answered with the bare ClaimResult.
func (h *Handler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	var req domain.ClaimRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.claims.Claim(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// GetPlayer returns a wallet's progression record
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	view, err := h.players.GetPlayer(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, view)
}

// Equip equips or unequips a gear instance
func (h *Handler) Equip(w http.ResponseWriter, r *http.Request) {
	var req domain.EquipRequest
	if !h.decode(w, r, &req) {
		return
	}
	wallet := chi.URLParam(r, "wallet")
	if req.Wallet == "" {
		req.Wallet = wallet
	}
	if req.Wallet != wallet {
		h.writeError(w, r, domain.ErrInvalidInput)
		return
	}

	view, err := h.players.Equip(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, view)
}

// GetHistory returns a wallet's recent paid claims
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	events, err := h.players.History(r.Context(), chi.URLParam(r, "wallet"), queryLimit(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, events)
}

// GetGaps lists paid claims whose player update never landed
func (h *Handler) GetGaps(w http.ResponseWriter, r *http.Request) {
	events, err := h.players.Gaps(r.Context(), queryLimit(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, events)
}
