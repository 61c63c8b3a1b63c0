package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"offer-eligibility-engine/internal/db"
	"offer-eligibility-engine/internal/eligibility"
	"offer-eligibility-engine/internal/offers"
)

// OffersService is the read path over materialized eligibility.
type OffersService interface {
	GetOffersForUser(ctx context.Context, q offers.Query) (*offers.Response, error)
	GetLoyaltyProgramsForUser(ctx context.Context, userID uuid.UUID) (*offers.LoyaltyResponse, error)
	InvalidateUserCache(ctx context.Context, userID uuid.UUID) error
}

// QueueService is the write path: change hooks land here.
type QueueService interface {
	Enqueue(ctx context.Context, entityType db.EntityType, entityID uuid.UUID, reason string, priority int) (*db.QueueEntry, error)
	EnqueueAllForMerchant(ctx context.Context, merchantID uuid.UUID, reason string, priority int) (int, error)
	EnqueueForUserChange(ctx context.Context, userID, merchantID uuid.UUID, reason string) error
	DrainPending(ctx context.Context, limit int) (int, error)
}

// QueueLister exposes queue entries for introspection.
type QueueLister interface {
	ListByStatus(ctx context.Context, status string, limit int) ([]*db.QueueEntry, error)
}

// HealthChecker reports backing-store reachability.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger *zap.Logger
	offers OffersService
	queue  QueueService
	lister QueueLister
	health HealthChecker
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, offersSvc OffersService, queue QueueService, lister QueueLister, health HealthChecker) *Handler {
	return &Handler{
		logger: logger,
		offers: offersSvc,
		queue:  queue,
		lister: lister,
		health: health,
	}
}

// GetOffers handles GET /v1/offers. Identity comes from the X-User-ID
// header; requests without it are unauthorized, not "empty results".
func (h *Handler) GetOffers(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	q := offers.Query{
		UserID:           userID,
		Page:             queryInt(r, "page", 1),
		PageSize:         queryInt(r, "page_size", offers.DefaultPageSize),
		Category:         r.URL.Query().Get("category"),
		Search:           r.URL.Query().Get("search"),
		PercentageFilter: r.URL.Query().Get("percentage_filter"),
	}

	resp, err := h.offers.GetOffersForUser(r.Context(), q)
	if err != nil {
		h.logger.Error("offer query failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load offers", "")
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetLoyaltyPrograms handles GET /v1/loyalty-programs.
func (h *Handler) GetLoyaltyPrograms(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	resp, err := h.offers.GetLoyaltyProgramsForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("loyalty query failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load loyalty programs", "")
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// OfferChangeRequest is posted by collaborating services when an offer
// entity mutates.
type OfferChangeRequest struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Change     string `json:"change"`
}

// Change kinds accepted by the offer hook, mapped to queue priorities.
var changePriorities = map[string]int{
	"deleted":          eligibility.PriorityCritical,
	"deactivated":      eligibility.PriorityCritical,
	"budget_exhausted": eligibility.PriorityCritical,
	"created":          eligibility.PriorityHigh,
	"activated":        eligibility.PriorityHigh,
	"outlets_changed":  eligibility.PriorityHigh,
	"updated":          eligibility.PriorityMedium,
}

// OfferChanged handles POST /v1/hooks/offers.
func (h *Handler) OfferChanged(w http.ResponseWriter, r *http.Request) {
	var req OfferChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	entityType := db.EntityType(req.EntityType)
	if db.OfferTypeFor(entityType) == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid entity_type",
			"entity_type must be CASHBACK_CONFIG, EXCLUSIVE_OFFER, or LOYALTY_PROGRAM")
		return
	}

	entityID, err := uuid.Parse(req.EntityID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid entity_id", "entity_id must be a valid UUID")
		return
	}

	priority, ok := changePriorities[req.Change]
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid change", "unrecognized change kind")
		return
	}

	entry, err := h.queue.Enqueue(r.Context(), entityType, entityID, "offer "+req.Change, priority)
	if err != nil {
		h.logger.Error("offer hook enqueue failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to queue recompute", "")
		return
	}

	h.writeJSON(w, http.StatusAccepted, entry)
}

// MerchantChangeRequest is posted when a merchant's status flips.
type MerchantChangeRequest struct {
	MerchantID string `json:"merchant_id"`
	Change     string `json:"change"`
}

// MerchantChanged handles POST /v1/hooks/merchants. Suspension is urgent;
// everything else rides the high band.
func (h *Handler) MerchantChanged(w http.ResponseWriter, r *http.Request) {
	var req MerchantChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	merchantID, err := uuid.Parse(req.MerchantID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid merchant_id", "merchant_id must be a valid UUID")
		return
	}

	priority := eligibility.PriorityHigh
	if req.Change == "suspended" {
		priority = eligibility.PriorityCritical
	}

	count, err := h.queue.EnqueueAllForMerchant(r.Context(), merchantID, "merchant "+req.Change, priority)
	if err != nil {
		h.logger.Error("merchant hook enqueue failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to queue recomputes", "")
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]int{"entities_queued": count})
}

// CustomerTypeChangeRequest is posted when a user's relationship with a
// merchant changes.
type CustomerTypeChangeRequest struct {
	UserID     string `json:"user_id"`
	MerchantID string `json:"merchant_id"`
	Reason     string `json:"reason,omitempty"`
}

// CustomerTypeChanged handles POST /v1/hooks/customer-types: immediate
// invalidation of the user's rows and cache, then a merchant-wide recompute.
func (h *Handler) CustomerTypeChanged(w http.ResponseWriter, r *http.Request) {
	var req CustomerTypeChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	merchantID, err := uuid.Parse(req.MerchantID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid merchant_id", "merchant_id must be a valid UUID")
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "customer type changed"
	}

	if err := h.queue.EnqueueForUserChange(r.Context(), userID, merchantID, reason); err != nil {
		h.logger.Error("customer type hook failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to process change", "")
		return
	}

	if err := h.offers.InvalidateUserCache(r.Context(), userID); err != nil {
		h.logger.Warn("cache invalidation failed", zap.Error(err))
	}

	w.WriteHeader(http.StatusAccepted)
}

// ListQueue handles GET /v1/queue.
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = db.QueueStatusPending
	}
	switch status {
	case db.QueueStatusPending, db.QueueStatusProcessing, db.QueueStatusCompleted, db.QueueStatusFailed:
	default:
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid status",
			"status must be pending, processing, completed, or failed")
		return
	}

	limit := queryInt(r, "limit", 50)
	if limit > 500 {
		limit = 500
	}

	entries, err := h.lister.ListByStatus(r.Context(), status, limit)
	if err != nil {
		h.logger.Error("queue list failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list queue", "")
		return
	}
	if entries == nil {
		entries = []*db.QueueEntry{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// TriggerDrain handles POST /v1/queue/drain.
func (h *Handler) TriggerDrain(w http.ResponseWriter, r *http.Request) {
	dispatched, err := h.queue.DrainPending(r.Context(), 50)
	if err != nil {
		h.logger.Error("manual drain failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to drain queue", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]int{"dispatched": dispatched})
}

// InvalidateUserCache handles POST /v1/users/{userID}/cache/invalidate.
func (h *Handler) InvalidateUserCache(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user id", "user id must be a valid UUID")
		return
	}

	if err := h.offers.InvalidateUserCache(r.Context(), userID); err != nil {
		h.logger.Error("cache invalidation failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to invalidate cache", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Health(r.Context()); err != nil {
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Missing user identity", "X-User-ID header is required")
		return uuid.Nil, false
	}

	userID, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid user identity", "X-User-ID must be a valid UUID")
		return uuid.Nil, false
	}

	return userID, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
