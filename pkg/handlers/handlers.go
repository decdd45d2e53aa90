package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"outreach-policy-engine/pkg/activity"
	"outreach-policy-engine/pkg/classifier"
	"outreach-policy-engine/pkg/models"
	"outreach-policy-engine/pkg/outreach"
	"outreach-policy-engine/pkg/patterns"
	"outreach-policy-engine/pkg/store"
)

const defaultEscalationPage = 100

type ActivityRecorder interface {
	Record(ctx context.Context, event models.ActivityEvent) (models.ActivityEvent, error)
}

type EscalationQueue interface {
	List(ctx context.Context, count int64) ([]models.EscalationAction, error)
	Length(ctx context.Context) (int64, error)
}

type Handler struct {
	engine       *outreach.Engine
	patterns     *patterns.Store
	activity     ActivityRecorder
	escalations  EscalationQueue
	logger       *logrus.Logger
	isLeaderFunc func() bool
}

func NewHandler(engine *outreach.Engine, patterns *patterns.Store, activity ActivityRecorder, escalations EscalationQueue, logger *logrus.Logger, isLeaderFunc func() bool) *Handler {
	return &Handler{
		engine:       engine,
		patterns:     patterns,
		activity:     activity,
		escalations:  escalations,
		logger:       logger,
		isLeaderFunc: isLeaderFunc,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps engine errors onto status codes
func (h *Handler) writeError(w http.ResponseWriter, userID string, err error) {
	var denied *outreach.NotEligibleError

	switch {
	case errors.As(err, &denied):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":  "not eligible",
			"reason": denied.Reason,
		})
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Contact not found", http.StatusNotFound)
	case errors.Is(err, store.ErrAlreadyExists):
		http.Error(w, "Contact already exists", http.StatusConflict)
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, activity.ErrInvalidEvent):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrInvariantViolation):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, store.ErrConflict):
		http.Error(w, "Contact is busy, retry", http.StatusServiceUnavailable)
	default:
		h.logger.WithError(err).WithField("user_id", userID).Error("Request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) RegisterContact(w http.ResponseWriter, r *http.Request) {
	var request struct {
		UserID   string    `json:"user_id"`
		JoinedAt time.Time `json:"joined_at,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if request.JoinedAt.IsZero() {
		request.JoinedAt = time.Now()
	}

	state, err := h.engine.Register(r.Context(), request.UserID, request.JoinedAt)
	if err != nil {
		h.writeError(w, request.UserID, err)
		return
	}

	writeJSON(w, http.StatusCreated, state)
}

func (h *Handler) GetContact(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	state, err := h.engine.State(r.Context(), userID)
	if err != nil {
		h.writeError(w, userID, err)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) Eligibility(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	decision, err := h.engine.Evaluate(r.Context(), userID)
	if err != nil {
		h.writeError(w, userID, err)
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

func (h *Handler) Outreach(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var request struct {
		Trigger string `json:"trigger,omitempty"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	result, err := h.engine.Contact(r.Context(), userID, request.Trigger)
	if errors.Is(err, outreach.ErrDeliveryFailed) {
		// the attempt is recorded, report it with the failure
		writeJSON(w, http.StatusBadGateway, result)
		return
	}
	if err != nil {
		h.writeError(w, userID, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Reply(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var request struct {
		Text       string    `json:"text"`
		ReceivedAt time.Time `json:"received_at,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.engine.HandleReply(r.Context(), userID, request.Text, request.ReceivedAt)
	if err != nil {
		h.writeError(w, userID, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Seniority(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var request struct {
		Title     string           `json:"title,omitempty"`
		Seniority models.Seniority `json:"seniority,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var (
		state *models.ContactState
		err   error
	)
	switch {
	case request.Seniority != "":
		state, err = h.engine.UpdateSeniority(r.Context(), userID, request.Seniority)
	case request.Title != "":
		state, err = h.engine.ObserveTitle(r.Context(), userID, request.Title)
	default:
		http.Error(w, "Either title or seniority is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.writeError(w, userID, err)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) Override(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var override store.Override
	if err := json.NewDecoder(r.Body).Decode(&override); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if override.Operator == "" || (!override.ClearRefusal && !override.ClearEscalation) {
		http.Error(w, "Override needs an operator and at least one flag to clear", http.StatusBadRequest)
		return
	}

	state, err := h.engine.Override(r.Context(), userID, override)
	if err != nil {
		h.writeError(w, userID, err)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var request struct {
		ID     string    `json:"id,omitempty"`
		Kind   string    `json:"kind"`
		At     time.Time `json:"at,omitempty"`
		Detail string    `json:"detail,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if request.At.IsZero() {
		request.At = time.Now()
	}

	if _, err := h.engine.State(r.Context(), userID); err != nil {
		h.writeError(w, userID, err)
		return
	}

	event, err := h.activity.Record(r.Context(), models.ActivityEvent{
		ID:     request.ID,
		UserID: userID,
		Kind:   request.Kind,
		At:     request.At,
		Detail: request.Detail,
	})
	if err != nil {
		h.writeError(w, userID, err)
		return
	}

	if event.Kind == models.ActivityConversion {
		if _, err := h.engine.MarkConverted(r.Context(), userID); err != nil {
			h.writeError(w, userID, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, event)
}

// Classify runs the classifier without touching any contact state
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, classifier.Classify(request.Text, h.patterns, time.Now()))
}

func (h *Handler) Escalations(w http.ResponseWriter, r *http.Request) {
	count := int64(defaultEscalationPage)
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid count", http.StatusBadRequest)
			return
		}
		count = n
	}

	actions, err := h.escalations.List(r.Context(), count)
	if err != nil {
		h.writeError(w, "", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"escalations": actions,
		"count":       len(actions),
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	pending, err := h.escalations.Length(r.Context())
	if err != nil {
		http.Error(w, "Health check failed", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":              "healthy",
		"is_leader":           h.isLeaderFunc(),
		"pending_escalations": pending,
		"timestamp":           time.Now(),
	})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.engine.Contacts(r.Context())
	if err != nil {
		http.Error(w, "Failed to get status", http.StatusInternalServerError)
		return
	}
	pending, err := h.escalations.Length(r.Context())
	if err != nil {
		http.Error(w, "Failed to get status", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"is_leader":           h.isLeaderFunc(),
		"contacts":            len(contacts),
		"pending_escalations": pending,
		"pattern_version":     h.patterns.Version(),
		"timestamp":           time.Now(),
	})
}
