package quarantine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/priceloom/feedgate/pkg/common/logger"
	"github.com/priceloom/feedgate/pkg/common/models"
)

// Dispatcher is the job-runner slice the quarantine API consumes to fan a
// batch reprocess out to the worker.
type Dispatcher interface {
	EnqueueBatchReprocess(ctx context.Context, recordIDs []string, triggeredBy string) (string, int, error)
}

type HTTPHandler struct {
	service    *Service
	dispatcher Dispatcher
}

func NewHTTPHandler(service *Service, dispatcher Dispatcher) *HTTPHandler {
	return &HTTPHandler{service: service, dispatcher: dispatcher}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/quarantine", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/quarantine/reprocess", h.handleBatchReprocess).Methods(http.MethodPost)
	router.HandleFunc("/quarantine/corrections/{id}", h.handleDeleteCorrection).Methods(http.MethodDelete)
	router.HandleFunc("/quarantine/{id}", h.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/quarantine/{id}", h.handlePatchStatus).Methods(http.MethodPatch)
	router.HandleFunc("/quarantine/{id}/corrections", h.handleCreateCorrection).Methods(http.MethodPost)
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))

	filter := ListFilter{
		FeedID: query.Get("feed_id"),
		Status: query.Get("status"),
		Search: query.Get("search"),
		Limit:  limit,
		Offset: offset,
	}

	records, counts, err := h.service.List(r.Context(), filter)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list quarantined records")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"counts":  counts,
	})
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, corrections, err := h.service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			http.Error(w, "record not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to fetch quarantined record")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"record":      rec,
		"corrections": corrections,
	})
}

func (h *HTTPHandler) handlePatchStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Status != models.QuarantineDismissed {
		http.Error(w, "only DISMISSED can be set directly; RESOLVED requires reprocessing", http.StatusUnprocessableEntity)
		return
	}

	err := h.service.Dismiss(r.Context(), mux.Vars(r)["id"])
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrRecordNotFound):
		http.Error(w, "record not found", http.StatusNotFound)
	case errors.Is(err, ErrTerminalState):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		logger.Log.WithError(err).Error("failed to dismiss record")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *HTTPHandler) handleCreateCorrection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Field     string `json:"field"`
		NewValue  string `json:"new_value"`
		CreatedBy string `json:"created_by"`
	}
	// new_value may be empty: an empty override clears the field on reprocess.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Field == "" {
		http.Error(w, "field required", http.StatusBadRequest)
		return
	}

	correction, err := h.service.AddCorrection(r.Context(), mux.Vars(r)["id"], req.Field, req.NewValue, req.CreatedBy)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			http.Error(w, "record not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to create correction")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, correction)
}

func (h *HTTPHandler) handleDeleteCorrection(w http.ResponseWriter, r *http.Request) {
	err := h.service.DeleteCorrection(r.Context(), mux.Vars(r)["id"])
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrCorrectionNotFound):
		http.Error(w, "correction not found", http.StatusNotFound)
	default:
		logger.Log.WithError(err).Error("failed to delete correction")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *HTTPHandler) handleBatchReprocess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecordIDs   []string `json:"record_ids"`
		TriggeredBy string   `json:"triggered_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.RecordIDs) == 0 {
		http.Error(w, "record_ids required", http.StatusBadRequest)
		return
	}

	batchID, enqueued, err := h.dispatcher.EnqueueBatchReprocess(r.Context(), req.RecordIDs, req.TriggeredBy)
	if err != nil {
		logger.Log.WithError(err).Error("failed to enqueue batch reprocess")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"batch_id":       batchID,
		"enqueued_count": enqueued,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
