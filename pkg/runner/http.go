package runner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/priceloom/feedgate/pkg/common/logger"
	"github.com/priceloom/feedgate/pkg/common/models"
)

// Dispatcher is the job-runner slice the run API consumes.
type Dispatcher interface {
	EnqueueFeedRun(ctx context.Context, feedID, trigger string) (string, error)
	HasActiveJob(ctx context.Context, feedID string) (bool, error)
}

// RunStore is the read-side persistence the run API consumes.
type RunStore interface {
	GetFeed(ctx context.Context, id string) (*Feed, error)
	ListFeeds(ctx context.Context) ([]Feed, error)
	GetRun(ctx context.Context, id string) (*FeedRun, error)
	ListRuns(ctx context.Context, feedID string, limit int) ([]FeedRun, error)
}

var validTriggers = map[string]struct{}{
	models.TriggerScheduled:     {},
	models.TriggerManual:        {},
	models.TriggerManualPending: {},
	models.TriggerAdminTest:     {},
	models.TriggerRetry:         {},
}

type HTTPHandler struct {
	repo         RunStore
	orchestrator *Orchestrator
	dispatcher   Dispatcher
}

func NewHTTPHandler(repo RunStore, orchestrator *Orchestrator, dispatcher Dispatcher) *HTTPHandler {
	return &HTTPHandler{repo: repo, orchestrator: orchestrator, dispatcher: dispatcher}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/feeds", h.handleListFeeds).Methods(http.MethodGet)
	router.HandleFunc("/feeds/{id}/runs", h.handleTriggerRun).Methods(http.MethodPost)
	router.HandleFunc("/feeds/{id}/runs", h.handleListRuns).Methods(http.MethodGet)
	router.HandleFunc("/feeds/{id}/reactivate", h.handleReactivate).Methods(http.MethodPost)
	router.HandleFunc("/runs/{id}", h.handleGetRun).Methods(http.MethodGet)
	router.HandleFunc("/runs/{id}/approve", h.handleApprove).Methods(http.MethodPost)
	router.HandleFunc("/runs/{id}/discard", h.handleDiscard).Methods(http.MethodPost)
}

func (h *HTTPHandler) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := h.repo.ListFeeds(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("failed to list feeds")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, feeds)
}

// handleTriggerRun enqueues a run. Manual triggers are rejected while a run
// for the feed is already waiting or executing; the check is advisory, and
// a racing duplicate is absorbed by idempotent upserts.
func (h *HTTPHandler) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	feedID := mux.Vars(r)["id"]

	var req struct {
		Trigger string `json:"trigger"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	trigger := strings.ToUpper(strings.TrimSpace(req.Trigger))
	if trigger == "" {
		trigger = models.TriggerManual
	}
	if _, ok := validTriggers[trigger]; !ok {
		http.Error(w, "unknown trigger "+trigger, http.StatusBadRequest)
		return
	}

	if _, err := h.repo.GetFeed(r.Context(), feedID); err != nil {
		if errors.Is(err, ErrFeedNotFound) {
			http.Error(w, "feed not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to load feed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if trigger == models.TriggerManual {
		active, err := h.dispatcher.HasActiveJob(r.Context(), feedID)
		if err != nil {
			logger.Log.WithError(err).Error("active-job check failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if active {
			http.Error(w, "a run for this feed is already waiting or active", http.StatusConflict)
			return
		}
	}

	jobID, err := h.dispatcher.EnqueueFeedRun(r.Context(), feedID, trigger)
	if err != nil {
		logger.Log.WithError(err).Error("failed to enqueue feed run")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (h *HTTPHandler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.repo.ListRuns(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list runs")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *HTTPHandler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.repo.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to fetch run")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *HTTPHandler) handleApprove(w http.ResponseWriter, r *http.Request) {
	run, err := h.orchestrator.Approve(r.Context(), mux.Vars(r)["id"])
	h.respondRunAction(w, run, err)
}

func (h *HTTPHandler) handleDiscard(w http.ResponseWriter, r *http.Request) {
	run, err := h.orchestrator.Discard(r.Context(), mux.Vars(r)["id"])
	h.respondRunAction(w, run, err)
}

func (h *HTTPHandler) handleReactivate(w http.ResponseWriter, r *http.Request) {
	feed, err := h.orchestrator.ReactivateFeed(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, ErrFeedNotFound) {
			http.Error(w, "feed not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to reactivate feed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (h *HTTPHandler) respondRunAction(w http.ResponseWriter, run *FeedRun, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, run)
	case errors.Is(err, ErrRunNotFound):
		http.Error(w, "run not found", http.StatusNotFound)
	case errors.Is(err, ErrRunNotBlocked):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		logger.Log.WithError(err).Error("run action failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
