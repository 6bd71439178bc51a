package dryrun

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/priceloom/feedgate/pkg/common/logger"
	"github.com/priceloom/feedgate/pkg/runner"
)

type HTTPHandler struct {
	evaluator *Evaluator
	repo      *Repository
}

func NewHTTPHandler(evaluator *Evaluator, repo *Repository) *HTTPHandler {
	return &HTTPHandler{evaluator: evaluator, repo: repo}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/feeds/{id}/dryruns", h.handleTrigger).Methods(http.MethodPost)
	router.HandleFunc("/feeds/{id}/dryruns", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/dryruns/{id}", h.handleGet).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	result, err := h.evaluator.Evaluate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, runner.ErrFeedNotFound) {
			http.Error(w, "feed not found", http.StatusNotFound)
			return
		}
		if runner.IsFetchError(err) {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		logger.Log.WithError(err).Error("dry run failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	run, err := h.repo.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, ErrTestRunNotFound) {
			http.Error(w, "test run not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to fetch test run")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.repo.ListByFeed(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list test runs")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
