package catalog

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/priceloom/feedgate/pkg/common/logger"
)

type HTTPHandler struct {
	service *Service
}

func NewHTTPHandler(service *Service) *HTTPHandler {
	return &HTTPHandler{service: service}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/skus/{id}/map", h.handleMap).Methods(http.MethodPost)
	router.HandleFunc("/skus/{id}/approve", h.handleApprove).Methods(http.MethodPost)
	router.HandleFunc("/skus/{id}/unmap", h.handleUnmap).Methods(http.MethodPost)
}

func (h *HTTPHandler) handleMap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CanonicalSkuID string `json:"canonical_sku_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sku, err := h.service.Map(r.Context(), mux.Vars(r)["id"], req.CanonicalSkuID)
	h.respond(w, sku, err)
}

func (h *HTTPHandler) handleApprove(w http.ResponseWriter, r *http.Request) {
	sku, err := h.service.Approve(r.Context(), mux.Vars(r)["id"])
	h.respond(w, sku, err)
}

func (h *HTTPHandler) handleUnmap(w http.ResponseWriter, r *http.Request) {
	sku, err := h.service.Unmap(r.Context(), mux.Vars(r)["id"])
	h.respond(w, sku, err)
}

func (h *HTTPHandler) respond(w http.ResponseWriter, sku *RetailerSku, err error) {
	if err != nil {
		switch {
		case errors.Is(err, ErrSkuNotFound):
			http.Error(w, "sku not found", http.StatusNotFound)
		case errors.Is(err, ErrNotUpgradeable), errors.Is(err, ErrMissingTarget):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			logger.Log.WithError(err).Error("mapping action failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sku)
}
