/**
 * @description
 * This file contains the HTTP handlers for the payout-service's API endpoints.
 * Handlers parse incoming requests, call the application service and write the
 * HTTP response. Every recognised business outcome of a submission is a 200 with
 * a JSON body; only requests that cannot be interpreted are rejected with 400.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - github.com/bytedance/sonic: JSON encoding and decoding.
 * - internal/app, internal/domain, internal/store: Service logic, models and errors.
 */

package api

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/transfa/payout-service/internal/app"
	"github.com/transfa/payout-service/internal/domain"
	"github.com/transfa/payout-service/internal/store"
)

const maxRequestBodyBytes = 1 << 20

// PayoutHandlers holds the application service that handlers will use.
type PayoutHandlers struct {
	service *app.Service
}

// NewPayoutHandlers creates a new PayoutHandlers instance.
func NewPayoutHandlers(service *app.Service) *PayoutHandlers {
	return &PayoutHandlers{service: service}
}

// SubmitPayoutHandler handles POST /payouts.
func (h *PayoutHandlers) SubmitPayoutHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes+1))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	if len(body) > maxRequestBodyBytes {
		h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var req domain.Payout
	if err := sonic.Unmarshal(body, &req); err != nil {
		log.Printf("level=warn component=api endpoint=submit_payout outcome=reject reason=malformed_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.Submit(r.Context(), req)
	if err != nil {
		if errors.Is(err, app.ErrInvalidCustomerTimestamp) {
			h.writeError(w, http.StatusBadRequest, "customerTimestamp must be an RFC 3339 date-time")
			return
		}
		log.Printf("level=error component=api endpoint=submit_payout payout_id=%s err=%v", req.PayoutID, err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	log.Printf("level=info component=api endpoint=submit_payout payout_id=%s status=%s", result.PayoutID, outcomeLabel(result))
	h.writeJSON(w, http.StatusOK, result)
}

// GetPayoutHandler handles GET /payouts/{payoutId} and returns the latest state.
func (h *PayoutHandlers) GetPayoutHandler(w http.ResponseWriter, r *http.Request) {
	payoutID := strings.TrimSpace(chi.URLParam(r, "payoutId"))
	rec, err := h.service.Query(r.Context(), payoutID)
	if err != nil {
		h.writeLookupError(w, payoutID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// GetPayoutHistoryHandler handles GET /payouts/{payoutId}/history.
func (h *PayoutHandlers) GetPayoutHistoryHandler(w http.ResponseWriter, r *http.Request) {
	payoutID := strings.TrimSpace(chi.URLParam(r, "payoutId"))
	history, err := h.service.History(r.Context(), payoutID)
	if err != nil {
		h.writeLookupError(w, payoutID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, history)
}

func (h *PayoutHandlers) writeLookupError(w http.ResponseWriter, payoutID string, err error) {
	if errors.Is(err, store.ErrPayoutNotFound) {
		h.writeError(w, http.StatusNotFound, "payout not found")
		return
	}
	log.Printf("level=error component=api endpoint=get_payout payout_id=%s err=%v", payoutID, err)
	h.writeError(w, http.StatusInternalServerError, "internal error")
}

func outcomeLabel(result domain.SubmissionResult) string {
	if result.Status == "" {
		return string(domain.StatusUnknownError)
	}
	return string(result.Status)
}

// writeJSON is a helper for writing JSON responses.
func (h *PayoutHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, data)
}

// writeError is a helper for writing JSON error responses.
func (h *PayoutHandlers) writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if data == nil {
		w.WriteHeader(status)
		return
	}
	body, err := sonic.Marshal(data)
	if err != nil {
		log.Printf("level=error component=api msg=\"encode response failed\" err=%v", err)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal error"}`))
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
