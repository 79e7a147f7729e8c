/**
 * @description
 * This file contains the HTTP handlers for the campaign API. Handlers decode requests,
 * call the application service and map domain errors to status codes.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/crowdfund-service/internal/app"
	"github.com/transfa/crowdfund-service/internal/domain"
)

// CampaignService is the application surface used by the handlers.
type CampaignService interface {
	Contribute(ctx context.Context, contributorID string, amount int64) (*domain.ContributeResponse, error)
	Finalize(ctx context.Context) (*domain.FinalizeResponse, error)
	Refund(ctx context.Context, contributorID string) (*domain.RefundResponse, error)
	SweepRefunds(ctx context.Context) (*domain.RefundSweepResult, error)
	Status(ctx context.Context) domain.CampaignStatus
	Pledge(ctx context.Context, contributorID string) *domain.PledgeResponse
	PendingTransfers(ctx context.Context) []domain.PendingTransfer
	SettleTransfer(ctx context.Context, reference uuid.UUID, delivered bool) (*domain.PendingTransfer, error)
}

// CampaignHandlers holds the dependencies for the campaign handlers.
type CampaignHandlers struct {
	service        CampaignService
	internalAPIKey string
}

func NewCampaignHandlers(service CampaignService, internalAPIKey string) *CampaignHandlers {
	return &CampaignHandlers{service: service, internalAPIKey: internalAPIKey}
}

// GetStatusHandler returns the public campaign snapshot.
func (h *CampaignHandlers) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.Status(r.Context()))
}

// FinalizeHandler resolves the campaign. It is safe to call repeatedly.
func (h *CampaignHandlers) FinalizeHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Finalize(r.Context())
	if err != nil {
		log.Printf("level=warn component=api endpoint=finalize outcome=failed err=%v", err)
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ContributeHandler pulls a contribution from the authenticated contributor.
func (h *CampaignHandlers) ContributeHandler(w http.ResponseWriter, r *http.Request) {
	contributorID, ok := GetContributorID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not identify contributor from token")
		return
	}

	var req domain.ContributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.service.Contribute(r.Context(), contributorID, req.Amount)
	if err != nil {
		log.Printf("level=warn component=api endpoint=contribute outcome=failed contributor_id=%s amount=%d err=%v", contributorID, req.Amount, err)
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// GetMyPledgeHandler returns the authenticated contributor's pledge.
func (h *CampaignHandlers) GetMyPledgeHandler(w http.ResponseWriter, r *http.Request) {
	contributorID, ok := GetContributorID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not identify contributor from token")
		return
	}
	h.writeJSON(w, http.StatusOK, h.service.Pledge(r.Context(), contributorID))
}

// RefundHandler returns the authenticated contributor's pledge after a failed campaign.
func (h *CampaignHandlers) RefundHandler(w http.ResponseWriter, r *http.Request) {
	contributorID, ok := GetContributorID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not identify contributor from token")
		return
	}

	resp, err := h.service.Refund(r.Context(), contributorID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=refund outcome=failed contributor_id=%s err=%v", contributorID, err)
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// RefundSweepHandler refunds every remaining contributor. Called by internal jobs.
func (h *CampaignHandlers) RefundSweepHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.SweepRefunds(r.Context())
	if err != nil {
		log.Printf("level=warn component=api endpoint=refund_sweep outcome=failed err=%v", err)
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ListPendingTransfersHandler lists transfers that are in flight or awaiting
// settlement. Called by operators.
func (h *CampaignHandlers) ListPendingTransfersHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.PendingTransfers(r.Context()))
}

// SettleTransferHandler records the outcome an operator confirmed with Anchor for a
// transfer whose result was unknown.
func (h *CampaignHandlers) SettleTransferHandler(w http.ResponseWriter, r *http.Request) {
	reference, err := uuid.Parse(chi.URLParam(r, "reference"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transfer reference")
		return
	}

	var req domain.SettleTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Delivered == nil {
		h.writeError(w, http.StatusBadRequest, "Request body must state whether the transfer was delivered")
		return
	}

	settled, err := h.service.SettleTransfer(r.Context(), reference, *req.Delivered)
	if err != nil {
		log.Printf("level=warn component=api endpoint=settle_transfer outcome=failed reference=%s err=%v", reference, err)
		h.writeDomainError(w, err)
		return
	}
	log.Printf("level=info component=api endpoint=settle_transfer outcome=ok reference=%s kind=%s delivered=%t", reference, settled.Kind, *req.Delivered)
	h.writeJSON(w, http.StatusOK, settled)
}

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidContributor):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCampaignClosed),
		errors.Is(err, domain.ErrDeadlineNotReached),
		errors.Is(err, domain.ErrCampaignNotFailed),
		errors.Is(err, domain.ErrNothingToRefund),
		errors.Is(err, domain.ErrTransfersUnsettled),
		errors.Is(err, domain.ErrTransferInFlight):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTransferNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrTransferFailed), errors.Is(err, domain.ErrTransferOutcomeUnknown):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrJournalUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func messageForError(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		return "Amount must be a positive number of kobo"
	case errors.Is(err, domain.ErrInvalidContributor):
		return "Invalid contributor"
	case errors.Is(err, domain.ErrCampaignClosed):
		return "Campaign is no longer accepting contributions"
	case errors.Is(err, domain.ErrDeadlineNotReached):
		return "Campaign deadline has not been reached"
	case errors.Is(err, domain.ErrCampaignNotFailed):
		return "Refunds are only available for failed campaigns"
	case errors.Is(err, domain.ErrNothingToRefund):
		return "Nothing to refund"
	case errors.Is(err, domain.ErrRateLimited):
		return "Too many requests"
	case errors.Is(err, domain.ErrTransferFailed):
		return "Transfer could not be completed"
	case errors.Is(err, domain.ErrTransferOutcomeUnknown):
		return "Transfer outcome unknown; it will be settled and must not be retried"
	case errors.Is(err, domain.ErrTransfersUnsettled):
		return "Contributions are awaiting settlement"
	case errors.Is(err, domain.ErrTransferNotFound):
		return "No pending transfer with that reference"
	case errors.Is(err, domain.ErrTransferInFlight):
		return "Transfer is still in flight"
	case errors.Is(err, domain.ErrJournalUnavailable):
		return "Service temporarily unavailable"
	}
	return "Internal server error"
}

func (h *CampaignHandlers) writeDomainError(w http.ResponseWriter, err error) {
	var rateErr *app.RateLimitError
	if errors.As(err, &rateErr) && rateErr.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
	}
	h.writeError(w, statusForError(err), messageForError(err))
}

// writeJSON is a helper for writing JSON responses.
func (h *CampaignHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *CampaignHandlers) writeError(w http.ResponseWriter, status int, message string) {
	writeErrorJSON(w, status, message)
}

func writeErrorJSON(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
