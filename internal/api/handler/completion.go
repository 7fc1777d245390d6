package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veripay/settlement-engine/internal/domain"
	"github.com/veripay/settlement-engine/internal/service"
)

// CompletionHandler exposes the manual confirmation surfaces. All of them
// converge on CompletionService.Confirm with their own completion method.
type CompletionHandler struct {
	completionSvc *service.CompletionService
}

// NewCompletionHandler creates a new CompletionHandler instance.
func NewCompletionHandler(completionSvc *service.CompletionService) *CompletionHandler {
	return &CompletionHandler{completionSvc: completionSvc}
}

type submitUTRRequest struct {
	UTR string `json:"utr"`
}

// SubmitUTR handles POST /v1/payins/{id}/utr
// A customer submits the bank UTR of the transfer they made.
func (h *CompletionHandler) SubmitUTR(w http.ResponseWriter, r *http.Request) {
	payinID, ok := payinIDParam(w, r)
	if !ok {
		return
	}

	var req submitUTRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	req.UTR = strings.TrimSpace(req.UTR)
	if req.UTR == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-utr", "utr is required")
		return
	}

	h.confirm(w, r, service.ConfirmRequest{
		PayinOrderID: payinID,
		UTR:          req.UTR,
		Method:       domain.MethodUTR,
		ConfirmedBy:  "customer",
	})
}

type submitScreenshotRequest struct {
	EvidenceRef string `json:"evidence_ref"`
	UTR         string `json:"utr"`
}

// SubmitScreenshot handles POST /v1/payins/{id}/screenshot
// Evidence is recorded by reference only; file storage lives elsewhere.
func (h *CompletionHandler) SubmitScreenshot(w http.ResponseWriter, r *http.Request) {
	payinID, ok := payinIDParam(w, r)
	if !ok {
		return
	}

	var req submitScreenshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	req.EvidenceRef = strings.TrimSpace(req.EvidenceRef)
	if req.EvidenceRef == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-evidence-ref", "evidence_ref is required")
		return
	}

	h.confirm(w, r, service.ConfirmRequest{
		PayinOrderID: payinID,
		UTR:          strings.TrimSpace(req.UTR),
		Method:       domain.MethodScreenshot,
		ConfirmedBy:  "customer:" + req.EvidenceRef,
	})
}

type adminApproveRequest struct {
	UTR    string `json:"utr"`
	Reason string `json:"reason"`
}

// AdminApprove handles POST /v1/admin/payins/{id}/approve (admin only).
func (h *CompletionHandler) AdminApprove(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil || !isAdmin {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}

	payinID, ok := payinIDParam(w, r)
	if !ok {
		return
	}

	var req adminApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	h.confirm(w, r, service.ConfirmRequest{
		PayinOrderID: payinID,
		UTR:          strings.TrimSpace(req.UTR),
		Method:       domain.MethodAdminApproval,
		ConfirmedBy:  actorID,
	})
}

func (h *CompletionHandler) confirm(w http.ResponseWriter, r *http.Request, req service.ConfirmRequest) {
	result, err := h.completionSvc.Confirm(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			RespondError(w, r, http.StatusNotFound, "payin/not-found", "Payin not found")
		case errors.Is(err, service.ErrNotPayin):
			RespondError(w, r, http.StatusBadRequest, "payin/wrong-order-type", "order is not a payin")
		case errors.Is(err, service.ErrInvalidState):
			RespondError(w, r, http.StatusConflict, "payin/not-confirmable", err.Error())
		default:
			zap.L().Error("confirm payin failed", zap.Error(err), zap.String("payin_id", req.PayinOrderID.String()))
			RespondError(w, r, http.StatusInternalServerError, "payin/confirm-failed", "Failed to confirm payin")
		}
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

func payinIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	payinID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-payin-id", "Invalid payin ID")
		return uuid.Nil, false
	}
	return payinID, true
}
