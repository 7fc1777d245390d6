package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/veripay/settlement-engine/internal/domain"
	"github.com/veripay/settlement-engine/internal/service"
)

// IntakeHandler handles order registration for the settlement engine.
type IntakeHandler struct {
	intakeSvc *service.IntakeService
}

// NewIntakeHandler creates a new IntakeHandler instance.
func NewIntakeHandler(intakeSvc *service.IntakeService) *IntakeHandler {
	return &IntakeHandler{intakeSvc: intakeSvc}
}

// CreateOrderRequest represents the request body for registering an order.
// Amount arrives as a decimal string and is converted to minor units.
type CreateOrderRequest struct {
	RefID  string `json:"ref_id"`
	Vendor string `json:"vendor"`
	Amount string `json:"amount"`
}

func (req *CreateOrderRequest) normalize() (int64, error) {
	req.RefID = strings.TrimSpace(req.RefID)
	req.Vendor = strings.TrimSpace(req.Vendor)
	return domain.ParseAmount(req.Amount)
}

// CreatePayin handles POST /v1/payins
// It registers the payin and synchronously attempts a payout allocation.
func (h *IntakeHandler) CreatePayin(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	amount, err := req.normalize()
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", err.Error())
		return
	}
	if req.RefID == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-ref-id", "ref_id is required")
		return
	}
	if req.Vendor == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-vendor", "vendor is required")
		return
	}

	resp, err := h.intakeSvc.CreatePayin(r.Context(), service.CreatePayinRequest{
		RefID:  req.RefID,
		Vendor: req.Vendor,
		Amount: amount,
	})
	if err != nil {
		if status, problemType, message, ok := mapDBError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error("create payin failed", zap.Error(err), zap.String("ref_id", req.RefID))
		RespondError(w, r, http.StatusInternalServerError, "payin/create-failed", "Failed to create payin")
		return
	}

	RespondJSON(w, http.StatusCreated, resp)
}

// CreatePayout handles POST /v1/payouts
// It registers a withdrawal that opted into instant, split-capable settlement.
func (h *IntakeHandler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	amount, err := req.normalize()
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", err.Error())
		return
	}
	if req.RefID == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-ref-id", "ref_id is required")
		return
	}
	if req.Vendor == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-vendor", "vendor is required")
		return
	}

	order, err := h.intakeSvc.CreatePayout(r.Context(), service.CreatePayoutRequest{
		RefID:  req.RefID,
		Vendor: req.Vendor,
		Amount: amount,
	})
	if err != nil {
		if status, problemType, message, ok := mapDBError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error("create payout failed", zap.Error(err), zap.String("ref_id", req.RefID))
		RespondError(w, r, http.StatusInternalServerError, "payout/create-failed", "Failed to create payout")
		return
	}

	RespondJSON(w, http.StatusCreated, order)
}
