package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/veripay/settlement-engine/internal/domain"
	"github.com/veripay/settlement-engine/internal/service"
)

// WebhookHandler normalizes gateway confirmation callbacks into Confirm
// calls. Signature verification runs in middleware before the handlers see
// the body. Processing outcomes answer 200; only transport or parse failures
// answer non-200, so gateways do not retry business no-ops forever.
type WebhookHandler struct {
	intakeSvc     *service.IntakeService
	completionSvc *service.CompletionService
}

// NewWebhookHandler creates a new WebhookHandler instance.
func NewWebhookHandler(intakeSvc *service.IntakeService, completionSvc *service.CompletionService) *WebhookHandler {
	return &WebhookHandler{intakeSvc: intakeSvc, completionSvc: completionSvc}
}

// gatewayEvent is the normalized shape every adapter converges on.
type gatewayEvent struct {
	OrderReference string
	TransactionID  string
	Status         string
	Amount         string
	Gateway        string
}

type payinWebhookPayload struct {
	OrderReference string `json:"order_reference"`
	TransactionID  string `json:"transaction_id"`
	Status         string `json:"status"`
	Amount         string `json:"amount"`
	Gateway        string `json:"gateway"`
}

// HandlePayinWebhook handles POST /v1/webhooks/payin with the native payload.
func (h *WebhookHandler) HandlePayinWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var payload payinWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid webhook payload")
		return
	}
	h.process(w, r, gatewayEvent{
		OrderReference: payload.OrderReference,
		TransactionID:  payload.TransactionID,
		Status:         payload.Status,
		Amount:         payload.Amount,
		Gateway:        payload.Gateway,
	})
}

type hyptoWebhookPayload struct {
	OrderID string `json:"order_id"`
	UTR     string `json:"utr"`
	Status  string `json:"status"`
	Amount  string `json:"amount"`
}

// HandleHyptoWebhook handles POST /v1/webhooks/hypto.
func (h *WebhookHandler) HandleHyptoWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var payload hyptoWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid webhook payload")
		return
	}
	h.process(w, r, gatewayEvent{
		OrderReference: payload.OrderID,
		TransactionID:  payload.UTR,
		Status:         payload.Status,
		Amount:         payload.Amount,
		Gateway:        "hypto",
	})
}

type zwitchWebhookPayload struct {
	MerchantReferenceID string `json:"merchant_reference_id"`
	UTRNumber           string `json:"utr_number"`
	Event               string `json:"event"`
	Amount              string `json:"amount"`
}

// HandleZwitchWebhook handles POST /v1/webhooks/zwitch.
func (h *WebhookHandler) HandleZwitchWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var payload zwitchWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid webhook payload")
		return
	}
	h.process(w, r, gatewayEvent{
		OrderReference: payload.MerchantReferenceID,
		TransactionID:  payload.UTRNumber,
		Status:         payload.Event,
		Amount:         payload.Amount,
		Gateway:        "zwitch",
	})
}

func (h *WebhookHandler) process(w http.ResponseWriter, r *http.Request, ev gatewayEvent) {
	ev.OrderReference = strings.TrimSpace(ev.OrderReference)
	if ev.OrderReference == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-order-reference", "order reference is required")
		return
	}

	if !isSuccessStatus(ev.Status) {
		zap.L().Info("webhook reported non-success status, no action",
			zap.String("gateway", ev.Gateway),
			zap.String("order_reference", ev.OrderReference),
			zap.String("status", ev.Status),
		)
		RespondJSON(w, http.StatusOK, map[string]string{"result": "ignored"})
		return
	}

	payin, err := h.intakeSvc.GetPayinByRef(r.Context(), ev.OrderReference)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) || errors.Is(err, service.ErrNotPayin) {
			zap.L().Warn("webhook references unknown payin",
				zap.String("gateway", ev.Gateway),
				zap.String("order_reference", ev.OrderReference),
			)
			RespondJSON(w, http.StatusOK, map[string]string{"result": "unknown_order"})
			return
		}
		zap.L().Error("webhook payin lookup failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "webhook/lookup-failed", "Failed to resolve order")
		return
	}

	if ev.Amount != "" {
		amount, err := domain.ParseAmount(ev.Amount)
		if err != nil || amount != payin.Amount {
			zap.L().Warn("webhook amount does not match payin, skipping confirmation",
				zap.String("gateway", ev.Gateway),
				zap.String("order_reference", ev.OrderReference),
				zap.String("webhook_amount", ev.Amount),
				zap.Int64("payin_amount", payin.Amount),
			)
			RespondJSON(w, http.StatusOK, map[string]string{"result": "amount_mismatch"})
			return
		}
	}

	result, err := h.completionSvc.Confirm(r.Context(), service.ConfirmRequest{
		PayinOrderID: payin.ID,
		UTR:          strings.TrimSpace(ev.TransactionID),
		Method:       domain.MethodWebhook,
		ConfirmedBy:  "gateway:" + ev.Gateway,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidState) {
			// Late webhook for an expired or failed payin; reversal already ran.
			zap.L().Warn("webhook arrived for non-confirmable payin",
				zap.String("order_reference", ev.OrderReference),
				zap.Error(err),
			)
			RespondJSON(w, http.StatusOK, map[string]string{"result": "not_confirmable"})
			return
		}
		zap.L().Error("webhook confirmation failed", zap.Error(err), zap.String("order_reference", ev.OrderReference))
		RespondError(w, r, http.StatusInternalServerError, "webhook/confirm-failed", "Failed to process webhook")
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

func isSuccessStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "succeeded", "completed", "captured", "payment.success", "transaction.success":
		return true
	}
	return false
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		zap.L().Error("read webhook body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return nil, false
	}
	return body, true
}
