package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/veripay/settlement-engine/internal/api/problem"
)

var webhookHMACKey []byte
var webhookSkipSignature bool

func SetWebhookSignature(key string, skip bool) {
	webhookHMACKey = []byte(key)
	webhookSkipSignature = skip
}

// WebhookSignatureMiddleware verifies the X-Webhook-Signature HMAC over the
// raw request body before any handler reads it.
func WebhookSignatureMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if webhookSkipSignature {
			next.ServeHTTP(w, r)
			return
		}
		if len(webhookHMACKey) == 0 {
			problem.Write(w, r, http.StatusInternalServerError, problem.Type("webhook/misconfigured"), http.StatusText(http.StatusInternalServerError), "webhook verification is not configured")
			return
		}

		sig := r.Header.Get("X-Webhook-Signature")
		if sig == "" {
			problem.Write(w, r, http.StatusUnauthorized, problem.Type("webhook/missing-signature"), http.StatusText(http.StatusUnauthorized), "X-Webhook-Signature header is required")
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			problem.Write(w, r, http.StatusBadRequest, problem.Type("request/invalid-body"), http.StatusText(http.StatusBadRequest), "Failed to read request body")
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

		mac := hmac.New(sha256.New, webhookHMACKey)
		mac.Write(bodyBytes)
		expected := hex.EncodeToString(mac.Sum(nil))
		if !hmac.Equal([]byte(expected), []byte(sig)) {
			problem.Write(w, r, http.StatusUnauthorized, problem.Type("webhook/invalid-signature"), http.StatusText(http.StatusUnauthorized), "webhook signature mismatch")
			return
		}

		next.ServeHTTP(w, r)
	})
}
