package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/cimillas/paygate/internal/app"
)

const (
	signatureHeader = "signature"
	timestampHeader = "timestamp"

	maxWebhookBody = 1 << 20
)

type SignatureVerifier interface {
	Verify(body []byte, sig, timestamp string) bool
}

type NotificationDispatcher interface {
	Dispatch(ctx context.Context, raw []byte) app.ReconcileResult
}

type webhookAck struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HandleWebhook authenticates a gateway delivery and hands it to the
// dispatcher. A bad signature and an unreadable body are the only cases answered
// with anything but 200, and both get the same 401.
func HandleWebhook(verifier SignatureVerifier, dispatcher NotificationDispatcher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			// Answered exactly like a forgery.
			logger.WarnContext(r.Context(), "webhook rejected", "reason", "body", "remote", clientIP(r), "error", err)
			writeError(w, http.StatusUnauthorized, codeInvalidSignature, "invalid signature")
			return
		}

		if !verifier.Verify(body, r.Header.Get(signatureHeader), r.Header.Get(timestampHeader)) {
			logger.WarnContext(r.Context(), "webhook rejected", "reason", "signature", "remote", clientIP(r))
			writeError(w, http.StatusUnauthorized, codeInvalidSignature, "invalid signature")
			return
		}

		acknowledge(w, dispatcher.Dispatch(r.Context(), body))
	}
}

// acknowledge is the single place where a reconciliation outcome becomes the
// gateway-facing response. The status code is always 200 so the gateway never
// redelivers; the body is informational.
func acknowledge(w http.ResponseWriter, res app.ReconcileResult) {
	ack := webhookAck{Message: string(res.Outcome)}
	switch res.Outcome {
	case app.OutcomeApplied, app.OutcomeUnchanged:
		ack.Success = true
	}
	writeJSON(w, http.StatusOK, ack)
}
