package testutil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cimillas/paygate/internal/signature"
)

// WebhookTimestamp is the timestamp header used by signed test deliveries.
const WebhookTimestamp = "1735812000"

// NewWebhookRequest builds a POST to target carrying body signed with secret
// the way the gateway signs deliveries.
func NewWebhookRequest(t *testing.T, target, secret string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("signature", signature.Sign(secret, body, WebhookTimestamp))
	req.Header.Set("timestamp", WebhookTimestamp)
	return req
}
