package replicate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/bluefx/bluefx-server/internal/provider/domain"
)

// VerifyWebhook checks the svix-style signature Replicate attaches to
// webhook deliveries. The signed content is "<id>.<timestamp>.<body>" and
// the signature header may carry several space-separated candidates.
func (a *Adapter) VerifyWebhook(payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return domain.ErrInvalidConfig
	}

	id := strings.TrimSpace(headers.Get("Webhook-Id"))
	timestamp := strings.TrimSpace(headers.Get("Webhook-Timestamp"))
	signatureHeader := strings.TrimSpace(headers.Get("Webhook-Signature"))
	if id == "" || timestamp == "" || signatureHeader == "" {
		return domain.ErrInvalidSignature
	}

	key, err := signingKey(a.webhookSecret)
	if err != nil {
		return domain.ErrInvalidConfig
	}

	signedContent := fmt.Sprintf("%s.%s.%s", id, timestamp, payload)
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(signedContent))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, candidate := range strings.Fields(signatureHeader) {
		// Candidates look like "v1,<base64>".
		if _, value, ok := strings.Cut(candidate, ","); ok {
			candidate = value
		}
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

func signingKey(secret string) ([]byte, error) {
	if encoded, ok := strings.CutPrefix(secret, "whsec_"); ok {
		return base64.StdEncoding.DecodeString(encoded)
	}
	return []byte(secret), nil
}
