package payments

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	standardwebhooks "github.com/standard-webhooks/standard-webhooks/libraries/go"

	"github.com/digkill/InfographicAI/internal/models"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Verifier checks Standard Webhooks signatures (webhook-id, webhook-timestamp,
// webhook-signature headers) as sent by Dodo Payments.
type Verifier struct {
	wh *standardwebhooks.Webhook
}

// NewVerifier accepts the secret as shown in the dashboard ("whsec_" + base64).
func NewVerifier(secret string) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if strings.TrimPrefix(secret, "whsec_") == "" {
		return nil, fmt.Errorf("webhook secret is empty")
	}
	wh, err := standardwebhooks.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("decode webhook secret: %w", err)
	}
	return &Verifier{wh: wh}, nil
}

// Sign returns the signature header value for a payload. Used by tests and
// local tooling to produce deliveries.
func (v *Verifier) Sign(id string, timestamp time.Time, body []byte) (string, error) {
	sig, err := v.wh.Sign(id, timestamp, body)
	if err != nil {
		return "", fmt.Errorf("sign webhook: %w", err)
	}
	return sig, nil
}

// Verify rejects missing headers, timestamps more than five minutes off and
// bodies that match none of the v1 signatures.
func (v *Verifier) Verify(header http.Header, body []byte) error {
	if err := v.wh.Verify(body, header); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// ParseEvent extracts the fields the purchase flow needs. Dodo has shipped the
// payment either at the top level, under data or under data.payment, so each
// field is looked up on all three paths.
func ParseEvent(body []byte) (models.PaymentEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return models.PaymentEvent{}, fmt.Errorf("%w: decode webhook payload: %v", models.ErrValidation, err)
	}

	evt := models.PaymentEvent{Raw: body}
	evt.Type = pickString(payload, "type", "event_type", "data.type", "data.event_type")
	evt.TransactionID = pickString(payload, "payment_id", "data.payment_id", "data.payment.payment_id")
	evt.Currency = strings.ToUpper(pickString(payload, "currency", "data.currency", "data.payment.currency"))
	if evt.Currency == "" {
		evt.Currency = "USD"
	}
	if n, ok := pick(payload, "total_amount", "data.total_amount", "data.payment.total_amount").(json.Number); ok {
		if f, err := n.Float64(); err == nil {
			evt.AmountMinor = int64(math.Round(f))
		}
	}
	evt.Metadata = map[string]string{}
	if meta, ok := pick(payload, "metadata", "data.metadata", "data.payment.metadata").(map[string]any); ok {
		for k, v := range meta {
			if s := stringify(v); s != "" {
				evt.Metadata[k] = s
			}
		}
	}
	return evt, nil
}

func pick(payload map[string]any, paths ...string) any {
	for _, p := range paths {
		var cur any = payload
		found := true
		for _, part := range strings.Split(p, ".") {
			m, ok := cur.(map[string]any)
			if !ok {
				found = false
				break
			}
			if cur, ok = m[part]; !ok {
				found = false
				break
			}
		}
		if found && cur != nil {
			return cur
		}
	}
	return nil
}

func pickString(payload map[string]any, paths ...string) string {
	return stringify(pick(payload, paths...))
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
