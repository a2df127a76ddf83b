package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrBadSignature = errors.New("payment: webhook signature mismatch")

type EventKind int

const (
	EventIgnored EventKind = iota
	EventPaid
	EventFailed
)

type Event struct {
	Type    string
	Kind    EventKind
	OrderID string
}

// VerifySignature checks a hex HMAC-SHA256 of body. With no secret configured
// every body is accepted; with one, a missing signature is a mismatch.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return nil
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrBadSignature
	}
	signature = strings.TrimPrefix(signature, "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// Sign returns the hex signature VerifySignature accepts.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type webhookBody struct {
	Type string `json:"type"`
	Data struct {
		Code  string `json:"code"`
		Order struct {
			Code string `json:"code"`
		} `json:"order"`
	} `json:"data"`
}

// DecodeEvent reads a webhook body. The order id is the code we sent when
// the transaction was created.
func DecodeEvent(body []byte) (Event, error) {
	var w webhookBody
	if err := json.Unmarshal(body, &w); err != nil {
		return Event{}, fmt.Errorf("decode webhook: %w", err)
	}
	ev := Event{Type: w.Type, OrderID: w.Data.Code}
	if w.Type == "charge.paid" || w.Type == "charge.payment_failed" {
		if w.Data.Order.Code != "" {
			ev.OrderID = w.Data.Order.Code
		}
	}
	switch w.Type {
	case "order.paid", "charge.paid":
		ev.Kind = EventPaid
	case "charge.payment_failed", "order.payment_failed":
		ev.Kind = EventFailed
	}
	return ev, nil
}
