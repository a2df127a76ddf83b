package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/storefront-checkout/internal/orders"
)

// Transaction is the gateway's handle for a created order.
type Transaction struct {
	ID           string
	ChargeStatus orders.PaymentStatus
	Artifacts    orders.PaymentArtifacts
}

type Client struct {
	BaseURL   string
	SecretKey string
	HTTP      *http.Client
}

func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		SecretKey: secretKey,
		HTTP:      &http.Client{Timeout: timeout},
	}
}

type orderResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Charges []struct {
		ID              string `json:"id"`
		Status          string `json:"status"`
		LastTransaction struct {
			QRCode    string `json:"qr_code"`
			QRCodeURL string `json:"qr_code_url"`
			URL       string `json:"url"`
			Line      string `json:"line"`
		} `json:"last_transaction"`
	} `json:"charges"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// Submit creates the order at the gateway. Transport failures and timeouts
// are ErrGatewayUnreachable; any answer without a transaction id is
// ErrGatewayRejected.
func (c *Client) Submit(ctx context.Context, p Payload) (Transaction, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: encode: %w", ErrInvalidPayload, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return Transaction{}, err
	}
	req.SetBasicAuth(c.SecretKey, "")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: read body: %w", ErrGatewayUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := providerMessage(raw, resp.Status)
		if resp.StatusCode >= 500 {
			return Transaction{}, fmt.Errorf("%w: %s", ErrGatewayUnreachable, msg)
		}
		return Transaction{}, fmt.Errorf("%w: %s", ErrGatewayRejected, msg)
	}

	var out orderResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Transaction{}, fmt.Errorf("%w: decode: %w", ErrGatewayRejected, err)
	}
	if out.ID == "" {
		return Transaction{}, fmt.Errorf("%w: response carries no transaction id", ErrGatewayRejected)
	}

	tx := Transaction{ID: out.ID, ChargeStatus: orders.PaymentPending}
	if len(out.Charges) > 0 {
		ch := out.Charges[0]
		tx.ChargeStatus = chargeStatus(ch.Status)
		tx.Artifacts = orders.PaymentArtifacts{
			PixQRCode:     ch.LastTransaction.QRCode,
			PixQRCodeURL:  ch.LastTransaction.QRCodeURL,
			BoletoURL:     ch.LastTransaction.URL,
			BoletoBarcode: ch.LastTransaction.Line,
		}
	}
	return tx, nil
}

func chargeStatus(s string) orders.PaymentStatus {
	switch s {
	case "paid":
		return orders.PaymentPaid
	case "failed":
		return orders.PaymentFailed
	}
	return orders.PaymentPending
}

func providerMessage(raw []byte, fallback string) string {
	var e errorResponse
	if json.Unmarshal(raw, &e) == nil && e.Message != "" {
		return e.Message
	}
	return fallback
}
