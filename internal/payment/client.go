// Package payment tracks the payment-confirmation protocol for one trip:
// initiating a charge with the external collaborator and polling its
// verification endpoint until the charge resolves. The package never
// processes payments itself and never touches the registry directly; the
// poller feeds its outcome back through the same update channel as every
// other source.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hailside/hailside/internal/trip"
)

// VerifyStatus classifies one verification attempt.
type VerifyStatus string

const (
	VerifyPending VerifyStatus = "pending"
	VerifySuccess VerifyStatus = "success"
	VerifyFailure VerifyStatus = "failure"
)

// Verifier is the external payment collaborator contract.
type Verifier interface {
	// Initiate opens a charge for a trip and returns its charge id.
	Initiate(ctx context.Context, tripID trip.ID, amount int64, payerRef string) (string, error)

	// Verify reports the current state of a charge.
	Verify(ctx context.Context, chargeID string) (VerifyStatus, error)
}

// Client is the HTTP implementation of Verifier.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a payment client against the collaborator base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type initiateRequest struct {
	TripID   string `json:"trip_id"`
	Amount   int64  `json:"amount"`
	PayerRef string `json:"payer_ref"`
}

type initiateResponse struct {
	ChargeID string `json:"charge_id"`
}

type verifyResponse struct {
	Status string `json:"status"`
}

// Initiate opens a charge. The request carries an Idempotency-Key header so
// a client retry after a transport fault cannot double-charge.
func (c *Client) Initiate(ctx context.Context, tripID trip.ID, amount int64, payerRef string) (string, error) {
	body, err := json.Marshal(initiateRequest{
		TripID:   string(tripID),
		Amount:   amount,
		PayerRef: payerRef,
	})
	if err != nil {
		return "", fmt.Errorf("encode initiate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/charges", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build initiate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.Must(uuid.NewV7()).String())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("initiate charge for trip %s: %w", tripID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("initiate charge for trip %s: unexpected status %d", tripID, resp.StatusCode)
	}

	var out initiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode initiate response: %w", err)
	}
	if out.ChargeID == "" {
		return "", fmt.Errorf("initiate charge for trip %s: empty charge id", tripID)
	}
	return out.ChargeID, nil
}

// Verify reports the charge state. Unrecognized statuses are returned as an
// error so the poller can count the attempt without misclassifying it.
func (c *Client) Verify(ctx context.Context, chargeID string) (VerifyStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/charges/"+chargeID, nil)
	if err != nil {
		return "", fmt.Errorf("build verify request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("verify charge %s: %w", chargeID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("verify charge %s: unexpected status %d", chargeID, resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode verify response: %w", err)
	}

	switch VerifyStatus(out.Status) {
	case VerifyPending, VerifySuccess, VerifyFailure:
		return VerifyStatus(out.Status), nil
	default:
		return "", fmt.Errorf("verify charge %s: unrecognized status %q", chargeID, out.Status)
	}
}
