package external

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// ChargeResult reports whether the affiliate paid for the next cycle.
type ChargeResult struct {
	Success   bool   `json:"success"`
	PaymentID string `json:"paymentId"`
	Status    string `json:"status"`
}

// BillingGateway charges an affiliate's subscription.
type BillingGateway interface {
	ChargeSubscription(ctx context.Context, affiliateID string) (ChargeResult, error)
}

type BillingConfig struct {
	BaseURL  string
	TeamSlug string
	Password string
	Timeout  time.Duration
	Retry    RetryPolicy
}

type BillingClient struct {
	baseURL    string
	teamSlug   string
	password   string
	retry      RetryPolicy
	httpClient *http.Client
}

type chargeRequest struct {
	TeamSlug    string `json:"teamSlug"`
	Token       string `json:"token"`
	AffiliateID string `json:"affiliateId"`
}

func NewBillingClient(cfg BillingConfig) *BillingClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	return &BillingClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		teamSlug: cfg.TeamSlug,
		password: cfg.Password,
		retry:    cfg.Retry,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// generateToken signs the request: values of the parameters plus credentials,
// concatenated in key order and hashed with SHA-256.
func (bc *BillingClient) generateToken(params map[string]string) string {
	params["TeamSlug"] = bc.teamSlug
	params["Password"] = bc.password

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		sb.WriteString(params[key])
	}

	hash := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(hash[:])
}

func (bc *BillingClient) ChargeSubscription(ctx context.Context, affiliateID string) (ChargeResult, error) {
	body, err := json.Marshal(chargeRequest{
		TeamSlug:    bc.teamSlug,
		Token:       bc.generateToken(map[string]string{"AffiliateId": affiliateID}),
		AffiliateID: affiliateID,
	})
	if err != nil {
		return ChargeResult{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	return Retry(ctx, "billing", bc.retry, func(ctx context.Context) (ChargeResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			bc.baseURL+"/api/v1/subscriptions/charge", bytes.NewReader(body))
		if err != nil {
			return ChargeResult{}, fmt.Errorf("%w: %v", errRejected, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := bc.httpClient.Do(req)
		if err != nil {
			return ChargeResult{}, fmt.Errorf("failed to charge subscription: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return ChargeResult{}, fmt.Errorf("billing returned status %d", resp.StatusCode)
		}
		// a declined charge is an answer, not an outage
		if resp.StatusCode == http.StatusPaymentRequired {
			return ChargeResult{Success: false, Status: "DECLINED"}, nil
		}
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return ChargeResult{}, fmt.Errorf("%w: status %d: %s", errRejected, resp.StatusCode, string(msg))
		}

		var result ChargeResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return ChargeResult{}, fmt.Errorf("failed to decode response: %w", err)
		}
		return result, nil
	})
}
