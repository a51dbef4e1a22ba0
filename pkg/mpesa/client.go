package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sokohub/sokohub-backend/pkg/config"
	"github.com/sokohub/sokohub-backend/pkg/logger"
)

const (
	tokenPath       = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath     = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath    = "/mpesa/stkpushquery/v1/query"
	transactionType = "CustomerPayBillOnline"
	timestampLayout = "20060102150405"

	// tokens are valid for an hour; refresh slightly early
	tokenSlack = 30 * time.Second
)

var (
	errCredentialsRequired = errors.New("mpesa consumer key and secret are required")
	errShortCodeRequired   = errors.New("mpesa short code and passkey are required")

	// ErrGatewayUnavailable marks network failures and gateway 5xx answers.
	// Callers treat these as transient and eligible for retry.
	ErrGatewayUnavailable = errors.New("mpesa gateway unavailable")
)

// Client is a minimal Daraja STK push client with a cached OAuth token.
type Client struct {
	httpClient *http.Client
	baseURL    string

	consumerKey    string
	consumerSecret string
	shortCode      string
	passkey        string
	callbackURL    string

	now func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient validates the gateway credentials and builds a client.
func NewClient(ctx context.Context, cfg config.MpesaConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.ConsumerKey) == "" || strings.TrimSpace(cfg.ConsumerSecret) == "" {
		return nil, errCredentialsRequired
	}
	if strings.TrimSpace(cfg.ShortCode) == "" || strings.TrimSpace(cfg.Passkey) == "" {
		return nil, errShortCodeRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("mpesa client initialized (%s)", cfg.BaseURL))
	}

	return &Client{
		httpClient:     &http.Client{Timeout: timeout},
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		shortCode:      cfg.ShortCode,
		passkey:        cfg.Passkey,
		callbackURL:    cfg.CallbackURL,
		now:            time.Now,
	}, nil
}

// STKPush asks the gateway to prompt the customer's handset for payment.
func (c *Client) STKPush(ctx context.Context, input STKPushInput) (*STKPushResponse, error) {
	if input.Phone == "" {
		return nil, errors.New("phone is required")
	}
	if input.AmountCents <= 0 {
		return nil, errors.New("amount must be positive")
	}

	timestamp := c.now().UTC().Format(timestampLayout)
	req := stkPushRequest{
		BusinessShortCode: c.shortCode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            amountUnits(input.AmountCents),
		PartyA:            input.Phone,
		PartyB:            c.shortCode,
		PhoneNumber:       input.Phone,
		CallBackURL:       c.callbackURL,
		AccountReference:  input.AccountReference,
		TransactionDesc:   input.Description,
	}

	var resp STKPushResponse
	if err := c.postJSON(ctx, stkPushPath, req, &resp); err != nil {
		return nil, err
	}
	if resp.ResponseCode != "0" {
		return nil, fmt.Errorf("stk push rejected: %s (code %s)", resp.ResponseDescription, resp.ResponseCode)
	}
	return &resp, nil
}

// QueryStatus asks the gateway for the outcome of a previous push.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (*StatusResponse, error) {
	if checkoutRequestID == "" {
		return nil, errors.New("checkout request id is required")
	}

	timestamp := c.now().UTC().Format(timestampLayout)
	req := statusQueryRequest{
		BusinessShortCode: c.shortCode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	var resp StatusResponse
	if err := c.postJSON(ctx, stkQueryPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// password builds the timestamped API password: base64(shortcode+passkey+timestamp).
func (c *Client) password(timestamp string) string {
	raw := c.shortCode + c.passkey + timestamp
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// amountUnits renders cents as whole currency units the gateway expects.
func amountUnits(cents int) string {
	units := decimal.NewFromInt(int64(cents)).Div(decimal.NewFromInt(100))
	return units.Ceil().String()
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tokenPath, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.consumerKey, c.consumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("%w: token endpoint returned %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("token request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if token.AccessToken == "" {
		return "", errors.New("token response missing access_token")
	}

	ttl := time.Hour
	if parsed, err := time.ParseDuration(token.ExpiresIn + "s"); err == nil && parsed > 0 {
		ttl = parsed
	}

	c.token = token.AccessToken
	c.tokenExpiry = c.now().Add(ttl - tokenSlack)
	return c.token, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: gateway returned %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("gateway request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding gateway response: %w", err)
	}
	return nil
}
