package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sokohub/sokohub-backend/pkg/config"
	"github.com/sokohub/sokohub-backend/pkg/enums"
	"github.com/sokohub/sokohub-backend/pkg/logger"
	"github.com/sokohub/sokohub-backend/pkg/types"
)

// Notifier is the outbound bridge to the WhatsApp/SMS relay. Calls are
// best-effort: callers log failures and move on.
type Notifier interface {
	NotifyOrderConfirmed(ctx context.Context, contact types.Contact, orderNumber string, totalCents int) error
	NotifyDeliveryUpdate(ctx context.Context, contact types.Contact, orderNumber string, status enums.DeliveryStatus) error
}

// HTTPNotifier posts notification events to the configured relay endpoint.
type HTTPNotifier struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logg       *logger.Logger
}

// NewHTTPNotifier builds a notifier from config. An empty base URL yields a
// Nop so local environments work without a relay.
func NewHTTPNotifier(cfg config.NotifierConfig, logg *logger.Logger) Notifier {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return Nop{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPNotifier{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logg:       logg,
	}
}

type notificationEvent struct {
	Kind        string `json:"kind"`
	OrderNumber string `json:"order_number"`
	Phone       string `json:"phone"`
	Email       string `json:"email,omitempty"`
	Name        string `json:"name,omitempty"`
	TotalCents  int    `json:"total_cents,omitempty"`
	Status      string `json:"status,omitempty"`
}

// NotifyOrderConfirmed tells the customer their payment settled.
func (n *HTTPNotifier) NotifyOrderConfirmed(ctx context.Context, contact types.Contact, orderNumber string, totalCents int) error {
	return n.post(ctx, notificationEvent{
		Kind:        "order_confirmed",
		OrderNumber: orderNumber,
		Phone:       contact.Phone,
		Email:       contact.Email,
		Name:        contact.FullName,
		TotalCents:  totalCents,
	})
}

// NotifyDeliveryUpdate tells the customer their delivery moved.
func (n *HTTPNotifier) NotifyDeliveryUpdate(ctx context.Context, contact types.Contact, orderNumber string, status enums.DeliveryStatus) error {
	return n.post(ctx, notificationEvent{
		Kind:        "delivery_update",
		OrderNumber: orderNumber,
		Phone:       contact.Phone,
		Email:       contact.Email,
		Name:        contact.FullName,
		Status:      status.String(),
	})
}

func (n *HTTPNotifier) post(ctx context.Context, event notificationEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/notifications", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notification relay returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// Nop drops every notification. Used in tests and relay-less environments.
type Nop struct{}

func (Nop) NotifyOrderConfirmed(context.Context, types.Contact, string, int) error {
	return nil
}

func (Nop) NotifyDeliveryUpdate(context.Context, types.Contact, string, enums.DeliveryStatus) error {
	return nil
}
