package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const defaultRequestTimeout = 5 * time.Second

// HTTPNotifier delivers transactional email by posting JSON jobs to the
// notification service. Delivery is fire-and-forget from the product's point
// of view; the HTTP status only tells the caller whether the job was
// accepted.
type HTTPNotifier struct {
	baseURL string
	client  *http.Client
}

func NewHTTPNotifier(baseURL string, timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPNotifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type notificationRequest struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data,omitempty"`
}

// Send posts a single notification job. Each job carries a fresh UUID so the
// notification service can deduplicate retries.
func (n *HTTPNotifier) Send(ctx context.Context, email, template string, data map[string]any) error {
	payload, err := json.Marshal(notificationRequest{
		ID:       uuid.NewString(),
		Email:    email,
		Template: template,
		Data:     data,
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/notifications", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send notification: unexpected status %d", resp.StatusCode)
	}
	return nil
}
