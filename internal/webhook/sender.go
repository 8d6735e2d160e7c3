package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	parleyErrors "github.com/parleyhq/parley/internal/errors"
)

// Sender POSTs canonical event payloads to webhook endpoints. Success is any
// 2xx; every other outcome is a delivery failure.
type Sender struct {
	client *http.Client
}

func NewSender(timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sender{
		client: &http.Client{Timeout: timeout},
	}
}

// Send returns the HTTP status code when a response was received (0 on
// transport errors) alongside the delivery verdict.
func (s *Sender) Send(ctx context.Context, url string, payload Payload) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, parleyErrors.Wrap(err, "marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, parleyErrors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "parley-webhook/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, parleyErrors.WrapWithCategory(err, "webhook post", parleyErrors.ErrDelivery)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, parleyErrors.Delivery(fmt.Sprintf("endpoint returned %d", resp.StatusCode))
	}

	return resp.StatusCode, nil
}
