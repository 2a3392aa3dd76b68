// Package history is the client for the attempt-history service. Submissions
// are best-effort: the session teardown path logs failures and keeps going.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/models"
	"go.uber.org/zap"
)

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Submit records one attempt for one user.
func (c *Client) Submit(ctx context.Context, record models.AttemptRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt record: %w", err)
	}

	endpoint := c.baseURL + "/api/history/attempts"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build history request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("history service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("history service returned status %d", resp.StatusCode)
	}

	c.logger.Debug("Attempt recorded",
		zap.String("userId", record.UserID),
		zap.String("sessionId", record.SessionID),
		zap.String("status", record.Status))

	return nil
}
