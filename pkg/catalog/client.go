// Package catalog is the client for the question service. The matcher asks it
// for one random question per (topic, difficulty) pair; it never blocks the
// match path for longer than the configured per-call timeout.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/models"
	"go.uber.org/zap"
)

var ErrNoQuestion = errors.New("no question for topic")

// DefaultQuestion is the fallback when the question service has nothing for
// any of the requested topics, or is unreachable.
var DefaultQuestion = models.Question{
	ID:         "two-sum",
	Title:      "Two Sum",
	Category:   "Arrays",
	Difficulty: models.DifficultyEasy,
	StarterCode: map[string]string{
		"javascript": "function twoSum(nums, target) {\n  // your solution here\n}\n",
		"python":     "def two_sum(nums, target):\n    # your solution here\n    pass\n",
	},
}

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

// RandomQuestion fetches one random question for a topic and difficulty.
func (c *Client) RandomQuestion(ctx context.Context, topic string, difficulty models.Difficulty) (*models.Question, error) {
	endpoint := fmt.Sprintf("%s/api/questions/random?topic=%s&difficulty=%s",
		c.baseURL, url.QueryEscape(topic), url.QueryEscape(string(difficulty)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build question request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("question service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoQuestion
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("question service returned status %d", resp.StatusCode)
	}

	var q models.Question
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return nil, fmt.Errorf("failed to decode question: %w", err)
	}

	return &q, nil
}

// FindQuestion tries each topic in order and falls back to DefaultQuestion
// when nothing matches. It never returns nil.
func (c *Client) FindQuestion(ctx context.Context, topics []string, difficulty models.Difficulty) *models.Question {
	for _, topic := range topics {
		q, err := c.RandomQuestion(ctx, topic, difficulty)
		if err == nil {
			return q
		}

		if !errors.Is(err, ErrNoQuestion) {
			c.logger.Warn("Question service unavailable",
				zap.String("topic", topic),
				zap.Error(err))
		}
	}

	c.logger.Info("No question for any requested topic, using default",
		zap.Strings("topics", topics),
		zap.String("difficulty", string(difficulty)))

	fallback := DefaultQuestion
	return &fallback
}
