package notifications

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://ntfy.sh"

// Client pushes notifications to an ntfy topic.
type Client struct {
	http  *resty.Client
	topic string
}

// New returns nil when topic is empty, which disables notifications.
func New(topic string) *Client {
	return NewWithBaseURL(topic, defaultBaseURL)
}

func NewWithBaseURL(topic, baseURL string) *Client {
	if topic == "" {
		log.Warn().Msg("Ntfy topic not configured - notifications disabled")
		return nil
	}

	c := &Client{
		http:  resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second),
		topic: topic,
	}
	log.Info().Str("topic", topic).Msg("Ntfy notifications initialized")
	return c
}

// Notify sends one notification. A nil client is a no-op.
func (c *Client) Notify(title, message string) error {
	if c == nil {
		return nil
	}

	payload := map[string]interface{}{
		"topic":    c.topic,
		"title":    title,
		"message":  message,
		"priority": 4,
		"tags":     []string{"seedling", "warning"},
	}

	resp, err := c.http.R().
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post("/")
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("ntfy returned non-success status: %d", resp.StatusCode())
	}

	log.Debug().
		Str("title", title).
		Int("status", resp.StatusCode()).
		Msg("Notification sent successfully")

	return nil
}
