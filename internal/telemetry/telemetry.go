package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is one analytics record sent to the collector.
type Event struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
	Service    string         `json:"service,omitempty"`
	Success    bool           `json:"success"`
	At         time.Time      `json:"at"`
}

// Client sends events to a collector endpoint. SendEvent is fire-and-forget:
// it never blocks and never returns an error to the caller. A nil Client or
// an empty collector URL disables sending entirely.
type Client struct {
	url  string
	http *http.Client
	ch   chan Event
}

func New(collectorURL string) *Client {
	collectorURL = strings.TrimSpace(collectorURL)
	if collectorURL == "" {
		return nil
	}
	return &Client{
		url:  collectorURL,
		http: &http.Client{Timeout: 5 * time.Second},
		ch:   make(chan Event, 256),
	}
}

// Run drains the event queue until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	if c == nil {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-c.ch:
			c.post(ctx, evt)
		}
	}
}

// SendEvent enqueues an event, dropping it if the queue is saturated.
func (c *Client) SendEvent(name string, properties map[string]any, service string, success bool) {
	if c == nil {
		return
	}
	evt := Event{
		ID:         uuid.NewString(),
		Name:       name,
		Properties: properties,
		Service:    service,
		Success:    success,
		At:         time.Now().UTC(),
	}
	select {
	case c.ch <- evt:
	default:
	}
}

func (c *Client) post(ctx context.Context, evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		log.Printf("telemetry: send %s failed: %v", evt.Name, err)
		return
	}
	_ = res.Body.Close()
}
