// Package pubsub publishes run-completion notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
)

// EventTypeAttribute is the message attribute naming the payload kind.
const EventTypeAttribute = "event_type"

// Publisher publishes JSON payloads, keeping one topic handle per topic id.
type Publisher struct {
	client    *pubsub.Client
	eventType string

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	closed bool
}

// New wraps an existing client. The caller keeps ownership of client.
func New(client *pubsub.Client, eventType string) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	return &Publisher{
		client:    client,
		eventType: eventType,
		topics:    make(map[string]*pubsub.Topic),
	}, nil
}

// Publish marshals payload to JSON and blocks until the server acknowledges it.
func (p *Publisher) Publish(ctx context.Context, topicID string, payload any) (string, error) {
	if strings.TrimSpace(topicID) == "" {
		return "", errors.New("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	topic, err := p.topic(topicID)
	if err != nil {
		return "", err
	}

	msg := &pubsub.Message{Data: data}
	if p.eventType != "" {
		msg.Attributes = map[string]string{EventTypeAttribute: p.eventType}
	}
	id, err := topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message to %s: %w", topicID, err)
	}
	return id, nil
}

func (p *Publisher) topic(id string) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("publisher is closed")
	}
	if t, ok := p.topics[id]; ok {
		return t, nil
	}
	t := p.client.Topic(id)
	p.topics[id] = t
	return t, nil
}

// Close flushes and stops every topic handle.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, t := range p.topics {
		t.Stop()
	}
}
