package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"mailsync-backend/pkg/fcm"
)

// TokenStore resolves a user's registered device tokens and prunes dead
// ones. internal/devices provides the gorm-backed implementation.
type TokenStore interface {
	TokensByUser(userID string) ([]string, error)
	RemoveToken(token string) error
}

type devicePusher interface {
	SendToDevices(ctx context.Context, tokens []string, msg fcm.Message) ([]string, error)
}

// FCMSink pushes selected events to the user's devices. Stream channels
// carry every event; waking a phone for each count tick would be noise, so
// this sink forwards only the types worth a device notification.
type FCMSink struct {
	client  devicePusher
	tokens  TokenStore
	forward map[string]bool
	timeout time.Duration
}

func NewFCMSink(client *fcm.Client, tokens TokenStore) *FCMSink {
	return &FCMSink{
		client: client,
		tokens: tokens,
		forward: map[string]bool{
			EventEmailUpdated: true,
		},
		timeout: 10 * time.Second,
	}
}

func (s *FCMSink) Name() string {
	return "fcm"
}

func (s *FCMSink) Deliver(userID, eventType string, payload map[string]interface{}) error {
	if !s.forward[eventType] {
		return nil
	}

	tokens, err := s.tokens.TokensByUser(userID)
	if err != nil {
		return fmt.Errorf("resolve device tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	frame, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	title := "New email"
	if from, ok := payload["from"].(string); ok && from != "" {
		title = fmt.Sprintf("Email from %s", from)
	}
	body, _ := payload["subject"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	failed, err := s.client.SendToDevices(ctx, tokens, fcm.Message{
		Title: title,
		Body:  body,
		Data: map[string]string{
			"type":    eventType,
			"payload": string(frame),
		},
	})
	if err != nil {
		return err
	}

	for _, token := range failed {
		if err := s.tokens.RemoveToken(token); err != nil {
			log.Printf("[FCM] failed to prune dead token: %v", err)
		}
	}
	return nil
}
