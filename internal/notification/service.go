package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	syncdomain "mailsync-backend/internal/sync/domain"
	"mailsync-backend/internal/sync/dto"
	"mailsync-backend/internal/sync/usecase"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// Service pulls mailbox notifications from a Pub/Sub subscription and feeds
// them into the sync pipeline. It is the pull-mode counterpart of the push
// webhook; deployments enable one or the other against the same topic.
type Service struct {
	pubsubClient *pubsub.Client
	syncUsecase  usecase.SyncUsecase
	projectID    string
	topicName    string
	subName      string
}

func NewService(projectID, topicName string, syncUsecase usecase.SyncUsecase, credentialsFile string) (*Service, error) {
	ctx := context.Background()

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %v", err)
	}

	return &Service{
		pubsubClient: client,
		syncUsecase:  syncUsecase,
		projectID:    projectID,
		topicName:    topicName,
		subName:      topicName + "-sub", // Convention: topic-sub
	}, nil
}

func (s *Service) Start(ctx context.Context) {
	log.Printf("[PubSub] Starting notification service with topic: %s, subscription: %s", s.topicName, s.subName)

	// Ensure subscription exists
	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		log.Printf("[PubSub] Error checking subscription existence: %v", err)
		return
	}

	if !exists {
		topic := s.pubsubClient.Topic(s.topicName)
		topicExists, err := topic.Exists(ctx)
		if err != nil {
			log.Printf("[PubSub] Error checking topic existence: %v", err)
			return
		}
		if !topicExists {
			log.Printf("[PubSub] Topic %s does not exist, cannot create subscription", s.topicName)
			return
		}

		sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: 10 * time.Second,
		})
		if err != nil {
			log.Printf("[PubSub] Failed to create subscription: %v", err)
			return
		}
		log.Printf("[PubSub] Created subscription: %s", s.subName)
	}

	log.Printf("[PubSub] Listening for messages on subscription: %s", s.subName)
	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if s.process(ctx, msg.Data) {
			msg.Ack()
		} else {
			msg.Nack()
		}
	})
	if err != nil {
		log.Printf("[PubSub] Error receiving messages: %v", err)
	}
}

// process handles one notification payload and returns the ack decision:
// true acknowledges the message, false leaves it for redelivery.
func (s *Service) process(ctx context.Context, data []byte) bool {
	var notification dto.MailboxNotification
	if err := json.Unmarshal(data, &notification); err != nil {
		// A payload that cannot parse never succeeds later; acknowledge it.
		log.Printf("[PubSub] Dropping malformed notification: %v", err)
		return true
	}
	if notification.EmailAddress == "" {
		log.Printf("[PubSub] Dropping notification without an email address")
		return true
	}

	err := s.syncUsecase.ProcessNotification(ctx, notification.EmailAddress, notification.HistoryIDValue())
	if err == nil {
		return true
	}
	if errors.Is(err, syncdomain.ErrCredential) {
		// Permanent failure; redelivery cannot help.
		log.Printf("[PubSub] Dropping notification for %s: %v", notification.EmailAddress, err)
		return true
	}
	log.Printf("[PubSub] Processing failed for %s, leaving for redelivery: %v", notification.EmailAddress, err)
	return false
}
