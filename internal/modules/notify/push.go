// README: FCM push sink; each passenger subscribes to their own topic.
package notify

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"

	"trigo/internal/types"
)

const pushTopicPrefix = "rider-"

// Messenger is satisfied by *messaging.Client.
type Messenger interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type PushSink struct {
	client Messenger
}

func NewPushSink(client Messenger) *PushSink {
	return &PushSink{client: client}
}

func (s *PushSink) Name() string { return "fcm" }

func (s *PushSink) Emit(ctx context.Context, e Event) error {
	_, err := s.client.Send(ctx, pushMessage(e))
	if err != nil {
		return fmt.Errorf("sending push for ride %s: %w", e.RideID, err)
	}
	return nil
}

// PushTopic is the FCM topic a passenger's devices subscribe to.
func PushTopic(passengerID types.ID) string {
	return pushTopicPrefix + string(passengerID)
}

// FCM data payloads are string-only.
func pushMessage(e Event) *messaging.Message {
	data := map[string]string{
		"type":     string(e.Type),
		"event_id": e.ID,
		"ride_id":  string(e.RideID),
	}
	for k, v := range e.Data {
		data[k] = fmt.Sprint(v)
	}
	return &messaging.Message{
		Topic: PushTopic(e.RecipientID),
		Data:  data,
		Notification: &messaging.Notification{
			Title: e.Title,
			Body:  e.Message,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
}
