package messaging

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/messaging/events"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
	"github.com/iot-for-tillgenglighet/messaging-golang/pkg/messaging"
	"github.com/streadway/amqp"
)

//Refresher recomputes and pushes snapshots to connected viewers
type Refresher interface {
	Refresh(ctx context.Context)
}

//TopicPublisher is the part of the messaging context we need for publishing
type TopicPublisher interface {
	PublishOnTopic(message messaging.TopicMessage) error
}

//CreatePinChangedReceiver is a closure that takes a refresher and handles incoming pin events
//from other instances by pushing fresh snapshots to the viewers connected here
func CreatePinChangedReceiver(refresher Refresher) messaging.TopicMessageHandler {
	return func(msg amqp.Delivery) {
		log.Info("Message received from topic: " + string(msg.Body))

		evt := struct {
			ID string `json:"id"`
		}{}

		err := json.Unmarshal(msg.Body, &evt)
		if err != nil || evt.ID == "" {
			log.Error("Failed to unmarshal message")
			return
		}

		refresher.Refresh(context.Background())
	}
}

//Publisher announces pin changes on their topics
type Publisher struct {
	impl TopicPublisher
	now  func() time.Time
}

//NewPublisher wraps a messaging context
func NewPublisher(impl TopicPublisher) *Publisher {
	return &Publisher{impl: impl, now: time.Now}
}

//PinCreated publishes a PinCreated event
func (p *Publisher) PinCreated(pin domain.Pin) error {
	return p.impl.PublishOnTopic(&events.PinCreated{
		ID:        pin.ID,
		AuthorID:  pin.AuthorID,
		Category:  pin.Category,
		Timestamp: p.now().UTC().Format(time.RFC3339),
	})
}

//PinDeleted publishes a PinDeleted event
func (p *Publisher) PinDeleted(id string) error {
	return p.impl.PublishOnTopic(&events.PinDeleted{
		ID:        id,
		Timestamp: p.now().UTC().Format(time.RFC3339),
	})
}
