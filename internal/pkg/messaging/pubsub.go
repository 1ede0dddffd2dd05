package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// PubSubClient carries room events over GCP Pub/Sub topics, one topic per
// event type. The transport has no room membership of its own; scoping is by
// the roomId carried in every envelope.
type PubSubClient struct {
	ctx        context.Context
	client     *pubsub.Client
	subscriber string
}

func NewPubSubClient(ctx context.Context) (*PubSubClient, error) {
	projectID, _ := viper.Get("GOOGLE_PROJECT_ID").(string)
	if projectID == "" {
		return nil, errors.New("messaging missing projectID to initialize")
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, errors.Wrap(err, "initializing messaging connection")
	}
	log.Info().Msg("Successful messaging transport init")

	subscriber, _ := viper.Get("MESSAGING_SUBSCRIBER_ID").(string)
	if subscriber == "" {
		subscriber = "default"
	}

	return &PubSubClient{ctx: ctx, client: client, subscriber: subscriber}, nil
}

func (c *PubSubClient) Close() {
	c.client.Close()
}

func (c *PubSubClient) CreateRoom(ctx context.Context, invitees []string) (string, error) {
	roomId := uuid.New().String()
	log.Info().Msg(fmt.Sprintf("Created coordination room %s for %d invitees", roomId, len(invitees)))
	return roomId, nil
}

func (c *PubSubClient) JoinRoom(ctx context.Context, roomId string) error {
	// membership is implicit on this transport; joining only marks intent
	log.Debug().Msg(fmt.Sprintf("Joining coordination room %s", roomId))
	return nil
}

func (c *PubSubClient) Send(ctx context.Context, roomId string, eventType string, senderKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encoding room event payload")
	}

	envelope := Envelope{
		RoomId:    roomId,
		EventType: eventType,
		SenderKey: senderKey,
		Payload:   body,
	}

	t := c.getTopic(eventType)
	defer t.Stop()

	data, err := json.Marshal(envelope)
	if err != nil {
		return errors.Wrap(err, "encoding room event envelope")
	}

	result := t.Publish(ctx, &pubsub.Message{Data: data})
	go func(res *pubsub.PublishResult) {
		if _, err := res.Get(c.ctx); err != nil {
			log.Warn().Msg(fmt.Sprintf("Failed to publish room event for %s", eventType))
		}
	}(result)

	return nil
}

func (c *PubSubClient) Subscribe(eventType string, handler Handler) {
	subscriptionId := fmt.Sprintf("%s.%s-sub", eventType, c.subscriber)
	sub := c.client.Subscription(subscriptionId)

	go func() {
		err := sub.Receive(c.ctx, func(ctx context.Context, message *pubsub.Message) {
			var envelope Envelope
			if err := json.Unmarshal(message.Data, &envelope); err != nil {
				log.Warn().Err(err).Msg("Error while parsing room event envelope")
				message.Ack()
				return
			}
			handler(ctx, envelope)
			message.Ack()
		})
		if err != nil {
			log.Error().Err(err).Msg(fmt.Sprintf("Subscriber error for sub id %s", subscriptionId))
		}
	}()
}

func (c *PubSubClient) getTopic(topicName string) *pubsub.Topic {
	t := c.client.Topic(topicName)
	ok, err := t.Exists(c.ctx)
	if err != nil {
		log.Error().Err(err).Msg(fmt.Sprintf("Cant check topic %s", topicName))
		return t
	}
	if !ok {
		log.Info().Msg(fmt.Sprintf("Topic %s does not exist. Creating new", topicName))
		nt, err := c.client.CreateTopic(c.ctx, topicName)
		if err != nil {
			log.Error().Err(err).Msg(fmt.Sprintf("Cant create topic %s", topicName))
			return t
		}
		return nt
	}
	return t
}
