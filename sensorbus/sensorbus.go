// Package sensorbus subscribes to the home-automation MQTT bus and forwards readings into the Data Manager
// (spec §6 "Sensor bus (read)").
package sensorbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/cepro/energymgr/datamgr"
)

// Bus subscribes to one MQTT topic per monitored entity and forwards retained/live values into a
// datamgr.Manager.
type Bus struct {
	broker   string
	clientID string
	username string
	password string

	topicsByEntity map[string]string // entity name -> MQTT topic

	manager *datamgr.Manager
	logger  *slog.Logger
	client  mqtt.Client
}

// New creates a Bus that will connect to broker (host:port) and map each entity in topicsByEntity to the
// corresponding MQTT topic, forwarding payloads into manager.
func New(broker, clientID, username, password string, topicsByEntity map[string]string, manager *datamgr.Manager) *Bus {
	return &Bus{
		broker:         broker,
		clientID:       clientID,
		username:       username,
		password:       password,
		topicsByEntity: topicsByEntity,
		manager:        manager,
		logger:         slog.Default(),
	}
}

// Run connects to the broker and subscribes to every configured topic, forwarding payloads until ctx is
// cancelled.
func (b *Bus) Run(ctx context.Context) error {
	entityByTopic := make(map[string]string, len(b.topicsByEntity))
	for entity, topic := range b.topicsByEntity {
		entityByTopic[topic] = entity
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", b.broker))
	opts.SetClientID(b.clientID)
	opts.SetUsername(b.username)
	opts.SetPassword(b.password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		b.logger.Error("Sensor bus connection lost", "error", err)
	})

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		b.logger.Info("Sensor bus connected", "broker", b.broker)
		for topic, entity := range entityByTopic {
			entity := entity
			token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
				b.manager.Update(entity, string(msg.Payload()))
			})
			if token.Wait() && token.Error() != nil {
				b.logger.Error("Failed to subscribe", "topic", topic, "error", token.Error())
			}
		}
	})

	b.client = mqtt.NewClient(opts)

	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to sensor bus: %w", token.Error())
	}

	<-ctx.Done()

	if b.client.IsConnected() {
		b.client.Disconnect(250)
		b.logger.Info("Sensor bus disconnected")
	}
	return nil
}

// Publish writes a retained value for entity back onto the bus.
func (b *Bus) Publish(entity string, payload string) {
	topic, ok := b.topicsByEntity[entity]
	if !ok || b.client == nil {
		return
	}
	token := b.client.Publish(topic, 0, true, payload)
	token.Wait()
	if token.Error() != nil {
		b.logger.Error("Failed to publish", "topic", topic, "error", token.Error())
	}
}
