package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttConnectTimeout = 10 * time.Second

// MQTTOptions configures the MQTT subscriber.
type MQTTOptions struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
}

// DeviceFromTopic returns the topic segment matched by the first '+'
// wildcard of filter, or "" when filter has none or topic does not match.
func DeviceFromTopic(filter, topic string) string {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if i >= len(ts) {
			return ""
		}
		switch f {
		case "+":
			return ts[i]
		case "#":
			return ""
		}
		if f != ts[i] {
			return ""
		}
	}
	return ""
}

// MessageHandler returns a paho handler that stores every message received
// on a topic matching filter.
func (s *Sink) MessageHandler(ctx context.Context, filter string) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		if err := s.Handle(ctx, msg.Payload(), DeviceFromTopic(filter, msg.Topic())); err != nil {
			slog.Warn("ingest: mqtt message rejected", "topic", msg.Topic(), "err", err)
		}
	}
}

// RunMQTT connects to the broker, subscribes to opts.Topic (again after
// every reconnect) and feeds messages to sink until ctx is cancelled.
func RunMQTT(ctx context.Context, opts MQTTOptions, sink *Sink) error {
	handler := sink.MessageHandler(ctx, opts.Topic)

	o := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetOrderMatters(false)
	o.SetOnConnectHandler(func(c mqtt.Client) {
		tok := c.Subscribe(opts.Topic, opts.QoS, handler)
		if tok.WaitTimeout(mqttConnectTimeout) && tok.Error() != nil {
			slog.Error("ingest: mqtt subscribe failed", "topic", opts.Topic, "err", tok.Error())
			return
		}
		slog.Info("ingest: mqtt subscribed", "broker", opts.Broker, "topic", opts.Topic, "qos", opts.QoS)
	})
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("ingest: mqtt connection lost", "broker", opts.Broker, "err", err)
	})

	client := mqtt.NewClient(o)
	tok := client.Connect()
	if !tok.WaitTimeout(mqttConnectTimeout) {
		return fmt.Errorf("ingest: mqtt connect %q: timed out", opts.Broker)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("ingest: mqtt connect %q: %w", opts.Broker, err)
	}

	<-ctx.Done()
	client.Disconnect(250)
	slog.Info("ingest: mqtt disconnected", "broker", opts.Broker)
	return nil
}
