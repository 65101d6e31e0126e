// Package mqttpub publishes the flat legacy status payload to a
// retained MQTT topic on every successful refresh or command, grounded
// on the paho wiring pattern used elsewhere in the corpus and on the
// single-writer async funnel from the teacher's transport package.
package mqttpub

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kstaniek/cz2gate/internal/logging"
	"github.com/kstaniek/cz2gate/internal/metrics"
	"github.com/kstaniek/cz2gate/internal/model"
)

const publishQueueSize = 64

// Options configure a Publisher.
type Options struct {
	Enabled      bool
	Broker       string // e.g. "tcp://localhost:1883"
	ClientID     string
	Username     string
	Password     string
	TopicPrefix  string
	ConnectTimeout time.Duration
}

// Publisher holds a paho client and an async funnel onto it.
type Publisher struct {
	enabled bool
	topic   string
	client  mqtt.Client
	tx      *AsyncTx
	log     *slog.Logger
}

// New constructs a Publisher. When opts.Enabled is false, PublishStatus
// is a no-op and no broker connection is attempted.
func New(ctx context.Context, opts Options) *Publisher {
	p := &Publisher{
		enabled: opts.Enabled,
		topic:   opts.TopicPrefix + "/status",
		log:     logging.ForComponent("mqttpub"),
	}
	if !opts.Enabled {
		return p
	}

	clientOpts := mqtt.NewClientOptions().AddBroker(opts.Broker).SetClientID(opts.ClientID)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	clientOpts.SetConnectTimeout(connectTimeout)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetOnConnectHandler(func(mqtt.Client) { p.log.Info("mqtt_connected", "broker", opts.Broker) })
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) { p.log.Warn("mqtt_connection_lost", "error", err) })

	p.client = mqtt.NewClient(clientOpts)
	if tok := p.client.Connect(); tok.WaitTimeout(connectTimeout) && tok.Error() != nil {
		p.log.Warn("mqtt_connect_error", "error", tok.Error())
	}

	p.tx = NewAsyncTx(ctx, publishQueueSize, p.publish, Hooks{
		OnError: func(err error) {
			metrics.IncMQTTPublishError()
			p.log.Warn("mqtt_publish_error", "error", err)
		},
		OnAfter: func() { metrics.IncMQTTPublish() },
		OnDrop: func() error {
			metrics.IncMQTTDrop()
			p.log.Warn("mqtt_publish_dropped")
			return nil
		},
	})
	return p
}

// publish reconnects lazily if the last attempt left the client
// disconnected, then publishes retained at QoS 1.
func (p *Publisher) publish(payload []byte) error {
	if !p.client.IsConnectionOpen() {
		tok := p.client.Connect()
		tok.Wait()
		if tok.Error() != nil {
			return tok.Error()
		}
	}
	tok := p.client.Publish(p.topic, 1, true, payload)
	tok.Wait()
	return tok.Error()
}

// PublishStatus serializes status to the flat legacy JSON shape and
// enqueues it for publish. A no-op when the publisher is disabled.
func (p *Publisher) PublishStatus(status model.SystemStatus) {
	if !p.enabled {
		return
	}
	payload, err := json.Marshal(status.ToFlat(false, time.Now()))
	if err != nil {
		p.log.Warn("mqtt_marshal_error", "error", err)
		return
	}
	if err := p.tx.Send(payload); err != nil {
		p.log.Warn("mqtt_enqueue_error", "error", err)
	}
}

// Close stops the async funnel and disconnects from the broker.
func (p *Publisher) Close() {
	if !p.enabled {
		return
	}
	p.tx.Close()
	p.client.Disconnect(250)
}
