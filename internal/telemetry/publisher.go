// Package telemetry publishes meter readings and recorded samples to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/oszuidwest/zwfm-dbmeter/internal/meter"
	"github.com/oszuidwest/zwfm-dbmeter/internal/recording"
	"github.com/oszuidwest/zwfm-dbmeter/internal/util"
)

// Topic suffixes below the configured base topic.
const (
	TopicLevel  = "level"
	TopicSample = "sample"
	TopicReset  = "reset"
)

const (
	queueSize      = 64
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	disconnectMs   = 250
)

var errConnectTimeout = errors.New("timed out connecting to MQTT broker")

// Config holds MQTT connection and publishing settings.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	// Interval throttles level messages. Zero publishes every reading.
	Interval time.Duration
}

// mqttClient is the subset of the paho client used by Publisher.
type mqttClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

type message struct {
	topic   string
	qos     byte
	payload []byte
}

// LevelMessage is the payload published on the level topic.
type LevelMessage struct {
	DB   float64   `json:"db"`
	Peak float64   `json:"peak"`
	Time time.Time `json:"time"`
}

// SampleMessage is the payload published for each recorded sample.
type SampleMessage struct {
	TimeStep int       `json:"time_step"`
	DB       float64   `json:"db"`
	Count    int       `json:"count"`
	Time     time.Time `json:"time"`
}

// Publisher is a meter sink that forwards output to MQTT. Sink calls only
// enqueue; Run performs the network writes.
type Publisher struct {
	cfg    Config
	client mqttClient
	queue  chan message
	now    func() time.Time

	mu          sync.Mutex
	lastReading time.Time
	lastLen     int

	dropped atomic.Uint64
}

// New creates a publisher for cfg. Call Connect and Run before use.
func New(cfg Config) *Publisher {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		slog.Info("mqtt connection established", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
	})

	return newPublisher(cfg, mqtt.NewClient(opts))
}

func newPublisher(cfg Config, client mqttClient) *Publisher {
	return &Publisher{
		cfg:    cfg,
		client: client,
		queue:  make(chan message, queueSize),
		now:    time.Now,
	}
}

// Connect dials the broker, retrying with exponential backoff until it
// succeeds or ctx is done.
func (p *Publisher) Connect(ctx context.Context) error {
	backoff := util.NewBackoff(time.Second, 30*time.Second)
	for {
		err := p.connectOnce()
		if err == nil {
			return nil
		}

		delay := backoff.Next()
		slog.Warn("mqtt connect failed", "broker", p.cfg.Broker, "error", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (p *Publisher) connectOnce() error {
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return errConnectTimeout
	}
	return util.WrapError("connect to MQTT broker", token.Error())
}

// Run publishes queued messages until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-p.queue:
			p.publish(msg)
		}
	}
}

func (p *Publisher) publish(msg message) {
	if !p.client.IsConnected() {
		p.dropped.Add(1)
		return
	}
	token := p.client.Publish(msg.topic, msg.qos, false, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		slog.Warn("mqtt publish timed out", "topic", msg.topic)
		return
	}
	if err := token.Error(); err != nil {
		slog.Warn("mqtt publish failed", "topic", msg.topic, "error", err)
	}
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(disconnectMs)
	}
}

// Connected reports whether the broker connection is up.
func (p *Publisher) Connected() bool {
	return p.client.IsConnected()
}

// Dropped returns the number of messages discarded while the queue was full
// or the broker was unreachable.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// OnReading implements meter.Sink.
func (p *Publisher) OnReading(r meter.Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.Interval > 0 && !p.lastReading.IsZero() && r.Time.Sub(p.lastReading) < p.cfg.Interval {
		return
	}
	p.lastReading = r.Time
	p.enqueue(TopicLevel, 0, LevelMessage{DB: r.DB, Peak: r.Peak, Time: r.Time})
}

// OnSeries implements meter.Sink. Each new sample is published once; a
// shrinking series is published as a reset.
func (p *Publisher) OnSeries(series recording.Series) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case len(series) < p.lastLen:
		p.enqueue(TopicReset, 1, map[string]time.Time{"time": p.now()})
	case len(series) > p.lastLen:
		for _, s := range series[p.lastLen:] {
			p.enqueue(TopicSample, 1, SampleMessage{
				TimeStep: s.TimeStep,
				DB:       s.Decibels,
				Count:    len(series),
				Time:     p.now(),
			})
		}
	}
	p.lastLen = len(series)
}

func (p *Publisher) enqueue(suffix string, qos byte, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Warn("failed to encode telemetry message", "topic", suffix, "error", err)
		return
	}
	select {
	case p.queue <- message{topic: p.cfg.Topic + "/" + suffix, qos: qos, payload: payload}:
	default:
		p.dropped.Add(1)
	}
}
