// FilePath: internal/subscriber/subscriber.go
package subscriber

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/farmflow/sensorhub/internal/config"
	apierrors "github.com/farmflow/sensorhub/internal/errors"
	"github.com/farmflow/sensorhub/internal/models"
	"github.com/farmflow/sensorhub/internal/monitoring"
	"github.com/farmflow/sensorhub/internal/topics"
	nuts "github.com/vaudience/go-nuts"
)

// Lifecycle events emitted by the subscriber.
const (
	EventConnected     = "mqtt.connected"
	EventDisconnected  = "mqtt.disconnected"
	EventRecordStored  = "record.ingested"
	EventRecordDropped = "record.dropped"
)

var (
	ErrClosed         = errors.New("subscriber closed")
	ErrConnectTimeout = errors.New("mqtt connect timed out")
)

// State of the broker connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

// Ingester stores a parsed record under a measurement.
type Ingester interface {
	InsertRecord(ctx context.Context, measurement string, rec models.Record) error
}

// ClientFactory builds a paho client; replaced in tests.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithClientFactory replaces mqtt.NewClient.
func WithClientFactory(f ClientFactory) Option {
	return func(s *Subscriber) { s.newClient = f }
}

// Subscriber owns the single broker connection of the process. Every
// registry topic is subscribed on connect and each message is stored by
// its own goroutine, so writes are neither serialized nor ordered.
type Subscriber struct {
	cfg       config.MQTTConfig
	registry  *topics.Registry
	ingest    Ingester
	monitor   *monitoring.Service
	events    *nuts.EventEmitter
	newClient ClientFactory

	mu     sync.Mutex
	client mqtt.Client
	state  State
	closed bool
	lost   chan struct{}

	handlers sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a disconnected subscriber.
func New(cfg config.MQTTConfig, registry *topics.Registry, ingest Ingester, monitor *monitoring.Service, opts ...Option) *Subscriber {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscriber{
		cfg:       cfg,
		registry:  registry,
		ingest:    ingest,
		monitor:   monitor,
		events:    nuts.NewEventEmitter(),
		newClient: mqtt.NewClient,
		lost:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnEvent registers a callback for one of the lifecycle events. The
// callback receives the event arguments in emit order.
func (s *Subscriber) OnEvent(event, id string, handler func(args []interface{})) {
	s.events.On(event, id, handler)
}

func (s *Subscriber) emit(event string, args ...interface{}) {
	if err := s.events.Emit(event, args); err != nil {
		nuts.L.Warnf("[Subscriber] Event %s not delivered: %v", event, err)
	}
}

// State reports the connection state.
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Init connects to the broker unless a client is already active or
// connecting, in which case it does nothing.
func (s *Subscriber) Init() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.client != nil {
		s.mu.Unlock()
		nuts.L.Debugf("[Subscriber] MQTT client already initialized")
		return nil
	}
	client := s.newClient(s.clientOptions())
	s.client = client
	s.state = StateConnecting
	s.mu.Unlock()

	nuts.L.Infof("[Subscriber] Connecting to %s (topics=%v, username=%s)", BrokerURL(s.cfg), s.registry.Topics(), mask(s.cfg.Username))

	token := client.Connect()
	var err error
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		err = fmt.Errorf("%w after %s", ErrConnectTimeout, s.cfg.ConnectTimeout)
		client.Disconnect(0)
	} else {
		err = token.Error()
	}
	if err != nil {
		s.mu.Lock()
		if s.client == client {
			s.client = nil
			s.state = StateDisconnected
		}
		s.mu.Unlock()
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Run keeps the connection alive until ctx is done. After a failed attempt
// or a lost connection it waits the fixed reconnect interval and calls Init
// again.
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		err := s.Init()
		switch {
		case errors.Is(err, ErrClosed):
			return nil
		case err != nil:
			nuts.L.Warnf("[Subscriber] %v, retrying in %s", err, s.cfg.ReconnectInterval)
		default:
			select {
			case <-ctx.Done():
				return nil
			case <-s.lost:
			}
		}

		timer := time.NewTimer(s.cfg.ReconnectInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			nuts.L.Infof("[Subscriber] Attempting to reconnect to MQTT broker")
		}
	}
}

// Close disconnects and waits for in-flight messages to be stored.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	client := s.client
	s.client = nil
	s.state = StateClosed
	s.mu.Unlock()

	if client != nil {
		client.Disconnect(250)
	}
	s.handlers.Wait()
	s.cancel()
	s.monitor.SetConnected(false)
	nuts.L.Infof("[Subscriber] Closed")
	return nil
}

func (s *Subscriber) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(s.cfg))
	clientID := s.cfg.ClientID
	if clientID == "" {
		clientID = nuts.NID("sensorhub", 8)
	}
	opts.SetClientID(clientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetKeepAlive(s.cfg.KeepAlive)
	opts.SetConnectTimeout(s.cfg.ConnectTimeout)
	opts.SetCleanSession(true)
	// reconnects are driven by Run
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	if isTLS(s.cfg.Protocol) {
		opts.SetTLSConfig(&tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: s.cfg.InsecureSkipVerify,
		})
	}
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)
	return opts
}

func (s *Subscriber) onConnect(client mqtt.Client) {
	s.mu.Lock()
	if s.client != client {
		s.mu.Unlock()
		return
	}
	s.state = StateConnected
	s.mu.Unlock()

	nuts.L.Infof("[Subscriber] Connected to MQTT broker %s", BrokerURL(s.cfg))
	s.monitor.SetConnected(true)
	s.monitor.RecordEvent(EventConnected, map[string]string{"broker": s.cfg.Broker})
	s.emit(EventConnected, BrokerURL(s.cfg))

	for _, topic := range s.registry.Topics() {
		token := client.Subscribe(topic, s.cfg.QoS, s.onMessage)
		if !token.WaitTimeout(s.cfg.SubscribeTimeout) {
			nuts.L.Errorf("[Subscriber] Subscribe to topic %s timed out", topic)
			continue
		}
		if err := token.Error(); err != nil {
			nuts.L.Errorf("[Subscriber] Failed to subscribe to topic %s: %v", topic, err)
			continue
		}
		nuts.L.Infof("[Subscriber] Subscribed to topic: %s (qos=%d)", topic, s.cfg.QoS)
	}
}

func (s *Subscriber) onConnectionLost(client mqtt.Client, err error) {
	s.mu.Lock()
	if s.client != client {
		s.mu.Unlock()
		return
	}
	s.client = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	nuts.L.Warnf("[Subscriber] Disconnected from MQTT broker: %v", err)
	s.monitor.SetConnected(false)
	s.monitor.RecordEvent(EventDisconnected, map[string]string{"broker": s.cfg.Broker})
	s.emit(EventDisconnected, err)

	select {
	case s.lost <- struct{}{}:
	default:
	}
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	payload := append([]byte(nil), msg.Payload()...)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		nuts.L.Debugf("[Subscriber] Dropping message on %s after close", topic)
		return
	}
	s.handlers.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.handlers.Done()
		defer func() {
			if r := recover(); r != nil {
				nuts.L.Errorf("[Subscriber] Panic while processing message for topic %s: %v", topic, r)
				s.monitor.IngestMessage(topic, monitoring.ResultError)
			}
		}()
		s.handle(topic, payload)
	}()
}

func (s *Subscriber) handle(topic string, payload []byte) {
	cfg, rec, err := s.registry.Parse(topic, payload)
	switch {
	case errors.Is(err, topics.ErrUnknownTopic):
		nuts.L.Warnf("[Subscriber] No configuration found for topic: %s", topic)
		s.drop(topic, monitoring.ResultUnknownTopic)
		return
	case err != nil:
		nuts.L.Errorf("[Subscriber] Failed to parse message for topic %s: %v. Raw message: %s", topic, err, payload)
		s.drop(topic, monitoring.ResultParseError)
		return
	}

	if err := s.ingest.InsertRecord(s.ctx, cfg.Measurement, rec); err != nil {
		if apierrors.IsValidation(err) {
			nuts.L.Warnf("[Subscriber] Rejected message for topic %s: %v", topic, err)
			s.drop(topic, monitoring.ResultParseError)
			return
		}
		nuts.L.Errorf("[Subscriber] Error processing message for topic %s: %v", topic, err)
		s.drop(topic, monitoring.ResultWriteError)
		return
	}
	nuts.L.Debugf("[Subscriber] Data inserted for topic %s into measurement %s", topic, cfg.Measurement)
	s.monitor.IngestMessage(topic, monitoring.ResultSuccess)
	s.emit(EventRecordStored, topic, cfg.Measurement)
}

func (s *Subscriber) drop(topic, reason string) {
	s.monitor.IngestMessage(topic, reason)
	s.emit(EventRecordDropped, topic, reason)
}

// BrokerURL renders <protocol>://<host>:<port>. The broker may be a bare
// host or a URL; a port in the broker value wins over the port setting.
func BrokerURL(cfg config.MQTTConfig) string {
	protocol := cfg.Protocol
	if protocol == "" {
		protocol = "mqtts"
	}
	host := cfg.Broker
	if strings.Contains(host, "://") {
		if u, err := url.Parse(host); err == nil {
			if cfg.Protocol == "" {
				protocol = u.Scheme
			}
			host = u.Host
		}
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, strconv.Itoa(cfg.Port))
	}
	return protocol + "://" + host
}

func isTLS(protocol string) bool {
	switch strings.ToLower(protocol) {
	case "mqtts", "ssl", "tls", "tcps", "wss":
		return true
	}
	return false
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}
