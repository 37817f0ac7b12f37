package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

const (
	defaultMQTTPort = 8883
	mqttUsername    = "bblp"

	connectTimeout  = 10 * time.Second
	publishTimeout  = 5 * time.Second
	inboundCapacity = 256
)

// MQTTTransport speaks the printer's LAN control channel: MQTT over TLS on
// port 8883, username bblp, password = device access code, telemetry pushed
// on device/<serial>/report, commands published to device/<serial>/request.
type MQTTTransport struct {
	host       string
	port       int
	serial     string
	accessCode string
	logger     *slog.Logger

	mu     sync.Mutex
	client mqtt.Client

	// Inbound reports are buffered so a slow reader never blocks the paho
	// callback; overflow drops the oldest frame.
	inbound  chan []byte
	lost     chan error
	dropped  atomic.Uint64
	clientID string
}

func NewMQTTTransport(logger *slog.Logger, host string, port int, serial, accessCode string) *MQTTTransport {
	if port <= 0 {
		port = defaultMQTTPort
	}
	return &MQTTTransport{
		host:       host,
		port:       port,
		serial:     serial,
		accessCode: accessCode,
		logger:     logger,
		clientID:   "bambulink-" + serial,
	}
}

func (t *MQTTTransport) Name() string {
	return "mqtt"
}

func (t *MQTTTransport) StatusTarget() string {
	return net.JoinHostPort(t.host, fmt.Sprintf("%d", t.port))
}

// Dropped reports how many inbound frames were discarded because the reader
// fell behind.
func (t *MQTTTransport) Dropped() uint64 {
	return t.dropped.Load()
}

func (t *MQTTTransport) reportTopic() string {
	return "device/" + t.serial + "/report"
}

func (t *MQTTTransport) requestTopic() string {
	return "device/" + t.serial + "/request"
}

func (t *MQTTTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil && t.client.IsConnected() {
		t.logger.Debug("connect skipped: already connected")
		return nil
	}
	if t.host == "" {
		return errors.New("printer host is empty")
	}
	if t.serial == "" {
		return errors.New("printer serial is empty")
	}

	t.inbound = make(chan []byte, inboundCapacity)
	t.lost = make(chan error, 1)

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tls://%s", net.JoinHostPort(t.host, fmt.Sprintf("%d", t.port)))).
		SetClientID(t.clientID).
		SetUsername(mqttUsername).
		SetPassword(t.accessCode).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(false).
		SetKeepAlive(30 * time.Second).
		SetCleanSession(true).
		// The printer presents a self-signed certificate.
		SetTLSConfig(&tls.Config{InsecureSkipVerify: true}) // #nosec G402

	lost := t.lost
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		select {
		case lost <- err:
		default:
		}
	})

	client := mqtt.NewClient(opts)
	t.logger.Info("connecting", "target", t.StatusTarget(), "serial", t.serial)
	if err := t.waitToken(ctx, client.Connect()); err != nil {
		client.Disconnect(0)
		if isAuthRefused(err) {
			t.logger.Warn("connect refused: bad access code")
			return fmt.Errorf("connect mqtt: %w", ErrAuthRejected)
		}
		t.logger.Warn("connect failed", "error", err)
		return fmt.Errorf("connect mqtt: %w", err)
	}

	inbound := t.inbound
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		payload := append([]byte(nil), msg.Payload()...)
		for {
			select {
			case inbound <- payload:
				return
			default:
			}
			select {
			case <-inbound:
				t.dropped.Add(1)
			default:
			}
		}
	}
	if err := t.waitToken(ctx, client.Subscribe(t.reportTopic(), 0, handler)); err != nil {
		client.Disconnect(0)
		t.logger.Warn("subscribe failed", "topic", t.reportTopic(), "error", err)
		return fmt.Errorf("subscribe %s: %w", t.reportTopic(), err)
	}

	t.client = client
	t.logger.Info("connected", "report_topic", t.reportTopic())
	return nil
}

func (t *MQTTTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	t.client.Disconnect(250)
	t.client = nil
	t.logger.Info("closed")
	return nil
}

func (t *MQTTTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	inbound, lost := t.inbound, t.lost
	connected := t.client != nil
	t.mu.Unlock()
	if !connected {
		return nil, errors.New("transport is not connected")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-lost:
		if err == nil {
			err = errors.New("connection lost")
		}
		return nil, fmt.Errorf("mqtt connection lost: %w", err)
	case payload := <-inbound:
		return payload, nil
	}
}

func (t *MQTTTransport) WriteFrame(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return errors.New("transport is not connected")
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, publishTimeout)
		defer cancel()
	}
	if err := t.waitToken(ctx, client.Publish(t.requestTopic(), 0, false, payload)); err != nil {
		return fmt.Errorf("publish %s: %w", t.requestTopic(), err)
	}
	t.logger.Debug("write frame", "len", len(payload))
	return nil
}

func (t *MQTTTransport) waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		return token.Error()
	}
}

func isAuthRefused(err error) bool {
	return errors.Is(err, packets.ErrorRefusedNotAuthorised) ||
		errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword)
}
