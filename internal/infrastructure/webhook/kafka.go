package webhook

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	appwebhook "github.com/Zhima-Mochi/storefront/internal/application/webhook"
)

// messageWriter is the part of *kafka.Writer the transport needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaTransport produces deliveries for kafka://host[,host]/topic targets.
// Writers are created on first use and cached per broker list.
type KafkaTransport struct {
	mu        sync.Mutex
	writers   map[string]messageWriter
	newWriter func(brokers []string) messageWriter
	now       func() time.Time
}

func NewKafkaTransport() *KafkaTransport {
	return &KafkaTransport{
		writers: make(map[string]messageWriter),
		newWriter: func(brokers []string) messageWriter {
			return &kafka.Writer{
				Addr:                   kafka.TCP(brokers...),
				Balancer:               &kafka.Hash{},
				RequiredAcks:           kafka.RequireAll,
				AllowAutoTopicCreation: true,
			}
		},
		now: time.Now,
	}
}

func (t *KafkaTransport) Send(ctx context.Context, req appwebhook.Request) (*appwebhook.Response, error) {
	brokers, topic, err := parseKafkaTarget(req.TargetURL)
	if err != nil {
		return nil, err
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(req.Headers["Saleor-Event"]),
		Value: req.Body,
	}
	for k, v := range req.Headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{msg: &msg})

	start := t.now()
	if err := t.writer(brokers).WriteMessages(ctx, msg); err != nil {
		return nil, fmt.Errorf("webhook: kafka produce to %s: %w", topic, err)
	}
	// A produced message counts as an accepted delivery.
	return &appwebhook.Response{StatusCode: 200, Duration: t.now().Sub(start)}, nil
}

func (t *KafkaTransport) writer(brokers []string) messageWriter {
	key := strings.Join(brokers, ",")
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.writers[key]
	if !ok {
		w = t.newWriter(brokers)
		t.writers[key] = w
	}
	return w
}

func (t *KafkaTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for k, w := range t.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(t.writers, k)
	}
	return firstErr
}

func parseKafkaTarget(raw string) (brokers []string, topic string, err error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "kafka" || u.Host == "" {
		return nil, "", fmt.Errorf("webhook: invalid kafka target %q", raw)
	}
	topic = strings.Trim(u.Path, "/")
	if topic == "" {
		return nil, "", fmt.Errorf("webhook: kafka target %q has no topic", raw)
	}
	return strings.Split(u.Host, ","), topic, nil
}

// headerCarrier lets the otel propagator write into kafka message headers.
type headerCarrier struct{ msg *kafka.Message }

func (c headerCarrier) Get(key string) string {
	for _, h := range c.msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range c.msg.Headers {
		if h.Key == key {
			c.msg.Headers[i].Value = []byte(value)
			return
		}
	}
	c.msg.Headers = append(c.msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.msg.Headers))
	for _, h := range c.msg.Headers {
		keys = append(keys, h.Key)
	}
	return keys
}
