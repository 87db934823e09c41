package messaging

import (
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/propagation"
)

// MessageIDHeader carries a unique id per published message so consumers can
// correlate retries and duplicates in their logs and spans.
const MessageIDHeader = "message-id"

var _ propagation.TextMapCarrier = (*MessageCarrier)(nil)

// MessageCarrier exposes the headers of a kafka message to the otel
// propagators. Writes go straight into the wrapped message.
type MessageCarrier struct {
	msg *kafka.Message
}

func NewMessageCarrier(msg *kafka.Message) *MessageCarrier {
	return &MessageCarrier{msg: msg}
}

func (c *MessageCarrier) Get(key string) string {
	if i := c.index(key); i >= 0 {
		return string(c.msg.Headers[i].Value)
	}
	return ""
}

func (c *MessageCarrier) Set(key, value string) {
	if i := c.index(key); i >= 0 {
		c.msg.Headers[i].Value = []byte(value)
		return
	}
	c.msg.Headers = append(c.msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *MessageCarrier) Keys() []string {
	keys := make([]string, len(c.msg.Headers))
	for i, h := range c.msg.Headers {
		keys[i] = h.Key
	}
	return keys
}

// MessageID returns the id set by the producer, or "" for messages written
// by other clients.
func (c *MessageCarrier) MessageID() string {
	return c.Get(MessageIDHeader)
}

func (c *MessageCarrier) SetMessageID(id string) {
	c.Set(MessageIDHeader, id)
}

func (c *MessageCarrier) index(key string) int {
	for i, h := range c.msg.Headers {
		if h.Key == key {
			return i
		}
	}
	return -1
}
