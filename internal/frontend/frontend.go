// Package frontend adapts a live client connection to the queue core's
// chanref.ChannelRef contract: a websocket connection pushing JSON
// delivery frames, with a keepalive ping loop.
package frontend

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/amq-core/brokerqueue/internal/chanref"
	"github.com/amq-core/brokerqueue/internal/domain"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// frame is the wire shape pushed to the client over the socket.
type frame struct {
	Type        string             `json:"type"` // "delivery" | "cancel"
	Queue       string             `json:"queue,omitempty"`
	DeliveryID  domain.DeliveryID  `json:"delivery_id,omitempty"`
	Redelivered bool               `json:"redelivered,omitempty"`
	ContentType string             `json:"content_type,omitempty"`
	Headers     amqp.Table         `json:"headers,omitempty"`
	Body        []byte             `json:"body,omitempty"`
	ConsumerTag domain.ConsumerTag `json:"consumer_tag,omitempty"`
}

// WSChannel implements chanref.ChannelRef over one client websocket
// connection. Safe for concurrent Deliver/ConsumerCancelled calls from
// many queue processes at once.
type WSChannel struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	logger *zap.Logger

	pingStop chan struct{}
}

var _ chanref.ChannelRef = (*WSChannel)(nil)

// New wraps conn. Call Close when the connection's read pump observes a
// disconnect.
func New(conn *websocket.Conn, logger *zap.Logger) *WSChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &WSChannel{conn: conn, logger: logger, pingStop: make(chan struct{})}
	go c.pingLoop()
	return c
}

func (c *WSChannel) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.pingStop:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				c.logger.Debug("frontend ping failed", zap.Error(err))
				return
			}
		}
	}
}

// Deliver implements chanref.ChannelRef.
func (c *WSChannel) Deliver(queueName string, _ chanref.ProcessRef, deliveryID domain.DeliveryID, redelivered bool, msg domain.Message) error {
	return c.writeFrame(frame{
		Type:        "delivery",
		Queue:       queueName,
		DeliveryID:  deliveryID,
		Redelivered: redelivered,
		ContentType: msg.ContentType,
		Headers:     msg.Headers,
		Body:        msg.Body,
	})
}

// ConsumerCancelled implements chanref.ChannelRef.
func (c *WSChannel) ConsumerCancelled(tag domain.ConsumerTag) {
	_ = c.writeFrame(frame{Type: "cancel", ConsumerTag: tag})
}

func (c *WSChannel) writeFrame(f frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close stops the keepalive ping loop and closes the underlying
// connection.
func (c *WSChannel) Close() error {
	close(c.pingStop)
	return c.conn.Close()
}
