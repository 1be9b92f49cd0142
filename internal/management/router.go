// Package management exposes the broker's HTTP surface: prometheus
// metrics, a health check, queue introspection and administration, and a
// websocket delivery stream.
package management

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/amq-core/brokerqueue/internal/dedup"
	"github.com/amq-core/brokerqueue/internal/domain"
	"github.com/amq-core/brokerqueue/internal/frontend"
	"github.com/amq-core/brokerqueue/internal/management/middleware"
	"github.com/amq-core/brokerqueue/internal/monitor"
	"github.com/amq-core/brokerqueue/internal/queue"
	"github.com/amq-core/brokerqueue/internal/registry"
	"github.com/amq-core/brokerqueue/internal/supervisor"
)

// maxPublishBodyBytes caps a single publish request body; large payloads
// belong in blob storage with a reference passed through the message.
const maxPublishBodyBytes = 16 << 20

// publishRateLimitPerMinute caps requests to the /api/v1 routes per
// (queue name, client IP) pair when a Redis client is available to back
// the limiter.
const publishRateLimitPerMinute = 6000

// Deps holds the dependencies the management router needs.
type Deps struct {
	Registry   *registry.Registry
	Supervisor *supervisor.Supervisor
	Monitor    *monitor.Monitor
	Dedup      dedup.Store // nil disables publish-side deduplication
	Logger     *zap.Logger
	DBPool     *pgxpool.Pool // nil when running with the in-memory persister
	Redis      *goredis.Client
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewRouter builds the gin engine serving /metrics, /api/v1/health, and
// the queue introspection + stream endpoints.
func NewRouter(deps *Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.MessageSizeLimit(maxPublishBodyBytes))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	if deps.Redis != nil {
		v1.Use(middleware.PublishRateLimiter(deps.Redis, publishRateLimitPerMinute))
	}
	{
		v1.GET("/health", healthHandler(deps))
		v1.GET("/queues", listQueuesHandler(deps))
		v1.POST("/queues", declareQueueHandler(deps))
		v1.GET("/queues/:name", getQueueHandler(deps))
		v1.DELETE("/queues/:name", deleteQueueHandler(deps))
		v1.POST("/queues/:name/claim", claimQueueHandler(deps))
		v1.POST("/queues/:name/purge", purgeQueueHandler(deps))
		v1.POST("/queues/:name/publish", publishHandler(deps))
		v1.GET("/queues/:name/stream", streamHandler(deps))
	}
	return router
}

type declareRequest struct {
	Name       string         `json:"name" binding:"required"`
	Durable    bool           `json:"durable"`
	AutoDelete bool           `json:"auto_delete"`
	Exclusive  bool           `json:"exclusive"`
	Arguments  map[string]any `json:"arguments"`
}

// declareQueueHandler is AMQP's queue.declare surfaced over HTTP,
// idempotent for a matching redeclare.
func declareQueueHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req declareRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		desc := domain.QueueDescriptor{
			Name:       req.Name,
			Durable:    req.Durable,
			AutoDelete: req.AutoDelete,
			Exclusive:  req.Exclusive,
			Arguments:  amqp.Table(req.Arguments),
		}
		p, err := deps.Registry.Declare(desc)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if desc.Durable && deps.Supervisor != nil {
			deps.Supervisor.Watch(desc, p)
		}
		c.JSON(http.StatusCreated, p.Stats())
	}
}

func deleteQueueHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		p, ok := deps.Registry.Lookup(name)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "queue not found"})
			return
		}
		ifUnused := c.Query("if_unused") == "true"
		ifEmpty := c.Query("if_empty") == "true"
		if deps.Supervisor != nil {
			deps.Supervisor.Forget(name)
		}
		count, err := p.Delete(ifUnused, ifEmpty)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages_deleted": count})
	}
}

type publishRequest struct {
	Body           []byte         `json:"body" binding:"required"`
	Headers        map[string]any `json:"headers"`
	ContentType    string         `json:"content_type"`
	Persistent     bool           `json:"persistent"`
	PersistenceKey string         `json:"persistence_key"`
	DedupKey       string         `json:"dedup_key"`
}

// publishHandler publishes one message to the named queue, guarded by an
// optional dedup check on the client-supplied key.
func publishHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		p, ok := deps.Registry.Lookup(name)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "queue not found"})
			return
		}
		var req publishRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if req.DedupKey != "" && deps.Dedup != nil {
			dup, err := deps.Dedup.Seen(c.Request.Context(), req.DedupKey)
			if err != nil {
				deps.Logger.Warn("dedup check failed, publishing anyway", zap.Error(err))
			} else if dup {
				c.JSON(http.StatusOK, gin.H{"outcome": "duplicate_skipped"})
				return
			}
		}

		msg := domain.Message{
			Body:           req.Body,
			Headers:        amqp.Table(req.Headers),
			ContentType:    req.ContentType,
			Persistent:     req.Persistent,
			PersistenceKey: req.PersistenceKey,
		}
		channelID := domain.ChannelID(c.Query("channel_id"))
		outcome := p.PublishSync("", channelID, msg)

		result := "queued"
		switch outcome {
		case queue.PublishRouted:
			result = "routed"
		case queue.PublishDeferred:
			result = "deferred"
		}
		c.JSON(http.StatusOK, gin.H{"outcome": result})
	}
}

func purgeQueueHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		p, ok := deps.Registry.Lookup(name)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "queue not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages_purged": p.Purge()})
	}
}

// claimQueueHandler takes exclusive ownership of the queue for the given
// channel identity. The owner's liveness token is registered with the
// Monitor so a later death notification tears the queue down if it was
// declared exclusive.
func claimQueueHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		p, ok := deps.Registry.Lookup(name)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "queue not found"})
			return
		}
		channelID := domain.ChannelID(c.Query("channel_id"))
		if channelID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "channel_id is required"})
			return
		}

		var token domain.LivenessToken
		token = deps.Monitor.Watch(func() {
			p.NotifyOwnerDown(token)
		})

		if err := p.Claim(channelID, token); err != nil {
			deps.Monitor.Release(token)
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"owner": channelID, "liveness_token": token})
	}
}

func healthHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		pgStatus := "skipped"
		if deps.DBPool != nil {
			pgStatus = "ok"
			if err := deps.DBPool.Ping(ctx); err != nil {
				pgStatus = "error: " + err.Error()
				deps.Logger.Warn("postgres health check failed", zap.Error(err))
			}
		}

		redisStatus := "skipped"
		if deps.Redis != nil {
			redisStatus = "ok"
			if err := deps.Redis.Ping(ctx).Err(); err != nil {
				redisStatus = "error: " + err.Error()
				deps.Logger.Warn("redis health check failed", zap.Error(err))
			}
		}

		status := http.StatusOK
		overall := "ok"
		if (deps.DBPool != nil && pgStatus != "ok") || (deps.Redis != nil && redisStatus != "ok") {
			status = http.StatusServiceUnavailable
			overall = "degraded"
		}

		c.JSON(status, gin.H{
			"status": overall,
			"services": gin.H{
				"postgres": pgStatus,
				"redis":    redisStatus,
			},
		})
	}
}

func listQueuesHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		names := deps.Registry.Names()
		out := make([]queue.Stats, 0, len(names))
		for _, name := range names {
			p, ok := deps.Registry.Lookup(name)
			if !ok {
				continue
			}
			out = append(out, p.Stats())
		}
		c.JSON(http.StatusOK, gin.H{"queues": out})
	}
}

func getQueueHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		p, ok := deps.Registry.Lookup(name)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "queue not found"})
			return
		}
		c.JSON(http.StatusOK, p.Stats())
	}
}

// streamHandler upgrades to a websocket and registers it as a consumer
// on the named queue, pushing deliveries with at-most-once semantics.
func streamHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		p, ok := deps.Registry.Lookup(name)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "queue not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			deps.Logger.Error("management stream upgrade failed", zap.Error(err))
			return
		}

		ch := frontend.New(conn, deps.Logger)
		channelID := domain.ChannelID(c.Query("channel_id"))
		if channelID == "" {
			channelID = domain.ChannelID(uuid.NewString())
		}
		tag := domain.ConsumerTag(c.Query("tag"))
		if tag == "" {
			tag = domain.ConsumerTag("mgmt-stream")
		}

		token := deps.Monitor.Watch(func() {
			p.NotifyChannelDown(channelID)
		})

		err = p.RegisterConsumer(queue.RegisterConsumerInput{
			ChannelID: channelID,
			Token:     token,
			ChanRef:   ch,
			Tag:       tag,
			NoAck:     true,
		})
		if err != nil {
			deps.Logger.Warn("management stream register-consumer failed", zap.Error(err))
			ch.Close()
			deps.Monitor.Release(token)
			return
		}

		go func() {
			defer func() {
				p.NotifyChannelDown(channelID)
				deps.Monitor.Release(token)
				ch.Close()
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}
