package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// PublishRateLimiter enforces a sliding-window cap on every request to
// the routes it is mounted on, keyed by (queue, client IP) so
// one hot producer hammering a single queue cannot exhaust the budget of
// every other queue behind the same gateway IP. Requests that carry no
// queue name (declare, list) share one bucket per IP. The window is a
// Redis sorted set of request timestamps; maxPerMinute caps requests per
// key per minute.
func PublishRateLimiter(rdb *redis.Client, maxPerMinute int) gin.HandlerFunc {
	const window = time.Minute

	return func(c *gin.Context) {
		queueName := c.Param("name")
		if queueName == "" {
			queueName = "-"
		}
		key := fmt.Sprintf("amq-core:ratelimit:%s:%s", queueName, c.ClientIP())

		ctx := c.Request.Context()
		now := time.Now()
		member := float64(now.UnixNano())
		windowStart := fmt.Sprintf("%f", float64(now.Add(-window).UnixNano()))

		pipe := rdb.Pipeline()
		pipe.ZRemRangeByScore(ctx, key, "-inf", windowStart)
		countCmd := pipe.ZCard(ctx, key)
		pipe.ZAdd(ctx, key, redis.Z{Score: member, Member: member})
		pipe.Expire(ctx, key, window+time.Second)

		if _, err := pipe.Exec(ctx); err != nil {
			// Redis is unavailable: fail open rather than blocking traffic
			// on a dependency the broker core doesn't otherwise need.
			c.Next()
			return
		}

		if countCmd.Val() >= int64(maxPerMinute) {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": fmt.Sprintf("queue %q: more than %d requests per minute from this address", queueName, maxPerMinute),
			})
			return
		}
		c.Next()
	}
}
