package queue

import "time"

// DefaultUnsentLimit caps how many outstanding deliveries one channel
// may hold before the queue stops dispatching to it.
const DefaultUnsentLimit int32 = 100

// DefaultHibernateAfter is how long a queue sits idle before releasing
// cached working memory.
const DefaultHibernateAfter = 1000 * time.Millisecond

// Config holds the per-queue tunables.
type Config struct {
	UnsentLimit    int32
	HibernateAfter time.Duration
}

// WithDefaults fills in zero fields.
func (c Config) WithDefaults() Config {
	if c.UnsentLimit <= 0 {
		c.UnsentLimit = DefaultUnsentLimit
	}
	if c.HibernateAfter <= 0 {
		c.HibernateAfter = DefaultHibernateAfter
	}
	return c
}
