package queue

import (
	"time"

	"go.uber.org/zap"
)

const (
	DefaultLockTTL           = 10 * time.Minute
	DefaultGuardTTL          = 15 * time.Minute
	DefaultPopTimeout        = 5 * time.Second
	DefaultTaskDelay         = 1 * time.Second
	DefaultContentionBackoff = 2 * time.Second
	DefaultReconnectInterval = 3 * time.Second
	DefaultMaxWaiters        = 1024
)

// config holds the configuration for Manager and its Worker.
type config struct {
	lockTTL           time.Duration
	guardTTL          time.Duration
	popTimeout        time.Duration
	taskDelay         time.Duration
	contentionBackoff time.Duration
	reconnectInterval time.Duration
	maxWaiters        int
	instanceID        string
	logger            *zap.Logger
}

func defaultConfig() config {
	return config{
		lockTTL:           DefaultLockTTL,
		guardTTL:          DefaultGuardTTL,
		popTimeout:        DefaultPopTimeout,
		taskDelay:         DefaultTaskDelay,
		contentionBackoff: DefaultContentionBackoff,
		reconnectInterval: DefaultReconnectInterval,
		maxWaiters:        DefaultMaxWaiters,
		logger:            zap.NewNop(),
	}
}

// Option configures a Manager.
type Option func(*config)

// WithLockTTL sets the ProcessingLock TTL. It also bounds how long one workflow run may take.
//
// Default: 10 minutes
func WithLockTTL(ttl time.Duration) Option {
	return func(c *config) {
		if ttl > 0 {
			c.lockTTL = ttl
		}
	}
}

// WithGuardTTL sets the UserPendingGuard TTL.
//
// Default: 15 minutes
func WithGuardTTL(ttl time.Duration) Option {
	return func(c *config) {
		if ttl > 0 {
			c.guardTTL = ttl
		}
	}
}

// WithPopTimeout sets how long one blocking pop waits before the worker loops.
func WithPopTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.popTimeout = d
		}
	}
}

// WithTaskDelay sets the pause between tasks.
func WithTaskDelay(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.taskDelay = d
		}
	}
}

// WithContentionBackoff sets how long the worker waits after requeueing a task
// because another instance held the lock.
func WithContentionBackoff(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.contentionBackoff = d
		}
	}
}

// WithReconnectInterval sets how often the worker pings an unreachable store.
func WithReconnectInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.reconnectInterval = d
		}
	}
}

// WithMaxWaiters bounds how many submitters may await results at once.
func WithMaxWaiters(n int) Option {
	return func(c *config) {
		c.maxWaiters = n
	}
}

// WithInstanceID sets the id this process reports in status and logs.
// Default: a random UUID.
func WithInstanceID(id string) Option {
	return func(c *config) {
		c.instanceID = id
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}
