package livedoc

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	driver    string // "memory", "valkey" or "redis"
	addrs     []string
	username  string
	password  string
	db        int
	keyPrefix string

	modelPath string
	modelYAML []byte

	feed        bool
	feedChannel string

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

// WithMemory keeps documents in process memory. Nothing is persisted.
func WithMemory() Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "memory"
		c.addrs = nil
	})
}

// WithValkey configures the client to connect to a Valkey instance with the JSON module.
func WithValkey(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "valkey"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithRedis configures the client to connect to a Redis 8+ instance.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithACLUser sets the username for Redis/Valkey ACL authentication.
func WithACLUser(username string) Option {
	return optionFunc(func(c *clientConfig) {
		c.username = username
	})
}

// WithDB selects a logical database on standalone instances.
func WithDB(db int) Option {
	return optionFunc(func(c *clientConfig) {
		c.db = db
	})
}

// WithKeyPrefix namespaces every key the client writes. Default: "livedoc".
func WithKeyPrefix(prefix string) Option {
	return optionFunc(func(c *clientConfig) {
		c.keyPrefix = prefix
	})
}

// WithModelFile loads the class model from a YAML file.
func WithModelFile(path string) Option {
	return optionFunc(func(c *clientConfig) {
		c.modelPath = path
	})
}

// WithModelYAML parses the class model from YAML. Takes precedence over WithModelFile.
func WithModelYAML(data []byte) Option {
	return optionFunc(func(c *clientConfig) {
		c.modelYAML = data
	})
}

// WithFeed shares committed transactions with other clients on the same database so
// that their watched queries see them too. An empty channel uses the default.
func WithFeed(channel string) Option {
	return optionFunc(func(c *clientConfig) {
		c.feed = true
		c.feedChannel = channel
	})
}

// WithLogger enables structured logging for SDK operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
