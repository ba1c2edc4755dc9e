// Package config holds the settings of a shelf proxy.
//
// Settings come from three layers: built-in defaults, an optional YAML
// manifest and command-line flags. Flags given explicitly on the command line
// win over the manifest, which wins over the defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mirkobrombin/go-shelf/v1/cache"
	"github.com/mirkobrombin/go-shelf/v1/validator"
	"github.com/mirkobrombin/go-shelf/v1/worker"
)

// Storage and event backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
	BackendKafka  = "kafka"
)

// StorageConfig selects where response partitions live.
type StorageConfig struct {
	Backend       string        `yaml:"backend"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	Timeout       time.Duration `yaml:"timeout"`
	Prefix        string        `yaml:"prefix"`
	Codec         string        `yaml:"codec"`
}

// MemoConfig sizes the in-process memo cache.
type MemoConfig struct {
	Backend       string        `yaml:"backend"`
	MaxSize       int           `yaml:"max_size"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// HintsConfig lists resources advertised to browsers on navigation responses.
type HintsConfig struct {
	CSS              []string `yaml:"css"`
	JS               []string `yaml:"js"`
	Fonts            []string `yaml:"fonts"`
	Preconnect       []string `yaml:"preconnect"`
	DNSPrefetch      []string `yaml:"dns_prefetch"`
	PrefetchPatterns []string `yaml:"prefetch_patterns"`
	PrefetchLimit    int      `yaml:"prefetch_limit"`
}

// EventsConfig selects the lifecycle event bus. An empty backend follows the
// storage backend.
type EventsConfig struct {
	Backend      string   `yaml:"backend"`
	NATSURL      string   `yaml:"nats_url"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	Topic        string   `yaml:"topic"`
}

// BreakerConfig guards the origin with a circuit breaker. A zero threshold
// disables it.
type BreakerConfig struct {
	Threshold int           `yaml:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

// AuditConfig controls the static partition auditor.
type AuditConfig struct {
	Mode     string        `yaml:"mode"`
	Interval time.Duration `yaml:"interval"`
}

// Config is the full proxy configuration.
type Config struct {
	Listen       string        `yaml:"listen"`
	Origin       string        `yaml:"origin"`
	Version      string        `yaml:"version"`
	StaticAssets []string      `yaml:"static_assets"`
	Policy       string        `yaml:"policy"`
	MaxBodySize  int64         `yaml:"max_body_size"`
	Storage      StorageConfig `yaml:"storage"`
	Memo         MemoConfig    `yaml:"memo"`
	Hints        HintsConfig   `yaml:"hints"`
	Events       EventsConfig  `yaml:"events"`
	Breaker      BreakerConfig `yaml:"breaker"`
	Audit        AuditConfig   `yaml:"audit"`
	Trace        bool          `yaml:"trace"`
	LogHandler   string        `yaml:"log_handler_type"`
	LogLevel     string        `yaml:"log_level"`

	// Manifest is the path of the YAML manifest. It is only read from flags.
	Manifest string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:  ":8080",
		Version: "v1.1",
		StaticAssets: []string{
			"/",
			"/assets/base.css",
			"/assets/constants.js",
			"/assets/pubsub.js",
			"/assets/global.js",
		},
		Policy:      string(worker.CacheFirst),
		MaxBodySize: 5 << 20,
		Storage: StorageConfig{
			Backend:   BackendMemory,
			RedisAddr: "localhost:6379",
			Timeout:   5 * time.Second,
			Prefix:    "shelf:",
			Codec:     "json",
		},
		Memo: MemoConfig{
			Backend:       "fifo",
			MaxSize:       100,
			TTL:           5 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Hints: HintsConfig{
			CSS:              []string{"/assets/base.css", "/assets/component-cart.css", "/assets/component-search.css"},
			JS:               []string{"/assets/constants.js", "/assets/pubsub.js", "/assets/global.js"},
			Fonts:            []string{"/assets/archivo-regular.woff2", "/assets/archivo-bold.woff2"},
			Preconnect:       []string{"https://fonts.shopifycdn.com", "https://connect.facebook.net", "https://www.google-analytics.com"},
			DNSPrefetch:      []string{"//cdn.shopify.com", "//monorail-edge.shopifysvc.com"},
			PrefetchPatterns: []string{"/products/", "/collections/"},
			PrefetchLimit:    2,
		},
		Events: EventsConfig{
			NATSURL:      "nats://localhost:4222",
			KafkaBrokers: []string{"localhost:9092"},
		},
		Breaker: BreakerConfig{
			Threshold: 5,
			Cooldown:  10 * time.Second,
		},
		Audit: AuditConfig{
			Mode:     "alert",
			Interval: time.Minute,
		},
		LogHandler: "json",
		LogLevel:   "info",
	}
}

// stringList is a comma separated flag value. Setting it replaces the list.
type stringList struct{ p *[]string }

func (l stringList) String() string {
	if l.p == nil {
		return ""
	}
	return strings.Join(*l.p, ",")
}

func (l stringList) Set(v string) error {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*l.p = out
	return nil
}

// RegisterFlags binds the configuration fields to fs. Current field values
// become the flag defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Manifest, "manifest", c.Manifest, "Path to a YAML manifest.")
	fs.StringVar(&c.Listen, "listen", c.Listen, "Address the proxy listens on.")
	fs.StringVar(&c.Origin, "origin", c.Origin, "Origin server URL; also the same-origin scope.")
	fs.StringVar(&c.Version, "version", c.Version, "Cache version token embedded in partition names.")
	fs.Var(stringList{&c.StaticAssets}, "static_assets", "Comma separated paths precached on install.")
	fs.StringVar(&c.Policy, "policy", c.Policy, "Fetch policy: cache-first/stale-while-revalidate.")
	fs.Int64Var(&c.MaxBodySize, "max_body_size", c.MaxBodySize, "Largest response body stored, in bytes.")
	fs.StringVar(&c.Storage.Backend, "storage", c.Storage.Backend, "Partition storage: memory/redis.")
	fs.StringVar(&c.Storage.RedisAddr, "redis_addr", c.Storage.RedisAddr, "Redis address.")
	fs.StringVar(&c.Storage.RedisPassword, "redis_password", c.Storage.RedisPassword, "Redis password.")
	fs.IntVar(&c.Storage.RedisDB, "redis_db", c.Storage.RedisDB, "Redis database.")
	fs.DurationVar(&c.Storage.Timeout, "redis_timeout", c.Storage.Timeout, "Timeout of a single Redis operation.")
	fs.StringVar(&c.Storage.Prefix, "redis_prefix", c.Storage.Prefix, "Prefix of every Redis key.")
	fs.StringVar(&c.Storage.Codec, "redis_codec", c.Storage.Codec, "Codec of Redis cache values: json/gob.")
	fs.StringVar(&c.Memo.Backend, "memo_backend", c.Memo.Backend, "Memo cache: fifo/lru/ristretto.")
	fs.IntVar(&c.Memo.MaxSize, "memo_max_size", c.Memo.MaxSize, "Maximum number of memo entries.")
	fs.DurationVar(&c.Memo.TTL, "memo_ttl", c.Memo.TTL, "Default memo entry lifetime.")
	fs.DurationVar(&c.Memo.SweepInterval, "sweep_interval", c.Memo.SweepInterval, "Interval between expired entry sweeps.")
	fs.StringVar(&c.Events.Backend, "events", c.Events.Backend, "Event bus: memory/redis/nats/kafka. Empty follows -storage.")
	fs.StringVar(&c.Events.NATSURL, "nats_url", c.Events.NATSURL, "NATS server URL.")
	fs.Var(stringList{&c.Events.KafkaBrokers}, "kafka_brokers", "Comma separated Kafka brokers.")
	fs.StringVar(&c.Events.Topic, "events_topic", c.Events.Topic, "Channel, subject or topic events are published on.")
	fs.IntVar(&c.Breaker.Threshold, "breaker_threshold", c.Breaker.Threshold, "Consecutive origin failures that open the breaker. 0 disables it.")
	fs.DurationVar(&c.Breaker.Cooldown, "breaker_cooldown", c.Breaker.Cooldown, "How long the breaker stays open before probing the origin.")
	fs.StringVar(&c.Audit.Mode, "audit_mode", c.Audit.Mode, "Static asset audit: noop/alert/heal.")
	fs.DurationVar(&c.Audit.Interval, "audit_interval", c.Audit.Interval, "Interval between static asset audits.")
	fs.BoolVar(&c.Trace, "trace", c.Trace, "Export traces to stdout.")
	fs.StringVar(&c.LogHandler, "log_handler_type", c.LogHandler, "Log handler type: json/text")
	fs.StringVar(&c.LogLevel, "log_level", c.LogLevel, "Log level: debug/info/warn/error")
}

// Load parses args into a configuration built from the defaults, the
// manifest named by -manifest and the explicit flags.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	c := Default()
	c.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if c.Manifest == "" {
		return c, nil
	}

	explicit := map[string]string{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = f.Value.String() })

	if err := c.LoadManifest(c.Manifest); err != nil {
		return nil, err
	}
	for name, value := range explicit {
		if err := fs.Set(name, value); err != nil {
			return nil, fmt.Errorf("reapply flag %s: %w", name, err)
		}
	}
	return c, nil
}

// LoadManifest overlays the YAML manifest at path onto c. Keys missing from
// the manifest keep their current values.
func (c *Config) LoadManifest(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if u, err := url.Parse(c.Origin); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("origin %q must be an absolute http(s) URL", c.Origin))
	}
	if c.Version == "" {
		errs = append(errs, errors.New("version is required"))
	}
	for _, asset := range c.StaticAssets {
		if !strings.HasPrefix(asset, "/") {
			errs = append(errs, fmt.Errorf("static asset %q must be an absolute path", asset))
		}
	}
	if _, err := worker.ParsePolicy(c.Policy); err != nil {
		errs = append(errs, err)
	}
	if c.MaxBodySize < 0 {
		errs = append(errs, errors.New("max body size must not be negative"))
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Storage.RedisAddr == "" {
			errs = append(errs, errors.New("redis address is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}
	switch c.EventsBackend() {
	case BackendMemory, BackendRedis:
	case BackendNATS:
		if c.Events.NATSURL == "" {
			errs = append(errs, errors.New("nats url is required for the nats event bus"))
		}
	case BackendKafka:
		if len(c.Events.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("kafka brokers are required for the kafka event bus"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown event backend %q", c.Events.Backend))
	}
	if c.EventsBackend() == BackendRedis && c.Storage.RedisAddr == "" && c.Storage.Backend != BackendRedis {
		errs = append(errs, errors.New("redis address is required for the redis event bus"))
	}
	if c.Breaker.Threshold < 0 {
		errs = append(errs, errors.New("breaker threshold must not be negative"))
	}
	if _, err := cache.CodecByName(c.Storage.Codec); err != nil {
		errs = append(errs, err)
	}
	if _, err := cache.ParseStrategy(c.Memo.Backend); err != nil {
		errs = append(errs, err)
	}
	if c.Memo.MaxSize <= 0 {
		errs = append(errs, errors.New("memo max size must be positive"))
	}
	if c.Hints.PrefetchLimit < 0 {
		errs = append(errs, errors.New("prefetch limit must not be negative"))
	}
	if _, err := validator.ParseMode(c.Audit.Mode); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// EventsBackend resolves the event bus backend.
func (c *Config) EventsBackend() string {
	if c.Events.Backend == "" {
		return c.Storage.Backend
	}
	return c.Events.Backend
}

// OriginURL returns the parsed origin. It assumes Validate succeeded.
func (c *Config) OriginURL() *url.URL {
	u, _ := url.Parse(c.Origin)
	return u
}
