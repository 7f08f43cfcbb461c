package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rohmanhakim/robots-gate/internal/logging"
	"github.com/rohmanhakim/robots-gate/pkg/retry"
	"github.com/rohmanhakim/robots-gate/pkg/timeutil"
)

// Store backends for fetched robots.txt files.
const (
	StoreNone   = "none"
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	//===============
	// Fetch
	//===============
	// Identity sent when a site has no user agent of its own.
	userAgent string
	// Maximum time of a single robots.txt request
	timeout time.Duration

	//===============
	// Retry
	//===============
	// maximum attempt of one permission check
	maxAttempt int
	// initial delay for backoff. Zero retries immediately.
	backoffInitialDuration time.Duration
	// multiplier during exponential backoff
	backoffMultiplier float64
	// capped maximum delay for backoff to stop exponential multiplication. Zero means uncapped.
	backoffMaxDuration time.Duration
	// Randomized variation added on top of the backoff delay.
	jitter time.Duration
	// Controls the random number generator
	randomSeed int64

	//===============
	// Store
	//===============
	// Where fetched robots.txt files are kept: none, memory or redis
	store string
	// redis:// URL, required by the redis store
	redisURL string
	// Namespace of every redis key
	redisKeyPrefix string

	//===============
	// Logging
	//===============
	logLevel  string
	logPretty bool
}

type configDTO struct {
	UserAgent              string        `json:"userAgent,omitempty"`
	Timeout                time.Duration `json:"timeout,omitempty"`
	MaxAttempt             int           `json:"maxAttempt,omitempty"`
	BackoffInitialDuration time.Duration `json:"backoffInitialDuration,omitempty"`
	BackoffMultiplier      float64       `json:"backoffMultiplier,omitempty"`
	BackoffMaxDuration     time.Duration `json:"backoffMaxDuration,omitempty"`
	Jitter                 time.Duration `json:"jitter,omitempty"`
	RandomSeed             int64         `json:"randomSeed,omitempty"`
	Store                  string        `json:"store,omitempty"`
	RedisURL               string        `json:"redisUrl,omitempty"`
	RedisKeyPrefix         string        `json:"redisKeyPrefix,omitempty"`
	LogLevel               string        `json:"logLevel,omitempty"`
	LogPretty              bool          `json:"logPretty,omitempty"`
}

func newConfigFromDTO(dto configDTO) (Config, error) {
	builder := WithDefault()

	// Only override if non-zero value is provided
	if dto.UserAgent != "" {
		builder.WithUserAgent(dto.UserAgent)
	}
	if dto.Timeout != 0 {
		builder.WithTimeout(dto.Timeout)
	}
	if dto.MaxAttempt != 0 {
		builder.WithMaxAttempt(dto.MaxAttempt)
	}
	if dto.BackoffInitialDuration != 0 {
		builder.WithBackoffInitialDuration(dto.BackoffInitialDuration)
	}
	if dto.BackoffMultiplier != 0 {
		builder.WithBackoffMultiplier(dto.BackoffMultiplier)
	}
	if dto.BackoffMaxDuration != 0 {
		builder.WithBackoffMaxDuration(dto.BackoffMaxDuration)
	}
	if dto.Jitter != 0 {
		builder.WithJitter(dto.Jitter)
	}
	if dto.RandomSeed != 0 {
		builder.WithRandomSeed(dto.RandomSeed)
	}
	if dto.Store != "" {
		builder.WithStore(dto.Store)
	}
	if dto.RedisURL != "" {
		builder.WithRedisURL(dto.RedisURL)
	}
	if dto.RedisKeyPrefix != "" {
		builder.WithRedisKeyPrefix(dto.RedisKeyPrefix)
	}
	if dto.LogLevel != "" {
		builder.WithLogLevel(dto.LogLevel)
	}
	// bool zero value is false, use the DTO value as-is
	builder.WithLogPretty(dto.LogPretty)

	return builder.Build()
}

func WithConfigFile(path string) (Config, error) {
	_, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}
	configContent, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}
	cfgDTO := configDTO{}

	err = json.Unmarshal(configContent, &cfgDTO)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}

	return newConfigFromDTO(cfgDTO)
}

// WithDefault creates a new Config with default values for all fields.
// Retries are immediate: ten attempts with no backoff.
func WithDefault() *Config {
	defaultConfig := Config{
		userAgent:              "robots-gate",
		timeout:                30 * time.Second,
		maxAttempt:             10,
		backoffInitialDuration: 0,
		backoffMultiplier:      2.0,
		backoffMaxDuration:     0,
		jitter:                 0,
		randomSeed:             time.Now().UnixNano(),
		store:                  StoreMemory,
		redisKeyPrefix:         "robots-gate:robots",
		logLevel:               "info",
		logPretty:              false,
	}
	return &defaultConfig
}

func (c *Config) WithUserAgent(agent string) *Config {
	c.userAgent = agent
	return c
}

func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.timeout = timeout
	return c
}

func (c *Config) WithMaxAttempt(attempts int) *Config {
	c.maxAttempt = attempts
	return c
}

func (c *Config) WithBackoffInitialDuration(duration time.Duration) *Config {
	c.backoffInitialDuration = duration
	return c
}

func (c *Config) WithBackoffMultiplier(multiplier float64) *Config {
	c.backoffMultiplier = multiplier
	return c
}

func (c *Config) WithBackoffMaxDuration(duration time.Duration) *Config {
	c.backoffMaxDuration = duration
	return c
}

func (c *Config) WithJitter(jitter time.Duration) *Config {
	c.jitter = jitter
	return c
}

func (c *Config) WithRandomSeed(seed int64) *Config {
	c.randomSeed = seed
	return c
}

func (c *Config) WithStore(store string) *Config {
	c.store = strings.ToLower(strings.TrimSpace(store))
	return c
}

func (c *Config) WithRedisURL(redisURL string) *Config {
	c.redisURL = redisURL
	return c
}

func (c *Config) WithRedisKeyPrefix(prefix string) *Config {
	c.redisKeyPrefix = prefix
	return c
}

func (c *Config) WithLogLevel(level string) *Config {
	c.logLevel = level
	return c
}

func (c *Config) WithLogPretty(pretty bool) *Config {
	c.logPretty = pretty
	return c
}

func (c *Config) Build() (Config, error) {
	if c.userAgent == "" {
		return Config{}, fmt.Errorf("%w: userAgent cannot be empty", ErrInvalidConfig)
	}
	if c.timeout <= 0 {
		return Config{}, fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	if c.maxAttempt < 1 {
		return Config{}, fmt.Errorf("%w: maxAttempt must be at least 1", ErrInvalidConfig)
	}
	if c.backoffInitialDuration < 0 || c.backoffMaxDuration < 0 || c.jitter < 0 {
		return Config{}, fmt.Errorf("%w: backoff durations cannot be negative", ErrInvalidConfig)
	}
	if c.backoffInitialDuration > 0 && c.backoffMultiplier < 1 {
		return Config{}, fmt.Errorf("%w: backoffMultiplier must be at least 1", ErrInvalidConfig)
	}

	switch c.store {
	case "", StoreNone:
		c.store = StoreNone
	case StoreMemory:
	case StoreRedis:
		if c.redisURL == "" {
			return Config{}, fmt.Errorf("%w: redisUrl is required by the redis store", ErrInvalidConfig)
		}
	default:
		return Config{}, fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.store)
	}

	return *c, nil
}

func (c Config) UserAgent() string {
	return c.userAgent
}

func (c Config) Timeout() time.Duration {
	return c.timeout
}

func (c Config) MaxAttempt() int {
	return c.maxAttempt
}

func (c Config) BackoffInitialDuration() time.Duration {
	return c.backoffInitialDuration
}

func (c Config) BackoffMultiplier() float64 {
	return c.backoffMultiplier
}

func (c Config) BackoffMaxDuration() time.Duration {
	return c.backoffMaxDuration
}

func (c Config) Jitter() time.Duration {
	return c.jitter
}

func (c Config) RandomSeed() int64 {
	return c.randomSeed
}

func (c Config) Store() string {
	return c.store
}

func (c Config) RedisURL() string {
	return c.redisURL
}

func (c Config) RedisKeyPrefix() string {
	return c.redisKeyPrefix
}

func (c Config) LogLevel() string {
	return c.logLevel
}

func (c Config) LogPretty() bool {
	return c.logPretty
}

// RetryParam assembles the retry policy of a permission check.
func (c Config) RetryParam() retry.RetryParam {
	return retry.NewRetryParam(
		c.jitter,
		c.randomSeed,
		c.maxAttempt,
		timeutil.NewBackoffParam(c.backoffInitialDuration, c.backoffMultiplier, c.backoffMaxDuration),
	)
}

// Logging returns the logger configuration. Output is left to the caller.
func (c Config) Logging() logging.Config {
	return logging.Config{
		Level:  logging.ParseLevel(c.logLevel),
		Pretty: c.logPretty,
	}
}
