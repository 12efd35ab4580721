package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend names accepted by STORE_BACKEND.
const (
	StoreMemory   = "memory"
	StoreDynamoDB = "dynamodb"
	StorePostgres = "postgres"
)

// Transport names accepted by EVENT_TRANSPORT.
const (
	TransportMemory      = "memory"
	TransportRedis       = "redis"
	TransportKafka       = "kafka"
	TransportEventBridge = "eventbridge"
)

// Config is built once at process start and passed down by value. Nothing
// mutates it after FromEnv returns.
type Config struct {
	Server  Server
	Store   Store
	Events  Events
	Reactor Reactor
	Auth    Auth
	Redis   RedisConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string
	AdminAddr      string
	LogLevel       string
	RequestTimeout time.Duration
	DefaultListID  string
	IdempotencyTTL time.Duration
}

// Store selects and configures the todo store backend.
type Store struct {
	Backend     string
	TableName   string
	DatabaseURL string
}

// Events selects and configures the event channel.
type Events struct {
	Transport    string
	BusName      string
	KafkaBrokers []string
}

// Reactor configures asynchronous event consumption.
type Reactor struct {
	Enabled     bool
	MaxAttempts int
	Group       string
	Consumer    string
}

// Auth configures the signed-request gate.
type Auth struct {
	SigV4Region      string
	SigV4Service     string
	SigV4Credentials map[string]string
	JWTSigningKey    string
	JWTIssuer        string
	JWTAudience      string
}

// RedisConfig configures the shared redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var errs []error

	requestTimeout, err := envDuration("REQUEST_TIMEOUT", 10*time.Second)
	errs = append(errs, err)
	idempotencyTTL, err := envDuration("IDEMPOTENCY_TTL", 24*time.Hour)
	errs = append(errs, err)
	maxAttempts, err := envInt("REACTOR_MAX_ATTEMPTS", 5)
	errs = append(errs, err)
	reactorEnabled, err := envBool("REACTOR_ENABLED", true)
	errs = append(errs, err)
	poolSize, err := envInt("REDIS_POOL_SIZE", 10)
	errs = append(errs, err)
	creds, err := parseCredentials(os.Getenv("SIGV4_CREDENTIALS"))
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	hostname, _ := os.Hostname()

	cfg := Config{
		Server: Server{
			Addr:           envOr("TODOFLOW_ADDR", ":8080"),
			AdminAddr:      envOr("ADMIN_ADDR", ":9090"),
			LogLevel:       envOr("LOG_LEVEL", "info"),
			RequestTimeout: requestTimeout,
			DefaultListID:  envOr("DEFAULT_LIST_ID", "default"),
			IdempotencyTTL: idempotencyTTL,
		},
		Store: Store{
			Backend:     strings.ToLower(envOr("STORE_BACKEND", StoreMemory)),
			TableName:   envOr("TODOS_TABLE_NAME", "todos"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		Events: Events{
			Transport:    strings.ToLower(envOr("EVENT_TRANSPORT", TransportMemory)),
			BusName:      envOr("EVENT_BUS_NAME", "todos"),
			KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		},
		Reactor: Reactor{
			Enabled:     reactorEnabled,
			MaxAttempts: maxAttempts,
			Group:       envOr("REACTOR_GROUP", "todoflow-reactors"),
			Consumer:    envOr("REACTOR_CONSUMER", hostname),
		},
		Auth: Auth{
			SigV4Region:      envOr("SIGV4_REGION", "us-east-1"),
			SigV4Service:     envOr("SIGV4_SERVICE", "execute-api"),
			SigV4Credentials: creds,
			JWTSigningKey:    os.Getenv("JWT_SIGNING_KEY"),
			JWTIssuer:        envOr("JWT_ISSUER", "todoflow"),
			JWTAudience:      envOr("JWT_AUDIENCE", "todoflow-api"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     poolSize,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}
	return cfg, cfg.Validate()
}

// Validate rejects combinations that cannot start.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case StoreMemory, StoreDynamoDB:
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend))
	}

	switch c.Events.Transport {
	case TransportMemory, TransportEventBridge:
	case TransportRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis transport"))
		}
	case TransportKafka:
		if len(c.Events.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for the kafka transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EVENT_TRANSPORT %q", c.Events.Transport))
	}

	if c.Reactor.MaxAttempts < 1 {
		errs = append(errs, errors.New("REACTOR_MAX_ATTEMPTS must be at least 1"))
	}
	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseCredentials reads "AKID:SECRET[,AKID:SECRET]".
func parseCredentials(v string) (map[string]string, error) {
	creds := make(map[string]string)
	for _, pair := range splitList(v) {
		akid, secret, ok := strings.Cut(pair, ":")
		if !ok || akid == "" || secret == "" {
			return nil, errors.New("SIGV4_CREDENTIALS: expected AKID:SECRET pairs")
		}
		creds[akid] = secret
	}
	return creds, nil
}
