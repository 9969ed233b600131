package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env              string
	ServiceName      string
	HTTPPort         int
	LogLevel         string
	ConfigPath       string
	RequestTimeoutMS int
	RequestTimeout   time.Duration

	OIDCIssuer      string
	OIDCAudience    string
	OIDCJWKSURL     string
	JWKSTTLSeconds  int
	JWTClockSkewSec int

	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers  []string
	KafkaClientID string
	KafkaGroupID  string
	KafkaRetryMax int
	KafkaWriteMS  int

	AsynqRedisAddr   string
	AsynqRedisPass   string
	AsynqRedisDB     int
	AsynqQueue       string
	AsynqConcurrency int

	OutboxScanSec     int
	OutboxBatchSize   int
	OutboxMaxAttempts int

	InfluxURL       string
	InfluxToken     string
	InfluxOrg       string
	InfluxBucket    string
	InfluxTimeoutMS int

	HypervisorURL       string
	HypervisorToken     string
	HypervisorTimeoutMS int
	HypervisorEnabled   bool

	ProjectionWaitMS int
	ProjectionPollMS int

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

// Load builds the service configuration from the environment, optionally
// overlaid on a JSON config file pointed at by CONFIG_PATH. Invalid values
// are reported as Problems and replaced by defaults so callers can decide
// whether a problem is fatal for their service.
func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	problems := make([]Problem, 0, 4)

	src := source{
		file:     map[string]any{},
		problems: &problems,
	}
	path := strings.TrimSpace(os.Getenv("CONFIG_PATH"))
	if path != "" {
		raw, err := readConfigFile(path)
		if err != nil {
			problems = append(problems, Problem{Field: "CONFIG_PATH", Message: err.Error()})
		} else {
			src.file = raw
		}
	}

	cfg := Config{
		Env:                 src.str("ENV", ""),
		ServiceName:         src.str("SERVICE_NAME", serviceNameDefault),
		HTTPPort:            src.num("HTTP_PORT", httpPortDefault),
		LogLevel:            src.str("LOG_LEVEL", "info"),
		ConfigPath:          path,
		RequestTimeoutMS:    src.num("REQUEST_TIMEOUT_MS", 30000),
		OIDCIssuer:          src.str("OIDC_ISSUER", ""),
		OIDCAudience:        src.str("OIDC_AUDIENCE", ""),
		OIDCJWKSURL:         src.str("OIDC_JWKS_URL", ""),
		JWKSTTLSeconds:      src.num("JWKS_CACHE_TTL_SECONDS", 300),
		JWTClockSkewSec:     src.num("JWT_CLOCK_SKEW_SECONDS", 60),
		DatabaseURL:         src.str("DATABASE_URL", ""),
		DBMaxConns:          src.num("DB_MAX_CONNS", 10),
		DBMinConns:          src.num("DB_MIN_CONNS", 1),
		DBConnMaxIdleSec:    src.num("DB_CONN_MAX_IDLE_SECONDS", 300),
		DBConnMaxLifeSec:    src.num("DB_CONN_MAX_LIFETIME_SECONDS", 1800),
		RedisAddr:           src.str("REDIS_ADDR", ""),
		RedisPassword:       src.str("REDIS_PASSWORD", ""),
		RedisDB:             src.num("REDIS_DB", 0),
		KafkaBrokers:        parseCSV(src.str("KAFKA_BROKERS", "")),
		KafkaClientID:       src.str("KAFKA_CLIENT_ID", ""),
		KafkaGroupID:        src.str("KAFKA_CONSUMER_GROUP", ""),
		KafkaRetryMax:       src.num("KAFKA_RETRY_MAX", 5),
		KafkaWriteMS:        src.num("KAFKA_WRITE_TIMEOUT_MS", 5000),
		AsynqRedisAddr:      src.str("ASYNQ_REDIS_ADDR", ""),
		AsynqRedisPass:      src.str("ASYNQ_REDIS_PASSWORD", ""),
		AsynqRedisDB:        src.num("ASYNQ_REDIS_DB", 0),
		AsynqQueue:          src.str("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:    src.num("ASYNQ_CONCURRENCY", 10),
		OutboxScanSec:       src.num("OUTBOX_SCAN_INTERVAL_SECONDS", 5),
		OutboxBatchSize:     src.num("OUTBOX_BATCH_SIZE", 50),
		OutboxMaxAttempts:   src.num("OUTBOX_MAX_ATTEMPTS", 20),
		InfluxURL:           src.str("INFLUX_URL", ""),
		InfluxToken:         src.str("INFLUX_TOKEN", ""),
		InfluxOrg:           src.str("INFLUX_ORG", ""),
		InfluxBucket:        src.str("INFLUX_BUCKET", ""),
		InfluxTimeoutMS:     src.num("INFLUX_TIMEOUT_MS", 5000),
		HypervisorURL:       src.str("HYPERVISOR_API_URL", ""),
		HypervisorToken:     src.str("HYPERVISOR_API_TOKEN", ""),
		HypervisorTimeoutMS: src.num("HYPERVISOR_TIMEOUT_MS", 10000),
		HypervisorEnabled:   src.boolean("HYPERVISOR_ENABLED", false),
		ProjectionWaitMS:    src.num("PROJECTION_WAIT_TIMEOUT_MS", 5000),
		ProjectionPollMS:    src.num("PROJECTION_POLL_INTERVAL_MS", 50),
		OtelEnabled:         src.boolean("OTEL_ENABLED", false),
		OtelEndpoint:        src.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OtelInsecure:        src.boolean("OTEL_EXPORTER_OTLP_INSECURE", true),
		OtelSampleRatio:     src.ratio("OTEL_SAMPLE_RATIO", 1.0),
	}

	if cfg.Env == "" {
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
		cfg.Env = "dev"
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		problems = append(problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		cfg.HTTPPort = httpPortDefault
	}
	if cfg.RequestTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "REQUEST_TIMEOUT_MS", Message: "REQUEST_TIMEOUT_MS must be > 0"})
		cfg.RequestTimeoutMS = 30000
	}
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	if cfg.OIDCIssuer != "" && strings.TrimSpace(cfg.OIDCJWKSURL) == "" {
		cfg.OIDCJWKSURL = strings.TrimRight(cfg.OIDCIssuer, "/") + "/.well-known/jwks.json"
	}
	if cfg.DBMaxConns <= 0 {
		problems = append(problems, Problem{Field: "DB_MAX_CONNS", Message: "DB_MAX_CONNS must be > 0"})
		cfg.DBMaxConns = 10
	}
	if cfg.DBMinConns < 0 || cfg.DBMinConns > cfg.DBMaxConns {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be 0..DB_MAX_CONNS"})
		cfg.DBMinConns = 1
	}
	if cfg.AsynqConcurrency <= 0 {
		problems = append(problems, Problem{Field: "ASYNQ_CONCURRENCY", Message: "ASYNQ_CONCURRENCY must be > 0"})
		cfg.AsynqConcurrency = 10
	}
	if cfg.OutboxScanSec <= 0 {
		problems = append(problems, Problem{Field: "OUTBOX_SCAN_INTERVAL_SECONDS", Message: "OUTBOX_SCAN_INTERVAL_SECONDS must be > 0"})
		cfg.OutboxScanSec = 5
	}
	if cfg.OutboxBatchSize <= 0 {
		problems = append(problems, Problem{Field: "OUTBOX_BATCH_SIZE", Message: "OUTBOX_BATCH_SIZE must be > 0"})
		cfg.OutboxBatchSize = 50
	}
	if cfg.OutboxMaxAttempts <= 0 {
		problems = append(problems, Problem{Field: "OUTBOX_MAX_ATTEMPTS", Message: "OUTBOX_MAX_ATTEMPTS must be > 0"})
		cfg.OutboxMaxAttempts = 20
	}
	if cfg.ProjectionWaitMS <= 0 {
		problems = append(problems, Problem{Field: "PROJECTION_WAIT_TIMEOUT_MS", Message: "PROJECTION_WAIT_TIMEOUT_MS must be > 0"})
		cfg.ProjectionWaitMS = 5000
	}
	if cfg.ProjectionPollMS <= 0 || cfg.ProjectionPollMS > cfg.ProjectionWaitMS {
		problems = append(problems, Problem{Field: "PROJECTION_POLL_INTERVAL_MS", Message: "PROJECTION_POLL_INTERVAL_MS must be 1..PROJECTION_WAIT_TIMEOUT_MS"})
		cfg.ProjectionPollMS = 50
	}

	return cfg, problems
}

// source resolves a key from the environment first, then the config file.
type source struct {
	file     map[string]any
	problems *[]Problem
}

func (s source) lookup(key string) (any, bool) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v, true
	}
	for k, v := range s.file {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			return v, true
		}
	}
	return nil, false
}

func (s source) str(key string, def string) string {
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	if str, ok := v.(string); ok {
		if strings.TrimSpace(str) == "" {
			return def
		}
		return strings.TrimSpace(str)
	}
	return fmt.Sprint(v)
}

func (s source) num(key string, def int) int {
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	n, ok := asInt(v)
	if !ok {
		*s.problems = append(*s.problems, Problem{Field: key, Message: key + " must be an integer"})
		return def
	}
	return n
}

func (s source) boolean(key string, def bool) bool {
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	if b, ok := v.(bool); ok {
		return b
	}
	b, ok := asBool(fmt.Sprint(v))
	if !ok {
		*s.problems = append(*s.problems, Problem{Field: key, Message: key + " must be a boolean"})
		return def
	}
	return b
}

func (s source) ratio(key string, def float64) float64 {
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	f, ok := asFloat(v)
	if !ok || f < 0 || f > 1 {
		*s.problems = append(*s.problems, Problem{Field: key, Message: key + " must be 0-1"})
		return def
	}
	return f
}

func readConfigFile(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.New("config file not found")
		}
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid json: %v", err)
	}
	return raw, nil
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		i, err := t.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		return i, err == nil
	default:
		return 0, false
	}
}

func asBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	default:
		return false, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
