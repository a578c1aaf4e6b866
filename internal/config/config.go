package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// All values must come from env (or a .env file in the working directory).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Twilio  TwilioConfig
	Routing RoutingConfig
	Scoring ScoringConfig
	Hours   HoursConfig
	Events  EventsConfig
}

type AppConfig struct {
	Env            string
	Port           int
	AllowedOrigins []string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID        string
	AuthToken         string
	ValidateSignature bool
	// PublicBaseURL is the absolute URL Twilio reaches this service on.
	PublicBaseURL string
	// AudioBaseURL hosts recorded prompts. Empty means text-to-speech only.
	AudioBaseURL string
}

type RoutingConfig struct {
	QueueEnabled     bool
	QueueBackend     string
	QueueCapacity    int
	DegradedFallback bool

	Candidates        int
	MinReadiness      int
	HeartbeatInterval time.Duration
	DeviceCheck       bool
	ProbeTimeout      time.Duration
	ValidationTimeout time.Duration
	ReadinessTTL      time.Duration

	DispatchInterval time.Duration
	SessionTimeout   time.Duration
	LookupTimeout    time.Duration
}

type ScoringConfig struct {
	MissedDelta  int
	MissedDelay  time.Duration
	CallbackLead time.Duration
}

type HoursConfig struct {
	// File is a YAML schedule; empty means always open.
	File string
}

type EventsConfig struct {
	Sink         string
	MQTTBroker   string
	MQTTClientID string
	KafkaBrokers []string
	TopicPrefix  string
}

const (
	QueueBackendMemory = "memory"
	QueueBackendRedis  = "redis"

	EventsSinkNone  = "none"
	EventsSinkMQTT  = "mqtt"
	EventsSinkKafka = "kafka"
)

func Load() (Config, error) {
	// Optional; a missing .env is the normal case outside local dev.
	_ = godotenv.Load()

	c := Config{}
	p := &parser{}

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port = p.requiredInt("APP_PORT")
	c.App.AllowedOrigins = splitList(os.Getenv("ALLOWED_ORIGINS"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port = p.optionalInt("DB_PORT", 5432)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = p.optionalInt("REDIS_PORT", 6379)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Defaults applied in Validate().
	c.Auth.AccessTokenTTL = p.duration("JWT_ACCESS_TTL", 0)
	c.Auth.RefreshTokenTTL = p.duration("JWT_REFRESH_TTL", 0)

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.ValidateSignature = p.boolean("TWILIO_VALIDATE_SIGNATURE", true)
	c.Twilio.PublicBaseURL = strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL"))
	c.Twilio.AudioBaseURL = strings.TrimSpace(os.Getenv("TWILIO_AUDIO_BASE_URL"))

	c.Routing = RoutingConfig{
		QueueEnabled:      p.boolean("ROUTING_QUEUE_ENABLED", true),
		QueueBackend:      strings.ToLower(strings.TrimSpace(os.Getenv("ROUTING_QUEUE_BACKEND"))),
		QueueCapacity:     p.optionalInt("ROUTING_QUEUE_CAPACITY", 50),
		DegradedFallback:  p.boolean("ROUTING_DEGRADED_FALLBACK", false),
		Candidates:        p.optionalInt("ROUTING_CANDIDATES", 5),
		MinReadiness:      p.optionalInt("ROUTING_MIN_READINESS", 70),
		HeartbeatInterval: p.duration("ROUTING_HEARTBEAT_INTERVAL", 30*time.Second),
		DeviceCheck:       p.boolean("ROUTING_DEVICE_CHECK", true),
		ProbeTimeout:      p.duration("ROUTING_PROBE_TIMEOUT", 2*time.Second),
		ValidationTimeout: p.duration("ROUTING_VALIDATION_TIMEOUT", 3*time.Second),
		ReadinessTTL:      p.duration("ROUTING_READINESS_TTL", 5*time.Second),
		DispatchInterval:  p.duration("ROUTING_DISPATCH_INTERVAL", time.Second),
		SessionTimeout:    p.duration("ROUTING_SESSION_TIMEOUT", 10*time.Minute),
		LookupTimeout:     p.duration("ROUTING_LOOKUP_TIMEOUT", 750*time.Millisecond),
	}

	c.Scoring = ScoringConfig{
		MissedDelta:  p.optionalInt("SCORING_MISSED_DELTA", -15),
		MissedDelay:  p.duration("SCORING_MISSED_DELAY", 15*time.Minute),
		CallbackLead: p.duration("SCORING_CALLBACK_LEAD", 30*time.Minute),
	}

	c.Hours.File = strings.TrimSpace(os.Getenv("BUSINESS_HOURS_FILE"))

	c.Events = EventsConfig{
		Sink:         strings.ToLower(strings.TrimSpace(os.Getenv("EVENTS_SINK"))),
		MQTTBroker:   strings.TrimSpace(os.Getenv("MQTT_BROKER")),
		MQTTClientID: strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID")),
		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		TopicPrefix:  strings.TrimSpace(os.Getenv("EVENTS_TOPIC_PREFIX")),
	}

	if err := joinErrors(p.errs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the config and fills defaults that depend on other fields.
//
// Postgres and Redis are optional in local and dev: with no DB_HOST the
// process runs on in-memory stores, and with no REDIS_HOST the queue must
// use the memory backend.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		if !c.IsLocal() {
			errs = append(errs, errors.New("DB_HOST is required outside local/dev"))
		}
	} else {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	if c.Redis.Host == "" {
		if !c.IsLocal() {
			errs = append(errs, errors.New("REDIS_HOST is required outside local/dev"))
		}
	} else if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Twilio.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL is required"))
	} else if !strings.HasPrefix(c.Twilio.PublicBaseURL, "http://") && !strings.HasPrefix(c.Twilio.PublicBaseURL, "https://") {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be absolute, got %q", c.Twilio.PublicBaseURL))
	}
	if c.Twilio.ValidateSignature && c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required when TWILIO_VALIDATE_SIGNATURE is on"))
	}
	if c.IsProduction() && !c.Twilio.ValidateSignature {
		errs = append(errs, errors.New("TWILIO_VALIDATE_SIGNATURE cannot be disabled in production"))
	}

	r := &c.Routing
	if r.QueueBackend == "" {
		if c.Redis.Host == "" {
			r.QueueBackend = QueueBackendMemory
		} else {
			r.QueueBackend = QueueBackendRedis
		}
	}
	switch r.QueueBackend {
	case QueueBackendMemory:
	case QueueBackendRedis:
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("ROUTING_QUEUE_BACKEND=redis requires REDIS_HOST"))
		}
	default:
		errs = append(errs, fmt.Errorf("ROUTING_QUEUE_BACKEND must be memory or redis, got %q", r.QueueBackend))
	}
	if r.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("ROUTING_QUEUE_CAPACITY must be positive, got %d", r.QueueCapacity))
	}
	if r.Candidates <= 0 {
		errs = append(errs, fmt.Errorf("ROUTING_CANDIDATES must be positive, got %d", r.Candidates))
	}
	if r.MinReadiness < 0 || r.MinReadiness > 100 {
		errs = append(errs, fmt.Errorf("ROUTING_MIN_READINESS must be within 0..100, got %d", r.MinReadiness))
	}
	for name, d := range map[string]time.Duration{
		"ROUTING_HEARTBEAT_INTERVAL": r.HeartbeatInterval,
		"ROUTING_PROBE_TIMEOUT":      r.ProbeTimeout,
		"ROUTING_VALIDATION_TIMEOUT": r.ValidationTimeout,
		"ROUTING_READINESS_TTL":      r.ReadinessTTL,
		"ROUTING_DISPATCH_INTERVAL":  r.DispatchInterval,
		"ROUTING_SESSION_TIMEOUT":    r.SessionTimeout,
		"ROUTING_LOOKUP_TIMEOUT":     r.LookupTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if r.SessionTimeout > 0 && r.HeartbeatInterval > 0 && r.SessionTimeout <= r.HeartbeatInterval {
		errs = append(errs, errors.New("ROUTING_SESSION_TIMEOUT must be greater than ROUTING_HEARTBEAT_INTERVAL"))
	}

	if c.Scoring.MissedDelta > 0 {
		errs = append(errs, fmt.Errorf("SCORING_MISSED_DELTA must not be positive, got %d", c.Scoring.MissedDelta))
	}
	if c.Scoring.MissedDelay < 0 || c.Scoring.CallbackLead < 0 {
		errs = append(errs, errors.New("SCORING_MISSED_DELAY and SCORING_CALLBACK_LEAD must not be negative"))
	}

	e := &c.Events
	if e.Sink == "" {
		e.Sink = EventsSinkNone
	}
	if e.TopicPrefix == "" {
		e.TopicPrefix = "dialer"
	}
	switch e.Sink {
	case EventsSinkNone:
	case EventsSinkMQTT:
		if e.MQTTBroker == "" {
			errs = append(errs, errors.New("MQTT_BROKER is required for EVENTS_SINK=mqtt"))
		}
		if e.MQTTClientID == "" {
			e.MQTTClientID = "claims-dialer"
		}
	case EventsSinkKafka:
		if len(e.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for EVENTS_SINK=kafka"))
		}
	default:
		errs = append(errs, fmt.Errorf("EVENTS_SINK must be one of none, mqtt, kafka, got %q", e.Sink))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// IsLocal is true for local and dev.
func (c Config) IsLocal() bool {
	return c.App.Env == "local" || c.App.Env == "dev"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// parser collects env parse errors so Load reports them all at once.
type parser struct {
	errs []error
}

func (p *parser) requiredInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		p.errs = append(p.errs, fmt.Errorf("%s is required", key))
		return 0
	}
	return p.parseInt(key, v)
}

func (p *parser) optionalInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return p.parseInt(key, v)
}

func (p *parser) parseInt(key, v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return 0
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a duration, got %q", key, v))
		return 0
	}
	return d
}

func (p *parser) boolean(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
		return def
	}
	return b
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
