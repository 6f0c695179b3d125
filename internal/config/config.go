package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// KeyMessageOutboxParam is the parameter key holding the work-item slot of the
// message outbox identifier.
const KeyMessageOutboxParam = "email_messenger.param.message_outbox_id"

// Queue backends.
const (
	QueueBackendKafka = "kafka"
	QueueBackendRedis = "redis"
)

// Config captures all runtime configuration for the email messenger worker.
type Config struct {
	App       AppConfig
	Queue     QueueConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
	Providers ProviderConfig
	Tracker   TrackerConfig
	Metrics   MetricsConfig
	Params    Params
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

// QueueConfig controls how work items are pulled and re-invoked.
type QueueConfig struct {
	Backend            string
	MsgMaxBytes        int
	WorkerConcurrency  int
	MaxAttempts        int
	BaseBackoffSeconds int
	MaxBackoffSeconds  int
}

// KafkaConfig defines broker information and topics.
type KafkaConfig struct {
	Brokers             []string
	WorkTopic           string
	StatusTopic         string
	DLQTopic            string
	ConsumerGroup       string
	CommitOnSuccessOnly bool
}

// RedisConfig locates the Redis list used as a work queue.
type RedisConfig struct {
	Addr               string
	Password           string
	DB                 int
	QueueKey           string
	PollTimeoutSeconds int
}

// PostgresConfig holds the payload store connection string.
type PostgresConfig struct {
	DSN string
}

// SMTPConfig stores SMTP credentials for email delivery.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// ProviderConfig wraps configuration for the direct delivery provider.
type ProviderConfig struct {
	EmailProvider          string
	SMTP                   SMTPConfig
	ProviderTimeoutSeconds int
	RawBodyLimit           int
	RecipientsMax          int
	SubjectMaxLen          int
	BodyMaxBytes           int
}

// TrackerConfig locates the email tracker tool's SQS intake queue.
type TrackerConfig struct {
	QueueURL string
	Region   string
	Endpoint string
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// Params holds integer process parameters addressed by key. It is read-only
// after Load.
type Params map[string]int

// Int returns the value stored under key.
func (p Params) Int(key string) (int, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("config: parameter %q is not configured", key)
	}
	return v, nil
}

// Load reads environment variables, applies defaults, validates required
// values and returns a populated Config instance.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.Port = ldr.getInt("APP_PORT", 8080, false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.Queue.Backend = strings.ToLower(ldr.getString("QUEUE_BACKEND", QueueBackendKafka, false))
	cfg.Queue.MsgMaxBytes = ldr.getInt("MSG_MAX_BYTES", 64000, false)
	cfg.Queue.WorkerConcurrency = ldr.getInt("WORKER_CONCURRENCY", 10, false)
	cfg.Queue.MaxAttempts = ldr.getInt("MAX_ATTEMPTS", 3, false)
	cfg.Queue.BaseBackoffSeconds = ldr.getInt("BASE_BACKOFF_SECONDS", 10, false)
	cfg.Queue.MaxBackoffSeconds = ldr.getInt("MAX_BACKOFF_SECONDS", 120, false)

	useKafka := cfg.Queue.Backend == QueueBackendKafka
	useRedis := cfg.Queue.Backend == QueueBackendRedis
	if !useKafka && !useRedis {
		ldr.addError(fmt.Sprintf("QUEUE_BACKEND must be %q or %q", QueueBackendKafka, QueueBackendRedis))
	}

	// The status and DLQ topics are always published to, whatever the queue backend.
	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", true)
	cfg.Kafka.WorkTopic = ldr.getString("KAFKA_WORK_TOPIC", "", useKafka)
	cfg.Kafka.StatusTopic = ldr.getString("KAFKA_STATUS_TOPIC", "", true)
	cfg.Kafka.DLQTopic = ldr.getString("KAFKA_DLQ_TOPIC", "", true)
	cfg.Kafka.ConsumerGroup = ldr.getString("KAFKA_CONSUMER_GROUP", "", useKafka)
	cfg.Kafka.CommitOnSuccessOnly = ldr.getBool("COMMIT_ON_SUCCESS_ONLY", true, false)

	cfg.Redis.Addr = ldr.getString("REDIS_ADDR", "", useRedis)
	cfg.Redis.Password = ldr.getString("REDIS_PASSWORD", "", false)
	cfg.Redis.DB = ldr.getInt("REDIS_DB", 0, false)
	cfg.Redis.QueueKey = ldr.getString("REDIS_QUEUE_KEY", "email-messenger:queue", false)
	cfg.Redis.PollTimeoutSeconds = ldr.getInt("REDIS_POLL_TIMEOUT_SECONDS", 5, false)

	cfg.Postgres.DSN = ldr.getString("POSTGRES_DSN", "", true)

	cfg.Providers.EmailProvider = strings.ToLower(ldr.getString("EMAIL_PROVIDER", "mock", false))
	useSMTP := cfg.Providers.EmailProvider == "smtp"
	cfg.Providers.SMTP.Host = ldr.getString("SMTP_HOST", "", useSMTP)
	cfg.Providers.SMTP.Port = ldr.getInt("SMTP_PORT", 0, useSMTP)
	cfg.Providers.SMTP.User = ldr.getString("SMTP_USER", "", false)
	cfg.Providers.SMTP.Pass = ldr.getString("SMTP_PASS", "", false)
	cfg.Providers.SMTP.From = ldr.getString("SMTP_FROM", "", useSMTP)
	cfg.Providers.ProviderTimeoutSeconds = ldr.getInt("PROVIDER_TIMEOUT_SECONDS", 30, false)
	cfg.Providers.RawBodyLimit = ldr.getInt("PROVIDER_RAW_BODY_LIMIT", 1024, false)
	cfg.Providers.RecipientsMax = ldr.getInt("RECIPIENTS_MAX", 50, false)
	cfg.Providers.SubjectMaxLen = ldr.getInt("SUBJECT_MAX_LEN", 255, false)
	cfg.Providers.BodyMaxBytes = ldr.getInt("BODY_MAX_BYTES", 100000, false)

	cfg.Tracker.QueueURL = ldr.getString("TRACKER_QUEUE_URL", "", false)
	cfg.Tracker.Region = ldr.getString("TRACKER_AWS_REGION", "", false)
	cfg.Tracker.Endpoint = ldr.getString("TRACKER_AWS_ENDPOINT", "", false)

	cfg.Metrics.Enabled = ldr.getBool("METRICS_ENABLED", true, false)
	cfg.Metrics.Path = ldr.getString("METRICS_PATH", "/metrics", false)

	cfg.Params = Params{
		KeyMessageOutboxParam: ldr.getInt("EMAIL_MESSENGER_PARAM_MESSAGE_OUTBOX_ID", 1, false),
	}

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) lookup(key string, required bool) (string, bool) {
	val, ok := os.LookupEnv(key)
	val = strings.TrimSpace(val)
	if !ok || val == "" {
		if required {
			l.addError(fmt.Sprintf("%s is required", key))
		}
		return "", false
	}
	return val, true
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := l.lookup(key, required); ok {
		return val
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid integer", key))
		return def
	}
	return i
}

func (l *envLoader) getBool(key string, def bool, required bool) bool {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid boolean", key))
		return def
	}
	return parsed
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		if required {
			return nil
		}
		return []string{}
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
