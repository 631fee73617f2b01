package config

import (
	"fmt"
	"os"
	"regexp"
	"rover/pkg/client"
	"rover/pkg/logger"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI          string
	MongoDatabaseName string
	MongoConnTimeout  time.Duration

	Port string

	RateLimitRequests int
	RateLimitWindow   time.Duration

	RequestTimeout time.Duration
	IdempotencyTTL time.Duration
	MaxRequestSize int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	ReservationTTL         time.Duration
	ExtensionPaymentWindow time.Duration
	MonthlyRate            int64
	FleetTimezone          string
	Location               *time.Location

	DailyUsageLimit   time.Duration
	FirstSessionLimit time.Duration
	SessionCooldown   time.Duration

	ReservationSweepInterval time.Duration
	ExtensionSweepInterval   time.Duration
	EndOfTermSweepInterval   time.Duration
	OveruseSweepInterval     time.Duration
	AlmostEndWindow          time.Duration

	KafkaEnabled             bool
	NotificationTopic        string
	DeviceCommandTopic       string
	PaymentVerificationTopic string
	PaymentConsumerGroup     string
	DLQTopic                 string

	Log    *logger.Logger
	Client *client.Client
}

func Load(serviceName string) *Config {
	envFile := getEnvStr(EnvEnvFile, ".env")
	envErr := godotenv.Load(envFile)

	cfg := &Config{
		MongoURI:          getEnvStr(EnvMongoURI, DefaultMongoURI),
		MongoDatabaseName: getEnvStr(EnvMongoDatabaseName, DefaultMongoDatabaseName),
		MongoConnTimeout:  getEnvDuration(EnvMongoConnTimeout, DefaultMongoConnTimeout),

		Port: getEnvStr(EnvPort, DefaultPort),

		RateLimitRequests: getEnvNum(EnvRateLimitRequests, DefaultRateLimitRequests),
		RateLimitWindow:   getEnvDuration(EnvRateLimitWindow, DefaultRateLimitWindow),

		RequestTimeout: getEnvDuration(EnvRequestTimeout, DefaultRequestTimeout),
		IdempotencyTTL: getEnvDuration(EnvIdempotencyTTL, DefaultIdempotencyTTL),
		MaxRequestSize: getEnvNum(EnvMaxRequestSize, DefaultMaxRequestSize),

		ReadTimeout:     getEnvDuration(EnvReadTimeout, DefaultReadTimeout),
		WriteTimeout:    getEnvDuration(EnvWriteTimeout, DefaultWriteTimeout),
		IdleTimeout:     getEnvDuration(EnvIdleTimeout, DefaultIdleTimeout),
		ShutdownTimeout: getEnvDuration(EnvShutdownTimeout, DefaultShutdownTimeout),

		ReservationTTL:         getEnvDuration(EnvReservationTTL, DefaultReservationTTL),
		ExtensionPaymentWindow: getEnvDuration(EnvExtensionPaymentWindow, DefaultExtensionPaymentWindow),
		MonthlyRate:            int64(getEnvNum(EnvMonthlyRate, DefaultMonthlyRate)),
		FleetTimezone:          getEnvStr(EnvFleetTimezone, DefaultFleetTimezone),

		DailyUsageLimit:   getEnvDuration(EnvDailyUsageLimit, DefaultDailyUsageLimit),
		FirstSessionLimit: getEnvDuration(EnvFirstSessionLimit, DefaultFirstSessionLimit),
		SessionCooldown:   getEnvDuration(EnvSessionCooldown, DefaultSessionCooldown),

		ReservationSweepInterval: getEnvDuration(EnvReservationSweepInterval, DefaultReservationSweepInterval),
		ExtensionSweepInterval:   getEnvDuration(EnvExtensionSweepInterval, DefaultExtensionSweepInterval),
		EndOfTermSweepInterval:   getEnvDuration(EnvEndOfTermSweepInterval, DefaultEndOfTermSweepInterval),
		OveruseSweepInterval:     getEnvDuration(EnvOveruseSweepInterval, DefaultOveruseSweepInterval),
		AlmostEndWindow:          getEnvDuration(EnvAlmostEndWindow, DefaultAlmostEndWindow),

		KafkaEnabled:             getEnvBool(EnvKafkaEnabled, DefaultKafkaEnabled),
		NotificationTopic:        getEnvStr(EnvNotificationTopic, DefaultNotificationTopic),
		DeviceCommandTopic:       getEnvStr(EnvDeviceCommandTopic, DefaultDeviceCommandTopic),
		PaymentVerificationTopic: getEnvStr(EnvPaymentVerificationTopic, DefaultPaymentVerificationTopic),
		PaymentConsumerGroup:     getEnvStr(EnvPaymentConsumerGroup, DefaultPaymentConsumerGroup),
		DLQTopic:                 getEnvStr(EnvDLQTopic, DefaultDLQTopic),

		Log: logger.New(logger.Config{
			Level:     getEnvStr(EnvLogLevel, DefaultLogLevel),
			Format:    logger.JSON,
			AddSource: true,
			Service:   serviceName,
		}),
		Client: client.NewClient(),
	}

	if envErr != nil && !os.IsNotExist(envErr) {
		cfg.Log.Warn("Failed to load env file", "file", envFile, "error", envErr)
	}

	if err := cfg.Validate(); err != nil {
		cfg.Log.Fatal(err.Error())
	}
	cfg.LogConfiguration()
	return cfg
}

func (cfg *Config) SetMongo() {
	cfg.Client.SetMongo(cfg.Log, cfg.MongoURI, cfg.MongoConnTimeout)
}

// Validate checks every setting and resolves FleetTimezone into Location.
func (cfg *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("Port must be between 1 and 65535, got: %s", cfg.Port))
	}

	if cfg.MongoURI == "" {
		errors = append(errors, "MongoURI cannot be empty")
	} else if len(cfg.MongoURI) < 10 || !regexp.MustCompile(`^mongodb(\+srv)?://`).MatchString(cfg.MongoURI) {
		errors = append(errors, fmt.Sprintf("MongoURI must start with 'mongodb://' or 'mongodb+srv://', got: %s", redactMongoURI(cfg.MongoURI)))
	}
	if cfg.MongoDatabaseName == "" {
		errors = append(errors, "MongoDatabaseName cannot be empty")
	}

	positive := []struct {
		name  string
		value time.Duration
	}{
		{"MongoConnTimeout", cfg.MongoConnTimeout},
		{"RateLimitWindow", cfg.RateLimitWindow},
		{"RequestTimeout", cfg.RequestTimeout},
		{"IdempotencyTTL", cfg.IdempotencyTTL},
		{"ReadTimeout", cfg.ReadTimeout},
		{"WriteTimeout", cfg.WriteTimeout},
		{"IdleTimeout", cfg.IdleTimeout},
		{"ShutdownTimeout", cfg.ShutdownTimeout},
		{"ReservationTTL", cfg.ReservationTTL},
		{"ExtensionPaymentWindow", cfg.ExtensionPaymentWindow},
		{"SessionCooldown", cfg.SessionCooldown},
		{"ReservationSweepInterval", cfg.ReservationSweepInterval},
		{"ExtensionSweepInterval", cfg.ExtensionSweepInterval},
		{"EndOfTermSweepInterval", cfg.EndOfTermSweepInterval},
		{"OveruseSweepInterval", cfg.OveruseSweepInterval},
		{"AlmostEndWindow", cfg.AlmostEndWindow},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errors = append(errors, fmt.Sprintf("%s must be positive, got: %s", p.name, p.value))
		}
	}

	if cfg.FirstSessionLimit <= 0 || cfg.DailyUsageLimit <= cfg.FirstSessionLimit {
		errors = append(errors, fmt.Sprintf("DailyUsageLimit (%s) must be greater than FirstSessionLimit (%s) > 0", cfg.DailyUsageLimit, cfg.FirstSessionLimit))
	}
	if cfg.DailyUsageLimit > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("DailyUsageLimit cannot exceed 24h, got: %s", cfg.DailyUsageLimit))
	}

	if cfg.RateLimitRequests <= 0 {
		errors = append(errors, fmt.Sprintf("RateLimitRequests must be positive, got: %d", cfg.RateLimitRequests))
	}
	if cfg.MaxRequestSize <= 0 {
		errors = append(errors, fmt.Sprintf("MaxRequestSize must be positive, got: %d", cfg.MaxRequestSize))
	}
	if cfg.MonthlyRate <= 0 {
		errors = append(errors, fmt.Sprintf("MonthlyRate must be positive, got: %d", cfg.MonthlyRate))
	}

	if loc, err := time.LoadLocation(cfg.FleetTimezone); err != nil {
		errors = append(errors, fmt.Sprintf("FleetTimezone must be an IANA zone name, got: %s", cfg.FleetTimezone))
	} else {
		cfg.Location = loc
	}

	if cfg.KafkaEnabled {
		for name, topic := range map[string]string{
			"NotificationTopic":        cfg.NotificationTopic,
			"DeviceCommandTopic":       cfg.DeviceCommandTopic,
			"PaymentVerificationTopic": cfg.PaymentVerificationTopic,
			"PaymentConsumerGroup":     cfg.PaymentConsumerGroup,
		} {
			if topic == "" {
				errors = append(errors, fmt.Sprintf("%s cannot be empty when Kafka is enabled", name))
			}
		}
	}

	if len(errors) > 0 {
		errMsg := "Configuration validation failed:\n"
		for i, err := range errors {
			errMsg += fmt.Sprintf("  %d. %s\n", i+1, err)
		}
		return fmt.Errorf("%s", errMsg)
	}

	return nil
}

func (cfg *Config) LogConfiguration() {
	cfg.Log.Info("Configuration loaded successfully",
		"mongo_uri", redactMongoURI(cfg.MongoURI),
		"mongo_database", cfg.MongoDatabaseName,
		"mongo_conn_timeout", cfg.MongoConnTimeout,
		"port", cfg.Port,
		"rate_limit_requests", cfg.RateLimitRequests,
		"rate_limit_window", cfg.RateLimitWindow,
		"request_timeout", cfg.RequestTimeout,
		"idempotency_ttl", cfg.IdempotencyTTL,
		"max_request_size", cfg.MaxRequestSize,
		"read_timeout", cfg.ReadTimeout,
		"write_timeout", cfg.WriteTimeout,
		"idle_timeout", cfg.IdleTimeout,
		"shutdown_timeout", cfg.ShutdownTimeout,
		"reservation_ttl", cfg.ReservationTTL,
		"extension_payment_window", cfg.ExtensionPaymentWindow,
		"monthly_rate", cfg.MonthlyRate,
		"fleet_timezone", cfg.FleetTimezone,
		"daily_usage_limit", cfg.DailyUsageLimit,
		"first_session_limit", cfg.FirstSessionLimit,
		"session_cooldown", cfg.SessionCooldown,
		"reservation_sweep_interval", cfg.ReservationSweepInterval,
		"extension_sweep_interval", cfg.ExtensionSweepInterval,
		"end_of_term_sweep_interval", cfg.EndOfTermSweepInterval,
		"overuse_sweep_interval", cfg.OveruseSweepInterval,
		"almost_end_window", cfg.AlmostEndWindow,
		"kafka_enabled", cfg.KafkaEnabled,
	)
}

func redactMongoURI(uri string) string {
	credentialRegex := regexp.MustCompile(`(mongodb(\+srv)?://)[^:]+:[^@]+@`)
	return credentialRegex.ReplaceAllString(uri, "${1}***:***@")
}

func getEnvStr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvNum(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (cfg *Config) GracefulShutdown() {
	cfg.Client.GracefulShutdown(cfg.Log, cfg.ShutdownTimeout)
}

func NormalizePaginationLimit(limit int) int {
	if limit <= 0 {
		limit = 10
	} else if limit > DefaultPaginationLimit {
		limit = DefaultPaginationLimit
	}
	return limit
}

func NormalizeOffset(offset int64) int64 {
	return max(0, offset)
}
