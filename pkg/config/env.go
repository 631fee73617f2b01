package config

const (
	EnvMongoURI          = "MONGO_URI"
	EnvMongoDatabaseName = "MONGO_DATABASE_NAME"
	EnvMongoConnTimeout  = "MONGO_CONN_TIMEOUT"

	EnvPort     = "PORT"
	EnvLogLevel = "LOG_LEVEL"
	EnvEnvFile  = "ENV_FILE"

	EnvRateLimitRequests = "RATE_LIMIT_REQUESTS"
	EnvRateLimitWindow   = "RATE_LIMIT_WINDOW"

	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvIdempotencyTTL = "IDEMPOTENCY_TTL"
	EnvMaxRequestSize = "MAX_REQUEST_SIZE"

	EnvReadTimeout     = "READ_TIMEOUT"
	EnvWriteTimeout    = "WRITE_TIMEOUT"
	EnvIdleTimeout     = "IDLE_TIMEOUT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"

	EnvReservationTTL         = "RESERVATION_TTL"
	EnvExtensionPaymentWindow = "EXTENSION_PAYMENT_WINDOW"
	EnvMonthlyRate            = "MONTHLY_RATE"
	EnvFleetTimezone          = "FLEET_TIMEZONE"

	EnvDailyUsageLimit   = "DAILY_USAGE_LIMIT"
	EnvFirstSessionLimit = "FIRST_SESSION_LIMIT"
	EnvSessionCooldown   = "SESSION_COOLDOWN"

	EnvReservationSweepInterval = "RESERVATION_SWEEP_INTERVAL"
	EnvExtensionSweepInterval   = "EXTENSION_SWEEP_INTERVAL"
	EnvEndOfTermSweepInterval   = "END_OF_TERM_SWEEP_INTERVAL"
	EnvOveruseSweepInterval     = "OVERUSE_SWEEP_INTERVAL"
	EnvAlmostEndWindow          = "ALMOST_END_WINDOW"

	EnvKafkaEnabled             = "KAFKA_ENABLED"
	EnvNotificationTopic        = "NOTIFICATION_TOPIC"
	EnvDeviceCommandTopic       = "DEVICE_COMMAND_TOPIC"
	EnvPaymentVerificationTopic = "PAYMENT_VERIFICATION_TOPIC"
	EnvPaymentConsumerGroup     = "PAYMENT_CONSUMER_GROUP"
	EnvDLQTopic                 = "DLQ_TOPIC"
)
