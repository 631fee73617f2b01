package config

import "time"

const (
	DefaultMongoURI          = "mongodb://localhost:27017"
	DefaultMongoDatabaseName = "rover"
	DefaultMongoConnTimeout  = 10 * time.Second

	DefaultPort     = "8080"
	DefaultLogLevel = "info"

	DefaultRateLimitRequests = 30
	DefaultRateLimitWindow   = 1 * time.Minute

	DefaultRequestTimeout = 30 * time.Second
	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultMaxRequestSize = 1 * 1024 * 1024 // 1MB

	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultReservationTTL         = 30 * time.Second
	DefaultExtensionPaymentWindow = 24 * time.Hour
	DefaultMonthlyRate            = 100000
	DefaultFleetTimezone          = "Asia/Jakarta"

	DefaultDailyUsageLimit   = 8 * time.Hour
	DefaultFirstSessionLimit = 4 * time.Hour
	DefaultSessionCooldown   = 1 * time.Hour

	DefaultReservationSweepInterval = 10 * time.Second
	DefaultExtensionSweepInterval   = 30 * time.Second
	DefaultEndOfTermSweepInterval   = 24 * time.Hour
	DefaultOveruseSweepInterval     = 1 * time.Minute
	DefaultAlmostEndWindow          = 72 * time.Hour

	DefaultKafkaEnabled             = true
	DefaultNotificationTopic        = "rental-notifications"
	DefaultDeviceCommandTopic       = "device-commands"
	DefaultPaymentVerificationTopic = "payment-verifications"
	DefaultPaymentConsumerGroup     = "rentals-payment-consumer"
	DefaultDLQTopic                 = "dlq-rentals"

	DefaultPaginationLimit = 100
)
