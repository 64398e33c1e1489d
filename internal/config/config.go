package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth"     validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue"    validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// AuthConfig contains authentication settings for the two caller
// populations: interactive users (JWT bearer tokens) and the external
// worker pool (a shared key checked against a bcrypt hash).
type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwt_secret"      validate:"required,min=32"`
	WorkerKeyHash string `mapstructure:"worker_key_hash" validate:"required"`
}

// QueueConfig contains task-queue tuning settings.
// DefaultPriority and DefaultThreshold are the producer-side defaults
// applied when an enqueue request does not choose values; ClaimRetries
// bounds the transparent retry loop on claim conflicts.
type QueueConfig struct {
	DefaultPriority  int `mapstructure:"default_priority"  validate:"gte=0"`
	DefaultThreshold int `mapstructure:"default_threshold" validate:"gte=1"`
	ClaimRetries     int `mapstructure:"claim_retries"     validate:"gte=1"`
}
