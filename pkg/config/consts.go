package config

// EnvPrefix is the envconfig prefix shared by every setting.
const EnvPrefix = "BAZARIKA"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

// Environment variable names, kept in one place so tests and deploy tooling
// reference the same strings.
const (
	EnvAppEnv   = "BAZARIKA_APP_ENV"
	EnvPort     = "BAZARIKA_APP_PORT"
	EnvLogLevel = "BAZARIKA_LOG_LEVEL"

	EnvDBDSN      = "BAZARIKA_DB_DSN"
	EnvDBHost     = "BAZARIKA_DB_HOST"
	EnvDBPort     = "BAZARIKA_DB_PORT"
	EnvDBUser     = "BAZARIKA_DB_USER"
	EnvDBPassword = "BAZARIKA_DB_PASSWORD"
	EnvDBName     = "BAZARIKA_DB_NAME"
	EnvDBSSLMode  = "BAZARIKA_DB_SSLMODE"

	EnvRedisURL = "BAZARIKA_REDIS_URL"

	EnvJWTSecret  = "BAZARIKA_JWT_SECRET"
	EnvJWTIssuer  = "BAZARIKA_JWT_ISSUER"
	EnvJWTExpMins = "BAZARIKA_JWT_EXPIRATION_MINUTES"

	EnvGatewayStoreID   = "BAZARIKA_GATEWAY_STORE_ID"
	EnvGatewayStorePass = "BAZARIKA_GATEWAY_STORE_PASSWORD"
	EnvGatewayBaseURL   = "BAZARIKA_GATEWAY_BASE_URL"

	EnvGCPProjectID      = "BAZARIKA_GCP_PROJECT_ID"
	EnvPubSubOrdersTopic = "BAZARIKA_PUBSUB_ORDERS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
