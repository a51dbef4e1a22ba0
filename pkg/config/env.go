package config

// EnvPrefix is the envconfig prefix shared by every setting.
const EnvPrefix = "SOKOHUB"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv    = "SOKOHUB_APP_ENV"
	EnvPort      = "SOKOHUB_APP_PORT"
	EnvDBDSN     = "SOKOHUB_DB_DSN"
	EnvDBHost    = "SOKOHUB_DB_HOST"
	EnvDBUser    = "SOKOHUB_DB_USER"
	EnvDBName    = "SOKOHUB_DB_NAME"
	EnvRedisURL  = "SOKOHUB_REDIS_URL"
	EnvJWTSecret = "SOKOHUB_JWT_SECRET"
	EnvJWTIssuer = "SOKOHUB_JWT_ISSUER"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
