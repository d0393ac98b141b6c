package config

const (
	EnvPrefix = "SUBRADAR"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv       = "SUBRADAR_APP_ENV"
	EnvPort         = "SUBRADAR_APP_PORT"
	EnvDBDSN        = "SUBRADAR_DB_DSN"
	EnvDBHost       = "SUBRADAR_DB_HOST"
	EnvDBUser       = "SUBRADAR_DB_USER"
	EnvDBName       = "SUBRADAR_DB_NAME"
	EnvRedisURL     = "SUBRADAR_REDIS_URL"
	EnvJWTSecret    = "SUBRADAR_JWT_SECRET"
	EnvJWTIssuer    = "SUBRADAR_JWT_ISSUER"
	EnvUseSQLite    = "SUBRADAR_USE_SQLITE"
	EnvBankKeywords = "SUBRADAR_INGEST_BANK_KEYWORDS"
	EnvMergePrimary = "SUBRADAR_MERGE_PRIMARY_STRATEGY"
	EnvDedupeWindow = "SUBRADAR_INSIGHTS_DEDUPE_WINDOW"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
