// Package config loads daemon configuration from ROLEGATE_* environment
// variables with envconfig and validates it.
//
// Store:
//
//	ROLEGATE_STORE_URL="postgres://rolegate@localhost/rolegate?sslmode=disable"
//	ROLEGATE_STORE_DIALECT="postgres"     # postgres or sqlite3
//	ROLEGATE_STORE_TIMEOUT="5s"           # bound on every store call
//
// Cache:
//
//	ROLEGATE_CACHE_BACKEND="memory"       # memory or redis
//	ROLEGATE_CACHE_TTL="15m"
//	ROLEGATE_CACHE_REDIS_URL="redis://localhost:6379/0"
//
// Sweeper and seeding:
//
//	ROLEGATE_SWEEP_SCHEDULE="@every 5m"
//	ROLEGATE_SEED_FILE="/etc/rolegate/seed.yaml"
//
// Server, audit and observability:
//
//	ROLEGATE_SERVER_ADDR=":8080"
//	ROLEGATE_SERVER_METRICS_ADDR=":9090"
//	ROLEGATE_AUDIT_DIR="/var/log/rolegate"
//	ROLEGATE_LOG_LEVEL="info"
//	ROLEGATE_OTEL_ENABLED="false"
//	ROLEGATE_OTEL_ENDPOINT="localhost:4317"
package config
