// Package config provides configuration management for cloudspend.
//
// This package handles loading configuration from YAML files, applying
// environment variable overrides, setting defaults, and validating the
// configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (highest priority)
//  2. YAML configuration file
//  3. Default values (lowest priority)
//
// Supported environment variables:
//   - CLOUDSPEND_LOG_LEVEL, CLOUDSPEND_LOG_FORMAT: logging (json or text)
//   - CLOUDSPEND_HTTP_PORT: HTTP server port (1-65535)
//   - CLOUDSPEND_API_TIMEOUT: Provider API timeout in seconds (max 300)
//   - CLOUDSPEND_STORE_DRIVER, CLOUDSPEND_STORE_DSN: persistence backend
//   - CLOUDSPEND_TASKS_WORKERS, CLOUDSPEND_TASKS_RETRY_DELAY, CLOUDSPEND_TASKS_MAX_RETRIES
//   - CLOUDSPEND_TASKS_BILLING_INTERVAL, CLOUDSPEND_TASKS_METRICS_INTERVAL: seconds, 0 disables
//
// Values of accounts[].data may reference the environment as ${VAR} so
// secrets stay out of the file.
//
// Example configuration file (config.yaml):
//
//	log_level: "info"
//	http_port: 8080
//	api_timeout: 30
//
//	store:
//	  driver: postgres
//	  dsn: "postgres://cloudspend@db/cloudspend?sslmode=disable"
//
//	tasks:
//	  workers: 4
//	  retry_delay: 60       # seconds
//	  max_retries: 3
//	  billing_interval: 86400
//	  metrics_interval: 3600
//
//	accounts:
//	  - name: "prod-aws"
//	    provider: "amazon"
//	    data:
//	      access_key: "AKIA..."
//	      secret_key: "${AWS_SECRET}"
//
// Example usage:
//
//	cfg, err := config.Load("config.yaml")
//	if err != nil {
//		log.Fatalf("Failed to load config: %v", err)
//	}
package config
