// Package config provides 12-factor configuration management for the session cloud.
//
// Configuration is loaded from environment variables with sensible defaults.
// Every lifecycle timing the cloud relies on (grace periods, heartbeats,
// display throttling, webhook retries) is tunable here so deployments can
// trade responsiveness against battery and network cost.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host, public websocket URL)
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//   - Session: Device session grace period and heartbeat cadence
//   - Apps: App connect timeout and reconnect grace period
//   - Subscriptions: Default locale and change journal bounds
//   - Display: Arbitration throttle, boot overlay, and lock timings
//   - Webhook: App webhook delivery timeout, retries, and backoff
//   - Catalog: App manifest directory
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST, PUBLIC_URL
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - SESSION_GRACE_PERIOD, SESSION_HEARTBEAT_INTERVAL, SESSION_HEARTBEAT_MISSES
//   - APP_CONNECT_TIMEOUT, APP_GRACE_PERIOD
//   - SUBSCRIPTION_DEFAULT_LOCALE, SUBSCRIPTION_HISTORY_LIMIT
//   - DISPLAY_THROTTLE_INTERVAL, DISPLAY_BOOT_DURATION, DISPLAY_LOCK_DURATION,
//     DISPLAY_LOCK_INACTIVE_TIMEOUT, DISPLAY_UNTIMED_LIFETIME
//   - WEBHOOK_TIMEOUT, WEBHOOK_RETRIES, WEBHOOK_BACKOFF
//   - CATALOG_DIR
package config
