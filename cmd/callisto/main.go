// Callisto is a protocol-translating gateway for Anthropic-style Messages
// clients backed by a pool of Google accounts.
//
// It accepts Messages API requests, translates them to the upstream
// generate protocol, and streams translated responses back, providing:
//   - Pooled account selection with per-model rate-limit cooldowns
//   - Retry and failover across accounts and upstream endpoints
//   - Bidirectional protocol and stream translation
//   - Cross-family thinking-signature tracking
//   - Optional per-request usage accounting
//
// Usage:
//
//	# Start the gateway with default configuration
//	callisto run
//
//	# Start with a custom configuration file
//	callisto run --config /path/to/config.yaml
//
//	# Validate configuration and the account store
//	callisto validate
//
//	# Inspect the account pool
//	callisto accounts list
//
//	# Check that every account can authenticate
//	callisto accounts verify
//
//	# Summarize recorded usage
//	callisto usage --since 24h
package main

func main() {
	Execute()
}
