// Package logger builds the structured log/slog logger shared by the gateway
// components: JSON output in production, human-readable text elsewhere.
package logger
