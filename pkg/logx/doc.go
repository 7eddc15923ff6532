// Package logx configures taskmanager's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional alert sink for WARN+ records (min-level + rate limiting)
package logx
