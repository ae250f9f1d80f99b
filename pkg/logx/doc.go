// Package logx configures remindbot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured; this file is the operational log the
//     monitor scans and admins download or clear
//   - Optional Telegram sink to the operator chat (min-level + rate limiting)
package logx
