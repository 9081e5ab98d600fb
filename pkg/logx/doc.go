// Package logx configures listingbot's structured logging.
//
// Components log through logx.Logger, a small value type on top of zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON-structured
//   - An optional Telegram sink forwards WARN+ lines to an operator chat (rate limited)
package logx
