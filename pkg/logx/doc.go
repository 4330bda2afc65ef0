// Package logx configures trendsched's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - console output readable (short timestamp and short caller), or JSON when
//     pretty output is turned off
//   - file output JSON-structured with a size cap
//   - loggers derived from the Service live across hot reloads
package logx
