// Package logx configures taskmgr's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured and size-rotated
//   - The zero value usable as a no-op, so library code can log unconditionally
package logx
