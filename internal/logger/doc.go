// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger writing console or JSON entries,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - per-context verbose output that bypasses the global level,
//   - level and format parsing utilities,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// All services accept a context and extract the logger from it, enabling
// scoped, structured logging throughout the codebase.
package logger
