// Package logx is sprinklerd's structured logging on top of zerolog.
//
// Console output is human readable with a short file:line caller while the
// file sink writes JSON lines. A Service swaps level and sinks at runtime
// and Throttle keeps per-tick warnings from flooding the log.
package logx
