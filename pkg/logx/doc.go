// Package logx wraps zerolog behind a small, hot-reloadable facade.
//
// Components hold a Logger value; the Service owns the sinks (console, file)
// and can swap level/outputs at runtime without invalidating held loggers.
package logx
