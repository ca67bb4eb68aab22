// Package logx is a small structured-logging facade over zerolog.
//
// It exists so the rest of the codebase never imports zerolog directly:
// components take a logx.Logger value, derive scoped loggers with With(),
// and the zero value is always safe to use.
package logx
