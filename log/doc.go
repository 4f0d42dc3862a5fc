// Package log provides the leveled, printf-style logging used across the setting
// generation engine.
//
// Components accept a Logger in their options struct and fall back to the
// package-level logger when none is given:
//
//	logger := log.NewDefaultLogger(log.LogLevelDebug)
//	logger.Info("[session %s] round %d started", id, round)
//
// GologLogger adapts github.com/kataras/golog for binaries that want colored,
// leveled output:
//
//	l := log.NewGologLogger(golog.New())
//	l.SetLevel(log.ParseLevel(cfg.Log.Level))
//	log.SetDefaultLogger(l)
package log
