package reactor

import "github.com/joeycumines/logiface"

// noopLogger is used whenever a Loop is constructed without WithLogger, so
// call sites never need a nil check.
var noopLogger = logiface.New[logiface.Event]().Logger()

func (l *Loop) logf() *logiface.Logger[logiface.Event] {
	if l.cfg.logger != nil {
		return l.cfg.logger
	}
	return noopLogger
}
