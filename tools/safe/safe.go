package safe

import (
	"PPRelay/logger"
	"PPRelay/tools/errs"

	"go.uber.org/zap"
)

// DefaultString returns the dereferenced value of a string pointer,
// or the fallback if the pointer is nil.
func DefaultString(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

// DefaultInt returns the dereferenced value of an int pointer,
// or the fallback if the pointer is nil.
func DefaultInt(i *int, fallback int) int {
	if i == nil {
		return fallback
	}
	return *i
}

// Recover is meant to be deferred. It logs a recovered panic under name and
// stores it in *errp when errp is non-nil.
func Recover(name string, errp *error) {
	if r := recover(); r != nil {
		err := errs.ErrPanic(r)
		logger.Error("[SafeGo] panic recovered", zap.String("where", name), zap.Error(err))
		if errp != nil {
			*errp = err
		}
	}
}

// SafeGo starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func SafeGo(name string, f func()) {
	go func() {
		defer Recover(name, nil)
		f()
	}()
}
