package safe

import (
	"fmt"
	"reflect"
	"runtime/debug"

	"github.com/ys7zTS/sandbox/logger"
	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
// Useful for enforcing required dependencies during construction.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

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

// DefaultBool returns the dereferenced value of a bool pointer,
// or the fallback if the pointer is nil.
func DefaultBool(b *bool, fallback bool) bool {
	if b == nil {
		return fallback
	}
	return *b
}

// SafeGo starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func SafeGo(name string, f func()) {
	go func() {
		defer Recover(name)
		f()
	}()
}

// Recover logs a recovered panic. It must be called directly by defer.
func Recover(name string) {
	if r := recover(); r != nil {
		logger.Error("panic recovered",
			zap.String("goroutine", name),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()))
	}
}
