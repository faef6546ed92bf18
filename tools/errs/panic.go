package errs

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrPanic turns a recovered value into an Internal error carrying the value
// as Detail, or nil when nothing was recovered. The dispatcher and the HTTP
// recovery middleware report it to the client; the event bus only logs it.
// Either way the connection stays up.
func ErrPanic(r any) error {
	if r == nil {
		return nil
	}
	return pkgerrors.WithStack(&CodeError{
		Code:   ServerInternalError,
		Msg:    ErrInternal.Msg,
		Detail: fmt.Sprint(r),
	})
}
