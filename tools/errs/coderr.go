package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// CodeError 是协议层可见的错误：Code 为数字码，Msg 为错误种类，Detail 为描述。
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{
		Code: code,
		Msg:  msg,
	}
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	ret := e.clone()
	if ret.Detail == "" {
		ret.Detail = detail
	} else {
		ret.Detail += ", " + detail
	}
	return ret
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: e.Detail,
	}
}

// Wrap returns a copy of e carrying a stack trace.
func (e *CodeError) Wrap() error {
	return pkgerrors.WithStack(e.clone())
}

// WrapMsg returns a copy of e with msg and the key/value pairs appended to Detail.
func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	ret := e.clone()
	if msg != "" || len(kv) > 0 {
		detail := toString(msg, kv)
		if ret.Detail == "" {
			ret.Detail = detail
		} else {
			ret.Detail += ", " + detail
		}
	}
	return pkgerrors.WithStack(ret)
}

// Is reports whether target carries the same code, so
// errors.Is(err, errs.ErrNotFound) matches wrapped copies.
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) {
		return false
	}
	if e == nil || t == nil {
		return e == t
	}
	return e.Code == t.Code
}

// Message is the text shown to clients: Detail when present, otherwise Msg.
func (e *CodeError) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Msg
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// AsCode extracts the CodeError from err. Errors without one are reported
// as Internal with the original text as detail.
func AsCode(err error) *CodeError {
	if err == nil {
		return nil
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce
	}
	return ErrInternal.WithDetail(err.Error())
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			sb.WriteString("MISSING")
		}
	}
	return sb.String()
}
