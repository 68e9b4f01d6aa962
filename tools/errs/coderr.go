package errs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	AuthFailed   = 1001 // 账号不存在 / 密码错误 / 用户名重复
	Validation   = 1002 // 帧格式错误
	Persistence  = 1003 // 存储网关调用失败
	NotFound     = 1004
	Duplicate    = 1005
	Unauthorized = 1006 // 未登录连接发送业务事件

	ServerInternalError = 1500
)

var (
	ErrAuthFailed   = NewCodeError(AuthFailed, "AuthFailed")
	ErrValidation   = NewCodeError(Validation, "ValidationFailed")
	ErrPersistence  = NewCodeError(Persistence, "PersistenceFailed")
	ErrNotFound     = NewCodeError(NotFound, "RecordNotFound")
	ErrDuplicate    = NewCodeError(Duplicate, "RecordIsExist")
	ErrUnauthorized = NewCodeError(Unauthorized, "Unauthorized")
	ErrInternal     = NewCodeError(ServerInternalError, "ServerInternalError")
)

type CodeErrorI interface {
	ECode() int
	EMsg() string
	DDetail() string
	WithDetail(detail string) CodeError
	error
}

func NewCodeError(code int, msg string) CodeError {
	return CodeError{
		Code: code,
		Msg:  msg,
	}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e CodeError) ECode() int      { return e.Code }
func (e CodeError) EMsg() string    { return e.Msg }
func (e CodeError) DDetail() string { return e.Detail }

func (e CodeError) WithDetail(detail string) CodeError {
	var d string
	if e.Detail == "" {
		d = detail
	} else {
		d = e.Detail + ", " + detail
	}
	return CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: d,
	}
}

// Wrap attaches a stack trace.
func (e CodeError) Wrap() error {
	return errors.WithStack(e)
}

// WrapMsg appends msg and key/value pairs to the detail and attaches a stack trace.
func (e CodeError) WrapMsg(msg string, kv ...any) error {
	retErr := e
	if msg != "" || len(kv) > 0 {
		retErr = e.WithDetail(toString(msg, kv))
	}
	return errors.WithStack(retErr)
}

// Is reports whether err carries a CodeError with the same code.
func (e CodeError) Is(err error) bool {
	var codeErr CodeError
	if !errors.As(err, &codeErr) {
		return false
	}
	return codeErr.Code == e.Code
}

const initialCapacity = 3

func (e CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)

	if e.Detail != "" {
		v = append(v, e.Detail)
	}

	return strings.Join(v, " ")
}

// Code extracts the code of the first CodeError in err's chain, or 0.
func Code(err error) int {
	var codeErr CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Code
	}
	return 0
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, toString(msg, kv))
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
