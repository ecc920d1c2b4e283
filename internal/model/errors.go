package model

import "errors"

// Registry error kinds. Callers match them with errors.Is; every error
// returned by the store and the registry service wraps one of these.
var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateName       = errors.New("duplicate name")
	ErrDuplicateCode       = errors.New("duplicate code")
	ErrInUse               = errors.New("in use")
	ErrInvalidConfig       = errors.New("invalid config")
	ErrInvalidInput        = errors.New("invalid input")
	ErrTransient           = errors.New("transient failure")
	ErrGenerationExhausted = errors.New("code generation exhausted")
)

// Stable numeric error codes exposed by the transports.
const (
	CodeOK                  = 0
	CodeInternal            = 10000
	CodeInvalidInput        = 10001
	CodeNotFound            = 10002
	CodeDuplicateName       = 10003
	CodeDuplicateCode       = 10004
	CodeInUse               = 10005
	CodeInvalidConfig       = 10006
	CodeTransient           = 10007
	CodeGenerationExhausted = 10008
)

var errorCodes = []struct {
	err  error
	code int
	name string
}{
	{ErrNotFound, CodeNotFound, "NotFound"},
	{ErrDuplicateName, CodeDuplicateName, "DuplicateName"},
	{ErrDuplicateCode, CodeDuplicateCode, "DuplicateCode"},
	{ErrInUse, CodeInUse, "InUse"},
	{ErrInvalidConfig, CodeInvalidConfig, "InvalidConfig"},
	{ErrInvalidInput, CodeInvalidInput, "InvalidInput"},
	{ErrTransient, CodeTransient, "Transient"},
	{ErrGenerationExhausted, CodeGenerationExhausted, "GenerationExhausted"},
}

// ErrorCode returns the stable code and name for err. Errors that wrap
// none of the registry kinds map to CodeInternal.
func ErrorCode(err error) (int, string) {
	if err == nil {
		return CodeOK, "OK"
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code, ec.name
		}
	}
	return CodeInternal, "Internal"
}

// ErrorForCode is the inverse of ErrorCode, used by clients to rebuild a
// matchable error from a transport response.
func ErrorForCode(code int) error {
	for _, ec := range errorCodes {
		if ec.code == code {
			return ec.err
		}
	}
	return nil
}
