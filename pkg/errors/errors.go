package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error представляет кастомную ошибку с дополнительной информацией.
// Message отдается клиенту как есть, поэтому должен быть пользовательским текстом.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

// ErrorCode представляет код ошибки
type ErrorCode string

// Определение кодов ошибок
const (
	ErrNotFound        ErrorCode = "NOT_FOUND"
	ErrValidation      ErrorCode = "VALIDATION_ERROR"
	ErrUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrForbidden       ErrorCode = "FORBIDDEN"
	ErrInternal        ErrorCode = "INTERNAL_ERROR"
	ErrConflict        ErrorCode = "CONFLICT"
	ErrTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
)

// errorDomain домен для gRPC ErrorInfo
const errorDomain = "cerberus.auth"

// Error возвращает сообщение об ошибке
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap возвращает причину ошибки
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду
func (e *Error) Is(target error) bool {
	if targetError, ok := target.(*Error); ok {
		return e.Code == targetError.Code
	}
	return false
}

// New создает новую кастомную ошибку
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap оборачивает существующую ошибку в кастомную
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WithDetails возвращает копию ошибки с деталями
func (e *Error) WithDetails(details string) *Error {
	if e == nil {
		return nil
	}
	copied := *e
	copied.Details = details
	return &copied
}

// Validation создает ошибку валидации (400)
func Validation(message string) *Error { return New(ErrValidation, message) }

// Unauthorized создает ошибку аутентификации (401)
func Unauthorized(message string) *Error { return New(ErrUnauthorized, message) }

// Forbidden создает ошибку авторизации (403)
func Forbidden(message string) *Error { return New(ErrForbidden, message) }

// NotFound создает ошибку отсутствия ресурса (404)
func NotFound(message string) *Error { return New(ErrNotFound, message) }

// Conflict создает ошибку конфликта уникальности (409)
func Conflict(message string) *Error { return New(ErrConflict, message) }

// TooManyRequests создает ошибку превышения лимита (429)
func TooManyRequests(message string) *Error { return New(ErrTooManyRequests, message) }

// Internal оборачивает неожиданную ошибку как внутреннюю (500)
func Internal(err error) *Error {
	return &Error{Code: ErrInternal, Message: "Internal server error", Cause: err}
}

// FromError извлекает *Error из цепочки ошибок
func FromError(err error) (*Error, bool) {
	var customErr *Error
	if stderrors.As(err, &customErr) {
		return customErr, true
	}
	return nil, false
}

// HasCode проверяет, что в цепочке есть ошибка с указанным кодом
func HasCode(err error, code ErrorCode) bool {
	customErr, ok := FromError(err)
	return ok && customErr.Code == code
}

// HTTPStatus возвращает соответствующий HTTP статус для ошибки
func (e *Error) HTTPStatus() int {
	if e == nil {
		return http.StatusOK
	}

	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrValidation:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict:
		return http.StatusConflict
	case ErrTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// grpcCode переводит код ошибки в код gRPC
func (e *Error) grpcCode() codes.Code {
	switch e.Code {
	case ErrNotFound:
		return codes.NotFound
	case ErrValidation:
		return codes.InvalidArgument
	case ErrUnauthorized:
		return codes.Unauthenticated
	case ErrForbidden:
		return codes.PermissionDenied
	case ErrConflict:
		return codes.AlreadyExists
	case ErrTooManyRequests:
		return codes.ResourceExhausted
	case ErrInternal:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// ToGRPCErr переводит кастомную ошибку в gRPC статус
func (e *Error) ToGRPCErr() error {
	if e == nil {
		return nil
	}

	st := status.New(e.grpcCode(), e.Message)

	// Код ошибки и детали передаются через стандартный ErrorInfo
	info := &errdetails.ErrorInfo{
		Reason: string(e.Code),
		Domain: errorDomain,
	}
	if e.Details != "" {
		info.Metadata = map[string]string{"details": e.Details}
	}
	if withDetails, err := st.WithDetails(info); err == nil {
		st = withDetails
	}

	return st.Err()
}

// FromGRPCErr преобразует gRPC ошибку в кастомную ошибку
func FromGRPCErr(err error) *Error {
	if err == nil {
		return nil
	}

	grpcStatus, ok := status.FromError(err)
	if !ok {
		return Internal(err)
	}

	var code ErrorCode
	switch grpcStatus.Code() {
	case codes.NotFound:
		code = ErrNotFound
	case codes.InvalidArgument:
		code = ErrValidation
	case codes.Unauthenticated:
		code = ErrUnauthorized
	case codes.PermissionDenied:
		code = ErrForbidden
	case codes.AlreadyExists:
		code = ErrConflict
	case codes.ResourceExhausted:
		code = ErrTooManyRequests
	default:
		code = ErrInternal
	}

	result := &Error{Code: code, Message: grpcStatus.Message()}
	for _, detail := range grpcStatus.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok {
			result.Details = info.GetMetadata()["details"]
		}
	}
	return result
}

// Body тело JSON ответа с ошибкой
type Body struct {
	Error string `json:"error"`
}

// WriteJSON отправляет ошибку клиенту в виде {"error": "..."}
func WriteJSON(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())

	message := err.Message
	if err.Code == ErrInternal {
		message = "Internal server error"
	}
	_ = json.NewEncoder(w).Encode(Body{Error: message})
}
