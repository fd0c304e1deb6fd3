package validation

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Validator проверяет входящие запросы по тегам `validate`
type Validator struct {
	validate *validator.Validate
}

// NewValidator создает новый Validator
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	// В сообщениях используем имена JSON полей
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return &Validator{validate: v}
}

// FieldError описывает первое нарушенное правило
type FieldError struct {
	Field string
	Tag   string
}

func (e *FieldError) Error() string {
	return e.Field + " failed on " + e.Tag
}

// Struct проверяет структуру и возвращает первую ошибку поля
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		return &FieldError{Field: fieldErrors[0].Field(), Tag: fieldErrors[0].Tag()}
	}
	return err
}

// IsEmail проверяет формат email адреса
func (v *Validator) IsEmail(email string) bool {
	return v.validate.Var(email, "required,email") == nil
}

// NormalizeEmail приводит email к каноническому виду
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Blank возвращает true, если хотя бы одна строка пуста после обрезки пробелов
func Blank(values ...string) bool {
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			return true
		}
	}
	return false
}

// Pagination нормализует параметры страницы: page >= 1, 1 <= limit <= MaxPageSize
func Pagination(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}
