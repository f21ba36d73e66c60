// Package apperr описывает классы ошибок движка торгов и расчётов.
package apperr

import (
	"errors"
	"strings"
)

var (
	// ErrAuthentication возвращается при неверной подписи вебхука.
	ErrAuthentication = errors.New("authentication failed")
	// ErrConsistency означает расхождение данных: сумма, валюта или неизвестная ссылка платежа.
	ErrConsistency = errors.New("consistency violation")
	// ErrNotFound возвращается, если сущность не найдена.
	ErrNotFound = errors.New("not found")
	// ErrProvider означает сбой внешнего платёжного провайдера.
	ErrProvider = errors.New("payment provider failure")
)

// ValidationError перечисляет все нарушенные правила сразу.
type ValidationError struct {
	Errors []string
}

// NewValidationError создаёт ошибку валидации из списка сообщений.
func NewValidationError(msgs ...string) *ValidationError {
	return &ValidationError{Errors: msgs}
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Errors, "; ")
}

// IsValidation сообщает, является ли err ошибкой валидации, и возвращает её.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
