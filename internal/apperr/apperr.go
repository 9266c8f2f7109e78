// Package apperr описывает классы ошибок, видимых пользователю.
package apperr

import "errors"

var (
	// ErrValidation — локальная ошибка проверки входных данных, до обращения в сеть.
	ErrValidation = errors.New("validation error")
	// ErrAuthentication — неверные учётные данные или недействительный токен сессии.
	ErrAuthentication = errors.New("authentication error")
	// ErrAuthorization — сессия действительна, но роли недостаточно.
	ErrAuthorization = errors.New("authorization error")
	// ErrConflict — конфликт с существующим состоянием записи.
	ErrConflict = errors.New("conflict")
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("not found")
	// ErrPaymentInitiation — платёжный шлюз отклонил запрос на оплату.
	ErrPaymentInitiation = errors.New("payment initiation error")
	// ErrPaymentTimeout — подтверждение оплаты не получено за отведённое число попыток.
	ErrPaymentTimeout = errors.New("payment timeout")
)

// Error связывает класс ошибки с сообщением для пользователя.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.Error()
}

// Unwrap позволяет errors.Is находить как класс, так и исходную причину.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// New создаёт ошибку указанного класса.
func New(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap создаёт ошибку указанного класса поверх исходной причины.
func Wrap(kind error, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation — сокращение для ошибок проверки.
func Validation(message string) *Error {
	return New(ErrValidation, message)
}

// Message возвращает сообщение для пользователя, если ошибка его содержит.
func Message(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message, true
	}
	return "", false
}
