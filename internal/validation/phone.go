// Package validation содержит функции валидации входных данных.
package validation

import (
	"net/mail"
	"strings"
	"unicode"
)

const (
	countryCode = "254"
	localDigits = 9

	minExpressPhoneDigits = 9
	maxExpressPhoneDigits = 12
	minManualPhoneDigits  = 10

	// MinTransactionCodeLength — длина кода транзакции M-Pesa.
	MinTransactionCodeLength = 10
	// MinPasswordLength — минимальная длина пароля при регистрации.
	MinPasswordLength = 6
)

// Digits оставляет в строке только цифры.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		if ch <= unicode.MaxASCII && unicode.IsDigit(ch) {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// IsPlausiblePhone проверяет номер для экспресс-оплаты: от 9 до 12 цифр
// после удаления остальных символов (712…, 0712…, 254712…).
func IsPlausiblePhone(phone string) bool {
	n := len(Digits(phone))
	return n >= minExpressPhoneDigits && n <= maxExpressPhoneDigits
}

// IsManualPhone проверяет номер, указанный при ручной оплате.
func IsManualPhone(phone string) bool {
	return len(Digits(phone)) >= minManualPhoneDigits
}

// NormalizePhone приводит номер к международному формату 254XXXXXXXXX.
// Повторная нормализация уже приведённого номера ничего не меняет.
func NormalizePhone(phone string) string {
	d := Digits(phone)
	if len(d) <= localDigits {
		return countryCode + d
	}
	return countryCode + d[len(d)-localDigits:]
}

// IsValidTransactionCode проверяет формат кода транзакции. Сам код со
// шлюзом не сверяется.
func IsValidTransactionCode(code string) bool {
	return len(strings.TrimSpace(code)) >= MinTransactionCodeLength
}

// NormalizeEmail приводит адрес к нижнему регистру без пробелов по краям.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidEmail проверяет синтаксис адреса электронной почты.
func IsValidEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
