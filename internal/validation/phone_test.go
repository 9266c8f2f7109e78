package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name  string
		phone string
		want  string
	}{
		{name: "leading zero", phone: "0712345678", want: "254712345678"},
		{name: "nine digits", phone: "712345678", want: "254712345678"},
		{name: "already normalized", phone: "254712345678", want: "254712345678"},
		{name: "plus and spaces", phone: "+254 712 345 678", want: "254712345678"},
		{name: "dashes", phone: "0712-345-678", want: "254712345678"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.phone))
		})
	}
}

func TestNormalizePhoneIdempotent(t *testing.T) {
	for _, phone := range []string{"0712345678", "712345678", "254712345678", "+254 (0) 712-345-678"} {
		once := NormalizePhone(phone)
		assert.Equal(t, once, NormalizePhone(once), phone)
	}
}

func TestIsPlausiblePhone(t *testing.T) {
	tests := []struct {
		phone string
		want  bool
	}{
		{"712345678", true},
		{"0712345678", true},
		{"254712345678", true},
		{"+254 712 345 678", true},
		{"71234567", false},
		{"2547123456789", false},
		{"", false},
		{"phone", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsPlausiblePhone(tt.phone), tt.phone)
	}
}

func TestIsManualPhone(t *testing.T) {
	assert.True(t, IsManualPhone("0712345678"))
	assert.False(t, IsManualPhone("712345678"))
}

func TestIsValidTransactionCode(t *testing.T) {
	assert.True(t, IsValidTransactionCode("QGH7XK2L9P"))
	assert.False(t, IsValidTransactionCode("QGH7XK2L9"))
	assert.False(t, IsValidTransactionCode("  QGH7XK2L9  "))
}

func TestEmail(t *testing.T) {
	assert.Equal(t, "jane@example.com", NormalizeEmail("  Jane@Example.COM "))
	assert.True(t, IsValidEmail("jane@example.com"))
	assert.False(t, IsValidEmail("jane"))
	assert.False(t, IsValidEmail(""))
}
