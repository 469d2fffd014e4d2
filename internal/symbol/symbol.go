// Package symbol приводит отображаемые символы к биржевому виду.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ErrInvalid символ не соответствует формату биржи
var ErrInvalid = errors.New("некорректный символ")

var cleanRe = regexp.MustCompile(`^[A-Z0-9_.-]{1,20}$`)

// Normalize возвращает часть отображаемого символа до первого пробельного символа.
// "BTCUSDT LONG 10x" -> "BTCUSDT".
func Normalize(display string) string {
	if i := strings.IndexFunc(display, unicode.IsSpace); i >= 0 {
		return display[:i]
	}
	return display
}

// Valid проверяет очищенный символ
func Valid(clean string) bool {
	return cleanRe.MatchString(clean)
}

// Validate как Valid, но с ошибкой для вызывающего кода
func Validate(clean string) error {
	if !Valid(clean) {
		return fmt.Errorf("%w: %q", ErrInvalid, clean)
	}
	return nil
}

// Display формирует отображаемый символ фьючерсной позиции
func Display(clean string, isLong, isShort bool, leverage decimal.Decimal) string {
	var side string
	switch {
	case isLong:
		side = "LONG"
	case isShort:
		side = "SHORT"
	default:
		return clean
	}
	if leverage.IsPositive() {
		return fmt.Sprintf("%s %s %sx", clean, side, leverage.String())
	}
	return clean + " " + side
}
