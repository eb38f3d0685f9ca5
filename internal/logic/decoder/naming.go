package decoder

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// CamelCase snake_case 转 CamelCase，例如 create_order -> CreateOrder
func CamelCase(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, word := range strings.Split(s, "_") {
		if word == "" {
			continue
		}
		r, size := utf8.DecodeRuneInString(word)
		sb.WriteRune(unicode.ToUpper(r))
		sb.WriteString(word[size:])
	}
	return sb.String()
}
