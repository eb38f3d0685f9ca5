package idl

import (
	"crypto/sha256"
	"strings"
	"unicode"
)

// 旧版 IDL（顶层带 name/version）不写判别符，按 Anchor 的规则由名称推导
const (
	namespaceGlobal  = "global"
	namespaceAccount = "account"
	namespaceEvent   = "event"
)

// LegacyDiscriminator sha256("<namespace>:<name>") 的前 8 字节
func LegacyDiscriminator(namespace, name string) Discriminator {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var d Discriminator
	copy(d[:], sum[:DiscriminatorLen])
	return d
}

// SnakeCase camelCase 转 snake_case，例如 createOrder -> create_order，HTTPServer -> http_server
func SnakeCase(s string) string {
	runes := []rune(s)
	var sb strings.Builder
	sb.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				sb.WriteByte('_')
			}
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return sb.String()
}

// discriminatorOrDerive 旧版文档缺少判别符时推导，其余情况照常解析
func discriminatorOrDerive(raw []byte, legacy bool, namespace, name string) (Discriminator, error) {
	if legacy && isNull(raw) {
		return LegacyDiscriminator(namespace, name), nil
	}
	return parseDiscriminator(raw)
}
