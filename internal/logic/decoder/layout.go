package decoder

import (
	"fmt"

	"idl-decoder-sol/internal/logic/idl"
)

// Layout 账户或事件：判别符 + 同名类型
type Layout struct {
	Category      idl.Category
	Name          string
	Discriminator idl.Discriminator
	Type          *TypeDef

	allowTrailing bool
}

type DecodedAccount struct {
	Name          string
	Discriminator idl.Discriminator
	Data          *Value
}

type DecodedEvent struct {
	Name          string
	Discriminator idl.Discriminator
	Data          *Value
}

// compileLayout 绑定同名类型，不存在即编译失败
func compileLayout(cat idl.Category, name string, disc idl.Discriminator, defs map[string]*TypeDef, allowTrailing bool) (*Layout, error) {
	td, ok := defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", ErrMissingTypeDef, cat, name)
	}
	return &Layout{
		Category:      cat,
		Name:          name,
		Discriminator: disc,
		Type:          td,
		allowTrailing: allowTrailing,
	}, nil
}

// decodePayload payload 为去掉判别符之后的字节
func (l *Layout) decodePayload(payload []byte) (*Value, error) {
	var (
		v   *Value
		err error
	)
	if l.allowTrailing {
		v, _, err = l.Type.DecodePrefix(payload)
	} else {
		v, err = l.Type.Decode(payload)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", l.Category, l.Name, err)
	}
	return v, nil
}
