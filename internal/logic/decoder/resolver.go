package decoder

import (
	"fmt"
	"strconv"

	"idl-decoder-sol/internal/logic/idl"
)

type FieldKind uint8

const (
	FieldUnknown FieldKind = iota
	FieldPrimitive
	FieldArray
	FieldDefined
	FieldExternal
)

// FieldType 解析后的字段类型
//   - FieldDefined / FieldExternal 在链接阶段填充 Def
//   - FieldUnknown 解码为零宽度的 Unit 值
type FieldType struct {
	Kind      FieldKind
	Primitive idl.PrimitiveKind
	Elem      *FieldType
	Len       int
	Name      string
	Def       *TypeDef
	Raw       string
}

func (f *FieldType) String() string {
	switch f.Kind {
	case FieldPrimitive:
		return f.Primitive.String()
	case FieldArray:
		return "[" + f.Elem.String() + "; " + strconv.Itoa(f.Len) + "]"
	case FieldDefined:
		return f.Name
	case FieldExternal:
		return "extern " + f.Name
	default:
		return "()"
	}
}

// resolveType 将 TypeRef 映射为 FieldType
// local 必须是预先一次性收集的全部本地类型名，本地/外部只按集合成员判定，与类型声明顺序无关
func resolveType(ref idl.TypeRef, local map[string]struct{}, strict bool) (*FieldType, error) {
	switch ref.Kind {
	case idl.TypeRefPrimitive:
		if ref.Primitive.Size() == -1 && ref.Primitive != idl.PrimitiveString {
			return nil, fmt.Errorf("%w: %s", ErrUnknownType, ref.String())
		}
		return &FieldType{Kind: FieldPrimitive, Primitive: ref.Primitive}, nil

	case idl.TypeRefArray:
		if ref.Elem == nil || ref.Len < 0 {
			return nil, fmt.Errorf("%w: %s", idl.ErrInvalidTypeRef, ref.String())
		}
		elem, err := resolveType(*ref.Elem, local, strict)
		if err != nil {
			return nil, err
		}
		return &FieldType{Kind: FieldArray, Elem: elem, Len: ref.Len}, nil

	case idl.TypeRefDefined:
		if _, ok := local[ref.Name]; ok {
			return &FieldType{Kind: FieldDefined, Name: ref.Name}, nil
		}
		return &FieldType{Kind: FieldExternal, Name: ref.Name}, nil

	default:
		if strict {
			return nil, fmt.Errorf("%w: %s", ErrUnknownType, ref.String())
		}
		return &FieldType{Kind: FieldUnknown, Raw: ref.String()}, nil
	}
}
