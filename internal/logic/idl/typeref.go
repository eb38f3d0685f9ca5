package idl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// PrimitiveKind IDL 支持的基础类型
type PrimitiveKind uint8

const (
	PrimitiveU8 PrimitiveKind = iota + 1
	PrimitiveU16
	PrimitiveU64
	PrimitiveI64
	PrimitiveBool
	PrimitivePubkey
	PrimitiveString
)

var primitiveNames = map[string]PrimitiveKind{
	"u8":     PrimitiveU8,
	"u16":    PrimitiveU16,
	"u64":    PrimitiveU64,
	"i64":    PrimitiveI64,
	"bool":   PrimitiveBool,
	"pubkey": PrimitivePubkey,
	"string": PrimitiveString,
}

func (k PrimitiveKind) String() string {
	switch k {
	case PrimitiveU8:
		return "u8"
	case PrimitiveU16:
		return "u16"
	case PrimitiveU64:
		return "u64"
	case PrimitiveI64:
		return "i64"
	case PrimitiveBool:
		return "bool"
	case PrimitivePubkey:
		return "pubkey"
	case PrimitiveString:
		return "string"
	default:
		return "primitive(" + strconv.Itoa(int(k)) + ")"
	}
}

// Size 返回定长编码的字节数；string 为变长，返回 -1
func (k PrimitiveKind) Size() int {
	switch k {
	case PrimitiveU8, PrimitiveBool:
		return 1
	case PrimitiveU16:
		return 2
	case PrimitiveU64, PrimitiveI64:
		return 8
	case PrimitivePubkey:
		return 32
	default:
		return -1
	}
}

// LookupPrimitive 按 IDL 名称查找基础类型
func LookupPrimitive(name string) (PrimitiveKind, bool) {
	k, ok := primitiveNames[name]
	return k, ok
}

type TypeRefKind uint8

const (
	TypeRefUnknown TypeRefKind = iota
	TypeRefPrimitive
	TypeRefArray
	TypeRefDefined
)

// TypeRef 字段/参数的类型引用（封闭的 tagged union）
//   - Primitive: 基础类型
//   - Array: 定长数组 Elem × Len
//   - Defined: 具名类型，本地或外部由解析阶段决定
//   - Unknown: 无法识别的形状，Raw 保留原始 JSON 便于排查
type TypeRef struct {
	Kind      TypeRefKind
	Primitive PrimitiveKind
	Elem      *TypeRef
	Len       int
	Name      string
	Raw       json.RawMessage
}

func Primitive(k PrimitiveKind) TypeRef {
	return TypeRef{Kind: TypeRefPrimitive, Primitive: k}
}

func Array(elem TypeRef, n int) TypeRef {
	return TypeRef{Kind: TypeRefArray, Elem: &elem, Len: n}
}

func Defined(name string) TypeRef {
	return TypeRef{Kind: TypeRefDefined, Name: name}
}

func (r TypeRef) String() string {
	switch r.Kind {
	case TypeRefPrimitive:
		return r.Primitive.String()
	case TypeRefArray:
		return fmt.Sprintf("[%s; %d]", r.Elem.String(), r.Len)
	case TypeRefDefined:
		return r.Name
	default:
		if len(r.Raw) > 0 {
			return "unknown(" + string(r.Raw) + ")"
		}
		return "unknown"
	}
}

// parseTypeRef 解析 IDL 中的类型引用
//   - "u64" 等字符串 -> Primitive，不认识的字符串 -> Unknown
//   - {"array": [T, n]} -> Array，n 必须是非负整数字面量，否则报错
//   - {"defined": {"name": X}} 或旧版 {"defined": "X"} -> Defined
//   - 其它对象形状（vec/option/generic 等）-> Unknown
func parseTypeRef(raw json.RawMessage) (TypeRef, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return TypeRef{}, fmt.Errorf("%w: type", ErrMissingField)
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return TypeRef{}, fmt.Errorf("%w: %v", ErrInvalidTypeRef, err)
		}
		if k, ok := primitiveNames[s]; ok {
			return Primitive(k), nil
		}
		return TypeRef{Kind: TypeRefUnknown, Raw: raw}, nil

	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return TypeRef{}, fmt.Errorf("%w: %v", ErrInvalidTypeRef, err)
		}
		if arr, ok := obj["array"]; ok {
			return parseArrayRef(arr)
		}
		if def, ok := obj["defined"]; ok {
			if name, ok := parseDefinedName(def); ok {
				return Defined(name), nil
			}
		}
		return TypeRef{Kind: TypeRefUnknown, Raw: raw}, nil

	default:
		return TypeRef{Kind: TypeRefUnknown, Raw: raw}, nil
	}
}

func parseArrayRef(raw json.RawMessage) (TypeRef, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil || len(parts) != 2 {
		return TypeRef{}, fmt.Errorf("%w: array must be [type, length], got %s", ErrInvalidTypeRef, string(raw))
	}

	elem, err := parseTypeRef(parts[0])
	if err != nil {
		return TypeRef{}, err
	}

	// 长度只接受非负整数字面量，{"generic": "N"} 之类的形状直接拒绝
	n, err := strconv.ParseUint(string(bytes.TrimSpace(parts[1])), 10, 31)
	if err != nil {
		return TypeRef{}, fmt.Errorf("%w: array length must be a non-negative integer, got %s", ErrInvalidTypeRef, string(parts[1]))
	}
	return Array(elem, int(n)), nil
}

func parseDefinedName(raw json.RawMessage) (string, bool) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return name, name != ""
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}
	return obj.Name, obj.Name != ""
}
