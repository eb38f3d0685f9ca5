package decoder

import (
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"

	"idl-decoder-sol/internal/types"
)

type ValueKind uint8

const (
	ValueUnit ValueKind = iota
	ValueU8
	ValueU16
	ValueU64
	ValueI64
	ValueBool
	ValuePubkey
	ValueString
	ValueArray
	ValueStruct
	ValueEnum
)

// NamedValue 结构体字段，保持声明顺序
type NamedValue struct {
	Name  string
	Value *Value
}

// Value 解码结果
//   - 无符号整数统一放在 Uint，i64 放在 Int
//   - struct 与带负载的 enum 变体使用 Fields
type Value struct {
	Kind     ValueKind
	Uint     uint64
	Int      int64
	Bool     bool
	Pubkey   types.Pubkey
	Str      string
	Elems    []*Value
	Fields   []NamedValue
	TypeName string
	Variant  string
	Tag      uint8
}

// Field 按名称取结构体字段
func (v *Value) Field(name string) (*Value, bool) {
	if v == nil {
		return nil, false
	}
	for i := range v.Fields {
		if v.Fields[i].Name == name {
			return v.Fields[i].Value, true
		}
	}
	return nil, false
}

// Interface 转换为普通 Go 值，便于 JSON 输出与测试断言
//   - 整数保持原生类型（uint8/uint16/uint64/int64）
//   - pubkey 保持 types.Pubkey（JSON 中为 base58）
//   - struct -> map[string]interface{}；无负载 enum -> 变体名；带负载 enum -> {变体名: {...}}
func (v *Value) Interface() interface{} {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case ValueU8:
		return uint8(v.Uint)
	case ValueU16:
		return uint16(v.Uint)
	case ValueU64:
		return v.Uint
	case ValueI64:
		return v.Int
	case ValueBool:
		return v.Bool
	case ValuePubkey:
		return v.Pubkey
	case ValueString:
		return v.Str
	case ValueArray:
		out := make([]interface{}, len(v.Elems))
		for i, e := range v.Elems {
			out[i] = e.Interface()
		}
		return out
	case ValueStruct:
		return fieldsToMap(v.Fields)
	case ValueEnum:
		if len(v.Fields) == 0 {
			return v.Variant
		}
		return map[string]interface{}{v.Variant: fieldsToMap(v.Fields)}
	default:
		return nil
	}
}

func fieldsToMap(fields []NamedValue) map[string]interface{} {
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Name] = f.Value.Interface()
	}
	return m
}

// ToProto 转换为 structpb.Value，用于 Kafka 消息体
// u64/i64 以十进制字符串输出，避免 float64 精度丢失
func (v *Value) ToProto() *structpb.Value {
	if v == nil {
		return structpb.NewNullValue()
	}
	switch v.Kind {
	case ValueU8, ValueU16:
		return structpb.NewNumberValue(float64(v.Uint))
	case ValueU64:
		return structpb.NewStringValue(strconv.FormatUint(v.Uint, 10))
	case ValueI64:
		return structpb.NewStringValue(strconv.FormatInt(v.Int, 10))
	case ValueBool:
		return structpb.NewBoolValue(v.Bool)
	case ValuePubkey:
		return structpb.NewStringValue(v.Pubkey.String())
	case ValueString:
		return structpb.NewStringValue(v.Str)
	case ValueArray:
		list := &structpb.ListValue{Values: make([]*structpb.Value, len(v.Elems))}
		for i, e := range v.Elems {
			list.Values[i] = e.ToProto()
		}
		return structpb.NewListValue(list)
	case ValueStruct:
		return structpb.NewStructValue(fieldsToProto(v.Fields))
	case ValueEnum:
		if len(v.Fields) == 0 {
			return structpb.NewStringValue(v.Variant)
		}
		return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			v.Variant: structpb.NewStructValue(fieldsToProto(v.Fields)),
		}})
	default:
		return structpb.NewNullValue()
	}
}

func fieldsToProto(fields []NamedValue) *structpb.Struct {
	s := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(fields))}
	for _, f := range fields {
		s.Fields[f.Name] = f.Value.ToProto()
	}
	return s
}
