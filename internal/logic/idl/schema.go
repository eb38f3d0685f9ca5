package idl

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrMissingField         = errors.New("missing required field")
	ErrInvalidDiscriminator = errors.New("discriminator must be exactly 8 integers in 0..255")
	ErrInvalidTypeRef       = errors.New("invalid type reference")
	ErrUnknownTypeKind      = errors.New("unknown type kind")
	ErrInvalidSchema        = errors.New("invalid schema document")
)

// DiscriminatorLen 指令/账户/事件数据前缀长度
const DiscriminatorLen = 8

type Discriminator [DiscriminatorLen]byte

func (d Discriminator) String() string {
	return hex.EncodeToString(d[:])
}

// Category 判别符所属的命名空间，三者相互独立
type Category string

const (
	CategorySchema      Category = "schema"
	CategoryType        Category = "type"
	CategoryInstruction Category = "instruction"
	CategoryAccount     Category = "account"
	CategoryEvent       Category = "event"
)

// SchemaError 编译期错误，带上出错条目的类别与名称
type SchemaError struct {
	Category Category
	Name     string
	Err      error
}

func (e *SchemaError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("idl %s: %v", e.Category, e.Err)
	}
	return fmt.Sprintf("idl %s %q: %v", e.Category, e.Name, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

func schemaErr(cat Category, name string, err error) error {
	return &SchemaError{Category: cat, Name: name, Err: err}
}

type Field struct {
	Name string
	Type TypeRef
}

type TypeDefKind uint8

const (
	TypeDefStruct TypeDefKind = iota + 1
	TypeDefEnum
	TypeDefAlias
)

func (k TypeDefKind) String() string {
	switch k {
	case TypeDefStruct:
		return "struct"
	case TypeDefEnum:
		return "enum"
	case TypeDefAlias:
		return "type"
	default:
		return "unknown"
	}
}

// Variant 枚举变体，Fields 为空即无负载变体
type Variant struct {
	Name   string
	Fields []Field
}

// TypeDef IDL types[] 中的具名类型
type TypeDef struct {
	Name     string
	Kind     TypeDefKind
	Fields   []Field   // struct
	Variants []Variant // enum
	Alias    TypeRef   // type alias
}

// InstructionAccount 指令账户表中的一个槽位；嵌套账户组展开后以 "group.child" 命名
type InstructionAccount struct {
	Name     string
	Writable bool
	Signer   bool
	Optional bool
}

type Instruction struct {
	Name          string
	Discriminator Discriminator
	Args          []Field
	Accounts      []InstructionAccount
}

// Account 账户布局；Type 仅在旧版 IDL 内联声明布局时非空
type Account struct {
	Name          string
	Discriminator Discriminator
	Type          *TypeDef
}

// Event 事件布局；Fields 仅在旧版 IDL 内联声明字段时非空
type Event struct {
	Name          string
	Discriminator Discriminator
	Fields        []Field
}

// Schema 解析后的 IDL，解析完成后不再修改
type Schema struct {
	Address      string
	Name         string
	Version      string
	Types        []TypeDef
	Instructions []Instruction
	Accounts     []Account
	Events       []Event
}

// TypeNames 一次性收集本地声明的全部类型名
func (s *Schema) TypeNames() map[string]struct{} {
	names := make(map[string]struct{}, len(s.Types))
	for i := range s.Types {
		names[s.Types[i].Name] = struct{}{}
	}
	return names
}
