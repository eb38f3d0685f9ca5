package idl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type rawSchema struct {
	Address      string             `json:"address"`
	Name         string             `json:"name"`
	Version      string             `json:"version"`
	Metadata     *rawMetadata       `json:"metadata"`
	Types        []json.RawMessage  `json:"types"`
	Instructions *[]json.RawMessage `json:"instructions"`
	Accounts     []json.RawMessage  `json:"accounts"`
	Events       []json.RawMessage  `json:"events"`
}

type rawMetadata struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Address string `json:"address"`
}

type rawTypeDef struct {
	Name string       `json:"name"`
	Type *rawTypeBody `json:"type"`
}

type rawTypeBody struct {
	Kind     string          `json:"kind"`
	Fields   json.RawMessage `json:"fields"`
	Variants []rawVariant    `json:"variants"`
	Alias    json.RawMessage `json:"alias"`
}

type rawVariant struct {
	Name   string          `json:"name"`
	Fields json.RawMessage `json:"fields"`
}

type rawArg struct {
	Name *string         `json:"name"`
	Type json.RawMessage `json:"type"`
}

type rawInstruction struct {
	Name          string                  `json:"name"`
	Discriminator json.RawMessage         `json:"discriminator"`
	Args          *[]rawArg               `json:"args"`
	Accounts      []rawInstructionAccount `json:"accounts"`
}

// rawInstructionAccount 同时兼容新版 writable/signer 与旧版 isMut/isSigner 写法
type rawInstructionAccount struct {
	Name       string                  `json:"name"`
	Writable   bool                    `json:"writable"`
	Signer     bool                    `json:"signer"`
	Optional   bool                    `json:"optional"`
	IsMut      bool                    `json:"isMut"`
	IsSigner   bool                    `json:"isSigner"`
	IsOptional bool                    `json:"isOptional"`
	Accounts   []rawInstructionAccount `json:"accounts"`
}

type rawLayout struct {
	Name          string          `json:"name"`
	Discriminator json.RawMessage `json:"discriminator"`
	Type          *rawTypeBody    `json:"type"`
	Fields        json.RawMessage `json:"fields"`
}

// Parse 解析 IDL JSON 文档
// 缺失必填字段（address、instructions、指令的 name/discriminator/args、类型的 name/type）直接报错，
// 错误类型为 *SchemaError，带出错条目名称（无名称时为 "#下标"）。
// 旧版文档（顶层带 name/version）缺少的判别符由名称推导
func Parse(data []byte) (*Schema, error) {
	var raw rawSchema
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, schemaErr(CategorySchema, "", fmt.Errorf("%w: %v", ErrInvalidSchema, err))
	}

	s := &Schema{
		Address: raw.Address,
		Name:    raw.Name,
		Version: raw.Version,
	}
	if raw.Metadata != nil {
		if s.Address == "" {
			s.Address = raw.Metadata.Address
		}
		if raw.Metadata.Name != "" {
			s.Name = raw.Metadata.Name
		}
		if raw.Metadata.Version != "" {
			s.Version = raw.Metadata.Version
		}
	}
	if s.Address == "" {
		return nil, schemaErr(CategorySchema, s.Name, fmt.Errorf("%w: address", ErrMissingField))
	}
	if raw.Instructions == nil {
		return nil, schemaErr(CategorySchema, s.Name, fmt.Errorf("%w: instructions", ErrMissingField))
	}
	legacy := raw.Name != "" || raw.Version != ""

	// 1. 类型定义
	s.Types = make([]TypeDef, 0, len(raw.Types))
	for i, item := range raw.Types {
		td, err := parseTypeDef(item)
		if err != nil {
			return nil, schemaErr(CategoryType, itemName(item, i), err)
		}
		s.Types = append(s.Types, td)
	}

	// 2. 指令
	s.Instructions = make([]Instruction, 0, len(*raw.Instructions))
	for i, item := range *raw.Instructions {
		ix, err := parseInstruction(item, legacy)
		if err != nil {
			return nil, schemaErr(CategoryInstruction, itemName(item, i), err)
		}
		s.Instructions = append(s.Instructions, ix)
	}

	// 3. 账户
	s.Accounts = make([]Account, 0, len(raw.Accounts))
	for i, item := range raw.Accounts {
		acc, err := parseAccount(item, legacy)
		if err != nil {
			return nil, schemaErr(CategoryAccount, itemName(item, i), err)
		}
		s.Accounts = append(s.Accounts, acc)
	}

	// 4. 事件
	s.Events = make([]Event, 0, len(raw.Events))
	for i, item := range raw.Events {
		ev, err := parseEvent(item, legacy)
		if err != nil {
			return nil, schemaErr(CategoryEvent, itemName(item, i), err)
		}
		s.Events = append(s.Events, ev)
	}

	return s, nil
}

func parseTypeDef(item json.RawMessage) (TypeDef, error) {
	var raw rawTypeDef
	if err := json.Unmarshal(item, &raw); err != nil {
		return TypeDef{}, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if raw.Name == "" {
		return TypeDef{}, fmt.Errorf("%w: name", ErrMissingField)
	}
	if raw.Type == nil {
		return TypeDef{}, fmt.Errorf("%w: type", ErrMissingField)
	}
	return parseTypeBody(raw.Name, raw.Type)
}

func parseTypeBody(name string, body *rawTypeBody) (TypeDef, error) {
	td := TypeDef{Name: name}
	switch body.Kind {
	case "struct":
		fields, err := parseFields(body.Fields)
		if err != nil {
			return TypeDef{}, err
		}
		td.Kind = TypeDefStruct
		td.Fields = fields

	case "enum":
		td.Kind = TypeDefEnum
		td.Variants = make([]Variant, 0, len(body.Variants))
		for i, v := range body.Variants {
			if v.Name == "" {
				return TypeDef{}, fmt.Errorf("%w: variants[%d].name", ErrMissingField, i)
			}
			fields, err := parseFields(v.Fields)
			if err != nil {
				return TypeDef{}, fmt.Errorf("variant %q: %w", v.Name, err)
			}
			td.Variants = append(td.Variants, Variant{Name: v.Name, Fields: fields})
		}

	case "type":
		alias, err := parseTypeRef(body.Alias)
		if err != nil {
			return TypeDef{}, fmt.Errorf("alias: %w", err)
		}
		td.Kind = TypeDefAlias
		td.Alias = alias

	case "":
		return TypeDef{}, fmt.Errorf("%w: type.kind", ErrMissingField)

	default:
		return TypeDef{}, fmt.Errorf("%w: %q", ErrUnknownTypeKind, body.Kind)
	}
	return td, nil
}

// parseFields 解析 struct/变体字段；支持具名字段 [{name,type}] 与元组字段 ["u64", ...]，
// 元组字段按下标命名为 "0"、"1"…；字段缺省时返回空列表
func parseFields(raw json.RawMessage) ([]Field, error) {
	if isNull(raw) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: fields must be an array", ErrInvalidSchema)
	}

	fields := make([]Field, 0, len(items))
	for i, item := range items {
		var named rawArg
		if isObject(item) && json.Unmarshal(item, &named) == nil && named.Name != nil {
			if *named.Name == "" {
				return nil, fmt.Errorf("%w: fields[%d].name", ErrMissingField, i)
			}
			ref, err := parseTypeRef(named.Type)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", *named.Name, err)
			}
			fields = append(fields, Field{Name: *named.Name, Type: ref})
			continue
		}

		ref, err := parseTypeRef(item)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		fields = append(fields, Field{Name: strconv.Itoa(i), Type: ref})
	}
	return fields, nil
}

func parseInstruction(item json.RawMessage, legacy bool) (Instruction, error) {
	var raw rawInstruction
	if err := json.Unmarshal(item, &raw); err != nil {
		return Instruction{}, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if raw.Name == "" {
		return Instruction{}, fmt.Errorf("%w: name", ErrMissingField)
	}

	disc, err := discriminatorOrDerive(raw.Discriminator, legacy, namespaceGlobal, SnakeCase(raw.Name))
	if err != nil {
		return Instruction{}, err
	}

	if raw.Args == nil {
		return Instruction{}, fmt.Errorf("%w: args", ErrMissingField)
	}
	args := make([]Field, 0, len(*raw.Args))
	for i, a := range *raw.Args {
		if a.Name == nil || *a.Name == "" {
			return Instruction{}, fmt.Errorf("%w: args[%d].name", ErrMissingField, i)
		}
		ref, err := parseTypeRef(a.Type)
		if err != nil {
			return Instruction{}, fmt.Errorf("arg %q: %w", *a.Name, err)
		}
		args = append(args, Field{Name: *a.Name, Type: ref})
	}

	accounts, err := flattenAccounts("", raw.Accounts, nil)
	if err != nil {
		return Instruction{}, err
	}

	return Instruction{
		Name:          raw.Name,
		Discriminator: disc,
		Args:          args,
		Accounts:      accounts,
	}, nil
}

// flattenAccounts 深度优先展开嵌套账户组，子账户名为 "group.child"
func flattenAccounts(prefix string, items []rawInstructionAccount, out []InstructionAccount) ([]InstructionAccount, error) {
	for i, a := range items {
		if a.Name == "" {
			return nil, fmt.Errorf("%w: accounts[%d].name (group %q)", ErrMissingField, i, prefix)
		}
		name := a.Name
		if prefix != "" {
			name = prefix + "." + a.Name
		}

		if a.Accounts != nil {
			var err error
			out, err = flattenAccounts(name, a.Accounts, out)
			if err != nil {
				return nil, err
			}
			continue
		}

		out = append(out, InstructionAccount{
			Name:     name,
			Writable: a.Writable || a.IsMut,
			Signer:   a.Signer || a.IsSigner,
			Optional: a.Optional || a.IsOptional,
		})
	}
	return out, nil
}

func parseAccount(item json.RawMessage, legacy bool) (Account, error) {
	var raw rawLayout
	if err := json.Unmarshal(item, &raw); err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if raw.Name == "" {
		return Account{}, fmt.Errorf("%w: name", ErrMissingField)
	}
	disc, err := discriminatorOrDerive(raw.Discriminator, legacy, namespaceAccount, raw.Name)
	if err != nil {
		return Account{}, err
	}

	acc := Account{Name: raw.Name, Discriminator: disc}
	// 旧版 IDL 在 accounts[] 中内联布局
	if raw.Type != nil {
		td, err := parseTypeBody(raw.Name, raw.Type)
		if err != nil {
			return Account{}, err
		}
		acc.Type = &td
	}
	return acc, nil
}

func parseEvent(item json.RawMessage, legacy bool) (Event, error) {
	var raw rawLayout
	if err := json.Unmarshal(item, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if raw.Name == "" {
		return Event{}, fmt.Errorf("%w: name", ErrMissingField)
	}
	disc, err := discriminatorOrDerive(raw.Discriminator, legacy, namespaceEvent, raw.Name)
	if err != nil {
		return Event{}, err
	}

	// 旧版 IDL 在 events[] 中内联字段
	fields, err := parseFields(raw.Fields)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: raw.Name, Discriminator: disc, Fields: fields}, nil
}

// parseDiscriminator 要求恰好 8 个 0..255 的整数
func parseDiscriminator(raw json.RawMessage) (Discriminator, error) {
	var d Discriminator
	if isNull(raw) {
		return d, fmt.Errorf("%w: discriminator", ErrMissingField)
	}

	var nums []json.Number
	if err := json.Unmarshal(raw, &nums); err != nil {
		return d, fmt.Errorf("%w: %s", ErrInvalidDiscriminator, string(raw))
	}
	if len(nums) != DiscriminatorLen {
		return d, fmt.Errorf("%w: got %d values", ErrInvalidDiscriminator, len(nums))
	}
	for i, n := range nums {
		v, err := strconv.ParseUint(n.String(), 10, 8)
		if err != nil {
			return d, fmt.Errorf("%w: value %s at %d", ErrInvalidDiscriminator, n.String(), i)
		}
		d[i] = byte(v)
	}
	return d, nil
}

// itemName 尽量取出条目名称用于报错，取不到时用下标
func itemName(item json.RawMessage, idx int) string {
	var named struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(item, &named) == nil && named.Name != "" {
		return named.Name
	}
	return "#" + strconv.Itoa(idx)
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}
