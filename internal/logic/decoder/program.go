package decoder

import (
	"fmt"

	"github.com/near/borsh-go"

	"idl-decoder-sol/internal/logic/idl"
	"idl-decoder-sol/internal/types"
)

// ExternalTypes 宿主提供的外部类型命名空间，用于解析非本地声明的 defined 类型
type ExternalTypes interface {
	LookupType(name string) (*TypeDef, bool)
}

// ExternalTypesFunc 函数适配器
type ExternalTypesFunc func(name string) (*TypeDef, bool)

func (f ExternalTypesFunc) LookupType(name string) (*TypeDef, bool) {
	return f(name)
}

type options struct {
	external      ExternalTypes
	strictTypes   bool
	allowTrailing bool
}

type Option func(*options)

// WithExternalTypes 设置外部类型命名空间
func WithExternalTypes(ext ExternalTypes) Option {
	return func(o *options) {
		o.external = ext
	}
}

// WithStrictTypes 为 true 时未识别的类型形状直接编译失败，默认按 Unit 占位
func WithStrictTypes(strict bool) Option {
	return func(o *options) {
		o.strictTypes = strict
	}
}

// WithTrailingBytes 为 true 时解码允许负载末尾有多余字节，默认严格
func WithTrailingBytes(allow bool) Option {
	return func(o *options) {
		o.allowTrailing = allow
	}
}

// Program 一个 IDL 编译后的完整解码器，构建后只读，可并发使用
type Program struct {
	*Dispatcher

	Address types.Pubkey
	Name    string
	Version string

	types        []*TypeDef
	typeByName   map[string]*TypeDef
	instructions []*Instruction
	ixByName     map[string]*Instruction
	accounts     []*Layout
	accByName    map[string]*Layout
	events       []*Layout
	evByName     map[string]*Layout
}

// CompileJSON 解析并编译 IDL JSON
func CompileJSON(data []byte, opts ...Option) (*Program, error) {
	schema, err := idl.Parse(data)
	if err != nil {
		return nil, err
	}
	return Compile(schema, opts...)
}

// Compile 编译 Schema
// 1. 校验程序地址
// 2. 收集本地类型名并构建全部类型
// 3. 编译指令、账户、事件并登记判别符
// 任一步出错整体失败，错误为 *SchemaError
func Compile(s *idl.Schema, opts ...Option) (*Program, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// 1. 程序地址
	addr, err := types.TryPubkeyFromBase58(s.Address)
	if err != nil {
		return nil, &SchemaError{Category: idl.CategorySchema, Name: s.Name, Err: fmt.Errorf("%w: %v", ErrInvalidAddress, err)}
	}

	// 2. 类型；旧版内联布局并入本地类型表
	decls := collectTypeDecls(s)
	builder, err := newTypeBuilder(decls, o.external, o.strictTypes)
	if err != nil {
		return nil, err
	}
	defs, err := builder.buildAll(decls)
	if err != nil {
		return nil, err
	}
	if err := checkRecursion(defs); err != nil {
		return nil, err
	}

	p := &Program{
		Dispatcher:   newDispatcher(),
		Address:      addr,
		Name:         s.Name,
		Version:      s.Version,
		types:        defs,
		typeByName:   builder.defs,
		instructions: make([]*Instruction, 0, len(s.Instructions)),
		ixByName:     make(map[string]*Instruction, len(s.Instructions)),
		accounts:     make([]*Layout, 0, len(s.Accounts)),
		accByName:    make(map[string]*Layout, len(s.Accounts)),
		events:       make([]*Layout, 0, len(s.Events)),
		evByName:     make(map[string]*Layout, len(s.Events)),
	}

	// 3. 指令
	for i := range s.Instructions {
		decl := &s.Instructions[i]
		if _, dup := p.ixByName[decl.Name]; dup {
			return nil, &SchemaError{Category: idl.CategoryInstruction, Name: decl.Name, Err: ErrDuplicateName}
		}
		ix, err := compileInstruction(builder, decl, o.allowTrailing)
		if err == nil {
			err = p.registerInstruction(ix)
		}
		if err != nil {
			return nil, &SchemaError{Category: idl.CategoryInstruction, Name: decl.Name, Err: err}
		}
		p.instructions = append(p.instructions, ix)
		p.ixByName[ix.Name] = ix
	}

	// 4. 账户
	for i := range s.Accounts {
		decl := &s.Accounts[i]
		l, err := p.compileLayout(idl.CategoryAccount, decl.Name, decl.Discriminator, p.accByName, o.allowTrailing)
		if err != nil {
			return nil, err
		}
		p.accounts = append(p.accounts, l)
	}

	// 5. 事件
	for i := range s.Events {
		decl := &s.Events[i]
		l, err := p.compileLayout(idl.CategoryEvent, decl.Name, decl.Discriminator, p.evByName, o.allowTrailing)
		if err != nil {
			return nil, err
		}
		p.events = append(p.events, l)
	}

	return p, nil
}

func (p *Program) compileLayout(cat idl.Category, name string, disc idl.Discriminator, byName map[string]*Layout, allowTrailing bool) (*Layout, error) {
	if _, dup := byName[name]; dup {
		return nil, &SchemaError{Category: cat, Name: name, Err: ErrDuplicateName}
	}
	l, err := compileLayout(cat, name, disc, p.typeByName, allowTrailing)
	if err == nil {
		err = p.registerLayout(l)
	}
	if err != nil {
		return nil, &SchemaError{Category: cat, Name: name, Err: err}
	}
	byName[name] = l
	return l, nil
}

// collectTypeDecls types[] 之外，旧版 IDL 内联在 accounts[]/events[] 中的布局也视为本地类型，
// 与 types[] 同名时以 types[] 为准
func collectTypeDecls(s *idl.Schema) []idl.TypeDef {
	decls := make([]idl.TypeDef, 0, len(s.Types))
	decls = append(decls, s.Types...)

	declared := s.TypeNames()
	for i := range s.Accounts {
		acc := &s.Accounts[i]
		if acc.Type == nil {
			continue
		}
		if _, ok := declared[acc.Name]; ok {
			continue
		}
		declared[acc.Name] = struct{}{}
		decls = append(decls, *acc.Type)
	}
	for i := range s.Events {
		ev := &s.Events[i]
		if ev.Fields == nil {
			continue
		}
		if _, ok := declared[ev.Name]; ok {
			continue
		}
		declared[ev.Name] = struct{}{}
		decls = append(decls, idl.TypeDef{Name: ev.Name, Kind: idl.TypeDefStruct, Fields: ev.Fields})
	}
	return decls
}

// LookupType 实现 ExternalTypes，使已编译的程序可以作为其他 IDL 的外部类型来源
func (p *Program) LookupType(name string) (*TypeDef, bool) {
	td, ok := p.typeByName[name]
	return td, ok
}

func (p *Program) TypeDef(name string) (*TypeDef, bool) {
	return p.LookupType(name)
}

func (p *Program) Instruction(name string) (*Instruction, bool) {
	ix, ok := p.ixByName[name]
	return ix, ok
}

func (p *Program) Account(name string) (*Layout, bool) {
	l, ok := p.accByName[name]
	return l, ok
}

func (p *Program) Event(name string) (*Layout, bool) {
	l, ok := p.evByName[name]
	return l, ok
}

// Types 按声明顺序返回本地类型（切片副本）
func (p *Program) Types() []*TypeDef {
	return append([]*TypeDef(nil), p.types...)
}

func (p *Program) Instructions() []*Instruction {
	return append([]*Instruction(nil), p.instructions...)
}

func (p *Program) Accounts() []*Layout {
	return append([]*Layout(nil), p.accounts...)
}

func (p *Program) Events() []*Layout {
	return append([]*Layout(nil), p.events...)
}

// DecodeEventInto 按事件名解码到宿主自定义的 borsh 结构体
// 先用 IDL 布局做一次带边界检查的解码，通过后再交给 borsh 反射填充 dst
func (p *Program) DecodeEventInto(name string, data []byte, dst interface{}) error {
	l, ok := p.evByName[name]
	if !ok {
		return fmt.Errorf("%w: event %q", ErrMissingTypeDef, name)
	}
	return decodeInto(l, data, dst)
}

// DecodeAccountInto 同 DecodeEventInto，作用于账户
func (p *Program) DecodeAccountInto(name string, data []byte, dst interface{}) error {
	l, ok := p.accByName[name]
	if !ok {
		return fmt.Errorf("%w: account %q", ErrMissingTypeDef, name)
	}
	return decodeInto(l, data, dst)
}

func decodeInto(l *Layout, data []byte, dst interface{}) (err error) {
	disc, payload, err := splitDiscriminator(data)
	if err != nil {
		return err
	}
	if disc != l.Discriminator {
		return fmt.Errorf("%w: %s is not %s %s", ErrUnknownDiscriminator, disc, l.Category, l.Name)
	}
	if _, err := l.decodePayload(payload); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s %s: borsh panic: %v", l.Category, l.Name, r)
		}
	}()
	return borsh.Deserialize(dst, payload)
}
