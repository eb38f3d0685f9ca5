package decoder

import (
	"fmt"

	"idl-decoder-sol/internal/logic/idl"
)

type FieldDef struct {
	Name string
	Type *FieldType
}

type VariantDef struct {
	Name   string
	Fields []FieldDef
}

// TypeDef 编译后的可解码类型，构建完成后只读
type TypeDef struct {
	Name     string
	Kind     idl.TypeDefKind
	Fields   []FieldDef
	Variants []VariantDef
	Alias    *FieldType
}

// Decode 严格解码：data 必须恰好是该类型的完整编码，多余字节报 ErrTrailingBytes
func (t *TypeDef) Decode(data []byte) (*Value, error) {
	v, n, err := t.DecodePrefix(data)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: %s consumed %d of %d bytes", ErrTrailingBytes, t.Name, n, len(data))
	}
	return v, nil
}

// DecodePrefix 从 data 头部解码，返回消耗的字节数
func (t *TypeDef) DecodePrefix(data []byte) (*Value, int, error) {
	r := newReader(data)
	v, err := t.decode(r)
	if err != nil {
		return nil, 0, err
	}
	return v, r.pos, nil
}

func (t *TypeDef) decode(r *reader) (*Value, error) {
	if err := r.enter(); err != nil {
		return nil, fmt.Errorf("%s: %w", t.Name, err)
	}
	defer r.leave()

	switch t.Kind {
	case idl.TypeDefStruct:
		fields, err := decodeFields(r, t.Name, t.Fields)
		if err != nil {
			return nil, err
		}
		return &Value{Kind: ValueStruct, TypeName: t.Name, Fields: fields}, nil

	case idl.TypeDefEnum:
		tag, err := r.readU8()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.Name, err)
		}
		if int(tag) >= len(t.Variants) {
			return nil, fmt.Errorf("%w: %s tag %d, %d variants", ErrInvalidEnumTag, t.Name, tag, len(t.Variants))
		}
		variant := t.Variants[tag]
		fields, err := decodeFields(r, t.Name+"::"+variant.Name, variant.Fields)
		if err != nil {
			return nil, err
		}
		return &Value{Kind: ValueEnum, TypeName: t.Name, Variant: variant.Name, Tag: tag, Fields: fields}, nil

	case idl.TypeDefAlias:
		v, err := decodeField(r, t.Alias)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.Name, err)
		}
		return v, nil

	default:
		return nil, fmt.Errorf("%w: %s kind %s", ErrUnknownType, t.Name, t.Kind)
	}
}

func decodeFields(r *reader, owner string, defs []FieldDef) ([]NamedValue, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]NamedValue, 0, len(defs))
	for _, f := range defs {
		v, err := decodeField(r, f.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", owner, f.Name, err)
		}
		out = append(out, NamedValue{Name: f.Name, Value: v})
	}
	return out, nil
}

func decodeField(r *reader, ft *FieldType) (*Value, error) {
	switch ft.Kind {
	case FieldPrimitive:
		return r.readPrimitive(ft.Primitive)

	case FieldArray:
		elems := make([]*Value, 0, min(ft.Len, r.remaining()+1))
		for i := 0; i < ft.Len; i++ {
			start := r.pos
			v, err := decodeField(r, ft.Elem)
			if err == nil && r.pos == start {
				err = r.zeroWidth()
			}
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			elems = append(elems, v)
		}
		return &Value{Kind: ValueArray, Elems: elems}, nil

	case FieldDefined, FieldExternal:
		if ft.Def == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnresolvedType, ft.Name)
		}
		return ft.Def.decode(r)

	default:
		// 未识别类型按零宽度 Unit 处理
		return &Value{Kind: ValueUnit}, nil
	}
}

// typeBuilder 负责把 idl.TypeDef 构建为 TypeDef 并完成链接
type typeBuilder struct {
	local    map[string]struct{}
	defs     map[string]*TypeDef
	external ExternalTypes
	strict   bool
}

func newTypeBuilder(decls []idl.TypeDef, external ExternalTypes, strict bool) (*typeBuilder, error) {
	b := &typeBuilder{
		local:    make(map[string]struct{}, len(decls)),
		defs:     make(map[string]*TypeDef, len(decls)),
		external: external,
		strict:   strict,
	}
	// 先一次性登记全部本地类型名，并分配空壳，字段构建时直接链接到壳
	for i := range decls {
		name := decls[i].Name
		if _, dup := b.local[name]; dup {
			return nil, &SchemaError{Category: idl.CategoryType, Name: name, Err: ErrDuplicateName}
		}
		b.local[name] = struct{}{}
		b.defs[name] = &TypeDef{Name: name, Kind: decls[i].Kind}
	}
	return b, nil
}

// buildAll 按声明顺序填充全部本地类型
func (b *typeBuilder) buildAll(decls []idl.TypeDef) ([]*TypeDef, error) {
	out := make([]*TypeDef, 0, len(decls))
	for i := range decls {
		td := b.defs[decls[i].Name]
		if err := b.fill(td, &decls[i]); err != nil {
			return nil, &SchemaError{Category: idl.CategoryType, Name: decls[i].Name, Err: err}
		}
		out = append(out, td)
	}
	return out, nil
}

func (b *typeBuilder) fill(td *TypeDef, decl *idl.TypeDef) error {
	switch decl.Kind {
	case idl.TypeDefStruct:
		fields, err := b.fields(decl.Fields)
		if err != nil {
			return err
		}
		td.Fields = fields

	case idl.TypeDefEnum:
		td.Variants = make([]VariantDef, 0, len(decl.Variants))
		for _, v := range decl.Variants {
			fields, err := b.fields(v.Fields)
			if err != nil {
				return fmt.Errorf("variant %q: %w", v.Name, err)
			}
			td.Variants = append(td.Variants, VariantDef{Name: v.Name, Fields: fields})
		}

	case idl.TypeDefAlias:
		ft, err := b.resolve(decl.Alias)
		if err != nil {
			return err
		}
		td.Alias = ft

	default:
		return fmt.Errorf("%w: kind %s", idl.ErrUnknownTypeKind, decl.Kind)
	}
	return nil
}

// anonymous 构建不登记到本地类型表的结构体（指令参数）
func (b *typeBuilder) anonymous(name string, fields []idl.Field) (*TypeDef, error) {
	defs, err := b.fields(fields)
	if err != nil {
		return nil, err
	}
	return &TypeDef{Name: name, Kind: idl.TypeDefStruct, Fields: defs}, nil
}

func (b *typeBuilder) fields(fields []idl.Field) ([]FieldDef, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]FieldDef, 0, len(fields))
	for _, f := range fields {
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("%w: field %q", ErrDuplicateName, f.Name)
		}
		seen[f.Name] = struct{}{}

		ft, err := b.resolve(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		out = append(out, FieldDef{Name: f.Name, Type: ft})
	}
	return out, nil
}

func (b *typeBuilder) resolve(ref idl.TypeRef) (*FieldType, error) {
	ft, err := resolveType(ref, b.local, b.strict)
	if err != nil {
		return nil, err
	}
	if err := b.link(ft); err != nil {
		return nil, err
	}
	return ft, nil
}

// link 本地引用指向空壳，外部引用向宿主查找，找不到即编译失败
func (b *typeBuilder) link(ft *FieldType) error {
	switch ft.Kind {
	case FieldArray:
		return b.link(ft.Elem)
	case FieldDefined:
		ft.Def = b.defs[ft.Name]
	case FieldExternal:
		if b.external != nil {
			if def, ok := b.external.LookupType(ft.Name); ok && def != nil {
				ft.Def = def
				return nil
			}
		}
		return fmt.Errorf("%w: %q is neither declared locally nor provided externally", ErrUnresolvedType, ft.Name)
	}
	return nil
}

// checkRecursion 检测按值自包含的类型（无限大小）
// 长度为 0 的数组不产生依赖边
func checkRecursion(defs []*TypeDef) error {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[*TypeDef]int, len(defs))

	var visitType func(td *TypeDef) error
	var visitField func(ft *FieldType) error

	visitField = func(ft *FieldType) error {
		switch ft.Kind {
		case FieldArray:
			if ft.Len == 0 {
				return nil
			}
			return visitField(ft.Elem)
		case FieldDefined, FieldExternal:
			if ft.Def != nil {
				return visitType(ft.Def)
			}
		}
		return nil
	}

	visitType = func(td *TypeDef) error {
		switch state[td] {
		case visiting:
			return &SchemaError{Category: idl.CategoryType, Name: td.Name, Err: ErrRecursiveType}
		case done:
			return nil
		}
		state[td] = visiting
		for _, f := range td.Fields {
			if err := visitField(f.Type); err != nil {
				return err
			}
		}
		for _, v := range td.Variants {
			for _, f := range v.Fields {
				if err := visitField(f.Type); err != nil {
					return err
				}
			}
		}
		if td.Alias != nil {
			if err := visitField(td.Alias); err != nil {
				return err
			}
		}
		state[td] = done
		return nil
	}

	for _, td := range defs {
		if err := visitType(td); err != nil {
			return err
		}
	}
	return nil
}
