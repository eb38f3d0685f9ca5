package decoder

import (
	"errors"

	"idl-decoder-sol/internal/logic/idl"
)

// SchemaError 编译期错误（与 idl.Parse 返回的类型一致）
type SchemaError = idl.SchemaError

// 编译期错误：任一出现即整体编译失败，不产出部分结果
var (
	ErrDuplicateDiscriminator = errors.New("duplicate discriminator")
	ErrReservedDiscriminator  = errors.New("discriminator collides with reserved emit_cpi sentinel")
	ErrUnresolvedType         = errors.New("unresolved type reference")
	ErrMissingTypeDef         = errors.New("no type definition with matching name")
	ErrRecursiveType          = errors.New("type contains itself by value")
	ErrDuplicateName          = errors.New("duplicate name")
	ErrUnknownType            = errors.New("unsupported type shape")
	ErrInvalidAddress         = errors.New("invalid program address")
)

// 解码期错误：只影响单次调用
var (
	ErrDataTooShort         = errors.New("data shorter than 8-byte discriminator")
	ErrUnknownDiscriminator = errors.New("unknown discriminator")
	ErrUnexpectedEOF        = errors.New("unexpected end of data")
	ErrTrailingBytes        = errors.New("trailing bytes after decoded value")
	ErrInvalidBool          = errors.New("invalid bool encoding")
	ErrInvalidEnumTag       = errors.New("invalid enum tag")
	ErrInvalidUTF8          = errors.New("invalid utf-8 string")
	ErrMaxDepth             = errors.New("max nesting depth exceeded")
	ErrZeroWidthArray       = errors.New("too many zero-width array elements")
)
