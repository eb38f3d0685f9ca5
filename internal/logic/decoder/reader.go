package decoder

import (
	"fmt"
	"unicode/utf8"

	"github.com/near/borsh-go"

	"idl-decoder-sol/internal/logic/idl"
	"idl-decoder-sol/internal/types"
)

// maxDepth 嵌套解码深度上限（外部类型由宿主提供，无法在编译期完全排除环）
const maxDepth = 64

// maxZeroWidthElems 单次解码中不消耗输入的数组元素总数上限，
// 如 [(); 2147483647] 或空结构体数组，长度不受输入大小约束
const maxZeroWidthElems = 1 << 16

// reader 带边界检查的游标
// 每个基础类型先切出精确长度的窗口，再交给 borsh 解码，越界在取窗口时即报错
type reader struct {
	buf   []byte
	pos   int
	depth int
	empty int // 已解码的零宽数组元素数
}

func newReader(b []byte) *reader {
	return &reader{buf: b}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrUnexpectedEOF, n, r.pos, r.remaining())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) enter() error {
	if r.depth >= maxDepth {
		return ErrMaxDepth
	}
	r.depth++
	return nil
}

// zeroWidth 记录一个未消耗输入的数组元素
func (r *reader) zeroWidth() error {
	r.empty++
	if r.empty > maxZeroWidthElems {
		return fmt.Errorf("%w: more than %d", ErrZeroWidthArray, maxZeroWidthElems)
	}
	return nil
}

func (r *reader) leave() {
	r.depth--
}

func (r *reader) decodeFixed(dst interface{}, n int) error {
	b, err := r.take(n)
	if err != nil {
		return err
	}
	return borsh.Deserialize(dst, b)
}

func (r *reader) readU8() (uint8, error) {
	var v uint8
	err := r.decodeFixed(&v, 1)
	return v, err
}

func (r *reader) readPrimitive(k idl.PrimitiveKind) (*Value, error) {
	switch k {
	case idl.PrimitiveU8:
		v, err := r.readU8()
		if err != nil {
			return nil, err
		}
		return &Value{Kind: ValueU8, Uint: uint64(v)}, nil

	case idl.PrimitiveU16:
		var v uint16
		if err := r.decodeFixed(&v, 2); err != nil {
			return nil, err
		}
		return &Value{Kind: ValueU16, Uint: uint64(v)}, nil

	case idl.PrimitiveU64:
		var v uint64
		if err := r.decodeFixed(&v, 8); err != nil {
			return nil, err
		}
		return &Value{Kind: ValueU64, Uint: v}, nil

	case idl.PrimitiveI64:
		var v int64
		if err := r.decodeFixed(&v, 8); err != nil {
			return nil, err
		}
		return &Value{Kind: ValueI64, Int: v}, nil

	case idl.PrimitiveBool:
		b, err := r.take(1)
		if err != nil {
			return nil, err
		}
		var v bool
		if err := borsh.Deserialize(&v, b); err != nil {
			return nil, fmt.Errorf("%w: 0x%02x", ErrInvalidBool, b[0])
		}
		return &Value{Kind: ValueBool, Bool: v}, nil

	case idl.PrimitivePubkey:
		var pk types.Pubkey
		if err := r.decodeFixed(&pk, types.PubkeyLength); err != nil {
			return nil, err
		}
		return &Value{Kind: ValuePubkey, Pubkey: pk}, nil

	case idl.PrimitiveString:
		s, err := r.readString()
		if err != nil {
			return nil, err
		}
		return &Value{Kind: ValueString, Str: s}, nil

	default:
		return nil, fmt.Errorf("%w: primitive %s", ErrUnknownType, k)
	}
}

// readString u32 LE 长度前缀 + UTF-8 字节
// 长度先与剩余字节比较，超出直接报错，不按前缀分配内存
func (r *reader) readString() (string, error) {
	if r.remaining() < 4 {
		return "", fmt.Errorf("%w: string length prefix at offset %d", ErrUnexpectedEOF, r.pos)
	}
	var n uint32
	if err := borsh.Deserialize(&n, r.buf[r.pos:r.pos+4]); err != nil {
		return "", err
	}
	if uint64(n) > uint64(r.remaining()-4) {
		return "", fmt.Errorf("%w: string length %d exceeds remaining %d bytes", ErrUnexpectedEOF, n, r.remaining()-4)
	}

	window, err := r.take(4 + int(n))
	if err != nil {
		return "", err
	}
	var s string
	if err := borsh.Deserialize(&s, window); err != nil {
		return "", err
	}
	if !utf8.ValidString(s) {
		return "", ErrInvalidUTF8
	}
	return s, nil
}
