package decoder

import (
	"bytes"
	"fmt"

	"idl-decoder-sol/internal/logic/idl"
	"idl-decoder-sol/internal/types"
)

// Instruction 编译后的指令
// Args 为 nil 表示无参数指令，只有判别符与账户表
type Instruction struct {
	Name          string
	TypeName      string
	Discriminator idl.Discriminator
	Args          *TypeDef
	Accounts      *AccountIndexTable

	allowTrailing bool
}

// DecodedInstruction 指令解码结果
//   - 普通指令：Args 为参数（无参数指令为 nil）
//   - emit_cpi 自调用：Event 非空，Name 为 "emit_cpi"
type DecodedInstruction struct {
	Name          string
	TypeName      string
	Discriminator idl.Discriminator
	Args          *Value
	Event         *DecodedEvent

	def *Instruction
}

const emitCpiName = "emit_cpi"

func (d *DecodedInstruction) IsEmitCpi() bool {
	return d.Event != nil
}

// Definition 返回匹配到的指令定义，emit_cpi 时为 nil
func (d *DecodedInstruction) Definition() *Instruction {
	return d.def
}

// MapAccounts 见 AccountIndexTable.MapAccounts；emit_cpi 没有声明的账户表，返回 nil
func (d *DecodedInstruction) MapAccounts(keys []types.Pubkey) map[string]types.Pubkey {
	if d.def == nil {
		return nil
	}
	return d.def.MapAccounts(keys)
}

func compileInstruction(b *typeBuilder, ix *idl.Instruction, allowTrailing bool) (*Instruction, error) {
	out := &Instruction{
		Name:          ix.Name,
		TypeName:      CamelCase(ix.Name),
		Discriminator: ix.Discriminator,
		allowTrailing: allowTrailing,
	}

	if len(ix.Args) > 0 {
		args, err := b.anonymous(out.TypeName, ix.Args)
		if err != nil {
			return nil, err
		}
		out.Args = args
	}

	table, err := newAccountIndexTable(ix.Accounts)
	if err != nil {
		return nil, err
	}
	out.Accounts = table
	return out, nil
}

func (ix *Instruction) HasArgs() bool {
	return ix.Args != nil
}

// Decode 校验 8 字节判别符后解码参数
func (ix *Instruction) Decode(data []byte) (*DecodedInstruction, error) {
	if len(data) < idl.DiscriminatorLen {
		return nil, ErrDataTooShort
	}
	if !bytes.Equal(data[:idl.DiscriminatorLen], ix.Discriminator[:]) {
		return nil, fmt.Errorf("%w: %x is not %s", ErrUnknownDiscriminator, data[:idl.DiscriminatorLen], ix.Name)
	}
	return ix.decodePayload(data[idl.DiscriminatorLen:])
}

// decodePayload payload 为去掉判别符之后的字节
// 无参数指令忽略 payload
func (ix *Instruction) decodePayload(payload []byte) (*DecodedInstruction, error) {
	out := &DecodedInstruction{
		Name:          ix.Name,
		TypeName:      ix.TypeName,
		Discriminator: ix.Discriminator,
		def:           ix,
	}
	if ix.Args == nil {
		return out, nil
	}

	var (
		args *Value
		err  error
	)
	if ix.allowTrailing {
		args, _, err = ix.Args.DecodePrefix(payload)
	} else {
		args, err = ix.Args.Decode(payload)
	}
	if err != nil {
		return nil, fmt.Errorf("instruction %s: %w", ix.Name, err)
	}
	out.Args = args
	return out, nil
}

// MapAccounts 账户名 -> 调用时的账户地址
func (ix *Instruction) MapAccounts(keys []types.Pubkey) map[string]types.Pubkey {
	return ix.Accounts.MapAccounts(keys)
}
