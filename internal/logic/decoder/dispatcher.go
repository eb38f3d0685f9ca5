package decoder

import (
	"errors"
	"fmt"

	"idl-decoder-sol/internal/logic/idl"
	"idl-decoder-sol/pkg/logger"
)

// EmitCpiDiscriminator Anchor emit_cpi 自调用指令的判别符
// 事件通过 self-CPI 写入指令数据，避免日志被 RPC 截断
var EmitCpiDiscriminator = idl.Discriminator{228, 69, 165, 46, 81, 203, 154, 29}

// Dispatcher 三张相互独立的 判别符 -> 解码器 表，构建后只读，可并发调用
type Dispatcher struct {
	instructions map[idl.Discriminator]*Instruction
	accounts     map[idl.Discriminator]*Layout
	events       map[idl.Discriminator]*Layout
}

func newDispatcher() *Dispatcher {
	return &Dispatcher{
		instructions: make(map[idl.Discriminator]*Instruction),
		accounts:     make(map[idl.Discriminator]*Layout),
		events:       make(map[idl.Discriminator]*Layout),
	}
}

func (d *Dispatcher) registerInstruction(ix *Instruction) error {
	if ix.Discriminator == EmitCpiDiscriminator {
		return fmt.Errorf("%w: %s", ErrReservedDiscriminator, ix.Discriminator)
	}
	if prev, ok := d.instructions[ix.Discriminator]; ok {
		return fmt.Errorf("%w: %s already used by instruction %q", ErrDuplicateDiscriminator, ix.Discriminator, prev.Name)
	}
	d.instructions[ix.Discriminator] = ix
	return nil
}

func (d *Dispatcher) registerLayout(l *Layout) error {
	table := d.accounts
	if l.Category == idl.CategoryEvent {
		table = d.events
	}
	if prev, ok := table[l.Discriminator]; ok {
		return fmt.Errorf("%w: %s already used by %s %q", ErrDuplicateDiscriminator, l.Discriminator, l.Category, prev.Name)
	}
	table[l.Discriminator] = l
	return nil
}

func splitDiscriminator(data []byte) (idl.Discriminator, []byte, error) {
	var disc idl.Discriminator
	if len(data) < idl.DiscriminatorLen {
		return disc, nil, ErrDataTooShort
	}
	copy(disc[:], data[:idl.DiscriminatorLen])
	return disc, data[idl.DiscriminatorLen:], nil
}

// TryDecodeInstruction 解码指令数据，失败时返回原因
// 指令表未命中且前缀为 emit_cpi 判别符时，剩余字节按事件解码
func (d *Dispatcher) TryDecodeInstruction(data []byte) (*DecodedInstruction, error) {
	disc, payload, err := splitDiscriminator(data)
	if err != nil {
		return nil, err
	}

	if ix, ok := d.instructions[disc]; ok {
		return ix.decodePayload(payload)
	}

	if disc == EmitCpiDiscriminator {
		ev, err := d.TryDecodeEvent(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", emitCpiName, err)
		}
		return &DecodedInstruction{
			Name:          emitCpiName,
			TypeName:      CamelCase(emitCpiName),
			Discriminator: EmitCpiDiscriminator,
			Event:         ev,
		}, nil
	}

	return nil, fmt.Errorf("%w: instruction %s", ErrUnknownDiscriminator, disc)
}

// TryDecodeAccount 解码账户数据，无 emit_cpi 回退
func (d *Dispatcher) TryDecodeAccount(data []byte) (*DecodedAccount, error) {
	disc, payload, err := splitDiscriminator(data)
	if err != nil {
		return nil, err
	}
	l, ok := d.accounts[disc]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrUnknownDiscriminator, disc)
	}
	v, err := l.decodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &DecodedAccount{Name: l.Name, Discriminator: disc, Data: v}, nil
}

// TryDecodeEvent 解码事件数据，无 emit_cpi 回退
func (d *Dispatcher) TryDecodeEvent(data []byte) (*DecodedEvent, error) {
	disc, payload, err := splitDiscriminator(data)
	if err != nil {
		return nil, err
	}
	l, ok := d.events[disc]
	if !ok {
		return nil, fmt.Errorf("%w: event %s", ErrUnknownDiscriminator, disc)
	}
	v, err := l.decodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &DecodedEvent{Name: l.Name, Discriminator: disc, Data: v}, nil
}

// DecodeInstruction 未命中或解码失败都返回 false，不会 panic
func (d *Dispatcher) DecodeInstruction(data []byte) (res *DecodedInstruction, ok bool) {
	defer recoverDecode("DecodeInstruction", data, &ok)
	res, err := d.TryDecodeInstruction(data)
	logDecodeErr("DecodeInstruction", err)
	return res, err == nil
}

func (d *Dispatcher) DecodeAccount(data []byte) (res *DecodedAccount, ok bool) {
	defer recoverDecode("DecodeAccount", data, &ok)
	res, err := d.TryDecodeAccount(data)
	logDecodeErr("DecodeAccount", err)
	return res, err == nil
}

func (d *Dispatcher) DecodeEvent(data []byte) (res *DecodedEvent, ok bool) {
	defer recoverDecode("DecodeEvent", data, &ok)
	res, err := d.TryDecodeEvent(data)
	logDecodeErr("DecodeEvent", err)
	return res, err == nil
}

// logDecodeErr 只记录判别符命中但负载解码失败的情况，未命中属于常态
func logDecodeErr(op string, err error) {
	if err == nil || errors.Is(err, ErrDataTooShort) || errors.Is(err, ErrUnknownDiscriminator) {
		return
	}
	logger.Debugf("[decoder] %s failed: %v", op, err)
}

func recoverDecode(op string, data []byte, ok *bool) {
	if r := recover(); r != nil {
		logger.Errorf("[decoder] %s panic: %v, len=%d", op, r, len(data))
		*ok = false
	}
}
