package eventparser

import (
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"

	"idl-decoder-sol/internal/logic/core"
	"idl-decoder-sol/internal/types"
)

// AccountSnapshot 一个账户在某一时刻的原始数据
type AccountSnapshot struct {
	Address  types.Pubkey
	Owner    types.Pubkey
	Lamports uint64
	Data     []byte
}

// ExtractAccount 按 owner 程序的 IDL 解码账户数据，owner 未注册或判别符不匹配时返回 false
func ExtractAccount(programs ProgramSource, snap AccountSnapshot) (*core.Record, bool) {
	program, ok := programs.Get(snap.Owner)
	if !ok {
		return nil, false
	}
	decoded, ok := program.DecodeAccount(snap.Data)
	if !ok {
		return nil, false
	}

	payload := &structpb.Struct{Fields: map[string]*structpb.Value{
		"program":      structpb.NewStringValue(program.Address.String()),
		"program_name": structpb.NewStringValue(program.Name),
		"name":         structpb.NewStringValue(decoded.Name),
		"address":      structpb.NewStringValue(snap.Address.String()),
		"lamports":     structpb.NewStringValue(strconv.FormatUint(snap.Lamports, 10)),
		"data":         decoded.Data.ToProto(),
	}}
	return &core.Record{
		Type:      core.RecordAccount,
		ProgramID: program.Address,
		Key:       snap.Address[:],
		Name:      decoded.Name,
		Payload:   payload,
	}, true
}
