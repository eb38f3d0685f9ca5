package eventparser

import (
	"encoding/base64"
	"encoding/binary"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idl-decoder-sol/internal/logic/core"
	"idl-decoder-sol/internal/logic/decoder"
	"idl-decoder-sol/internal/types"
)

const vaultIDL = `{
	"address": "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc",
	"metadata": {"name": "vault", "version": "0.1.0"},
	"instructions": [
		{
			"name": "deposit",
			"discriminator": [1,2,3,4,5,6,7,8],
			"accounts": [{"name": "user", "signer": true}, {"name": "vault", "writable": true}],
			"args": [{"name": "amount", "type": "u64"}]
		}
	],
	"events": [{"name": "Deposited", "discriminator": [9,10,11,12,13,14,15,16]}],
	"types": [
		{"name": "Deposited", "type": {"kind": "struct", "fields": [
			{"name": "user", "type": "pubkey"},
			{"name": "amount", "type": "u64"}
		]}}
	]
}`

type programMap map[types.Pubkey]*decoder.Program

func (m programMap) Get(addr types.Pubkey) (*decoder.Program, bool) {
	p, ok := m[addr]
	return p, ok
}

type panicSource struct{}

func (panicSource) Get(types.Pubkey) (*decoder.Program, bool) {
	panic("boom")
}

func loadVault(t *testing.T) *decoder.Program {
	t.Helper()
	p, err := decoder.CompileJSON([]byte(vaultIDL))
	require.NoError(t, err)
	return p
}

func depositIx(amount uint64) []byte {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	return binary.LittleEndian.AppendUint64(data, amount)
}

func depositedEvent(user types.Pubkey, amount uint64) []byte {
	data := []byte{9, 10, 11, 12, 13, 14, 15, 16}
	data = append(data, user[:]...)
	return binary.LittleEndian.AppendUint64(data, amount)
}

func TestExtractEventsFromTx(t *testing.T) {
	p := loadVault(t)
	programs := programMap{p.Address: p}

	var user, vault, other types.Pubkey
	user[0], vault[0], other[0] = 1, 2, 3

	emitCpi := append(decoder.EmitCpiDiscriminator[:], depositedEvent(user, 7)...)
	logData := base64.StdEncoding.EncodeToString(depositedEvent(user, 9))
	prog := p.Address.String()

	tx := &core.AdaptedTx{
		TxCtx:     &core.TxContext{Slot: 1},
		TxIndex:   4,
		Signature: make([]byte, 64),
		Instructions: []*core.AdaptedInstruction{
			{IxIndex: 0, ProgramID: p.Address, Accounts: []types.Pubkey{user, vault}, Data: depositIx(5)},
			{IxIndex: 0, InnerIndex: 1, ProgramID: p.Address, Accounts: []types.Pubkey{vault}, Data: emitCpi},
			{IxIndex: 1, ProgramID: other, Data: depositIx(6)},
			{IxIndex: 2, ProgramID: p.Address, Data: []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		},
		LogMessages: []string{
			"Program " + prog + " invoke [1]",
			"Program log: Instruction: Deposit",
			"Program data: " + logData,
			"Program " + prog + " success",
			"Program 11111111111111111111111111111111 invoke [1]",
			"Program data: " + logData,
			"Program 11111111111111111111111111111111 success",
		},
	}

	records := ExtractEventsFromTx(programs, tx)
	require.Len(t, records, 3)

	ix := records[0]
	assert.Equal(t, core.RecordInstruction, ix.Type)
	assert.Equal(t, "deposit", ix.Name)
	assert.Equal(t, core.BuildEventID(4, 0, 0), ix.ID)
	assert.Equal(t, user[:], ix.Key, "分区 key 取第一个账户")
	assert.Equal(t, "5", ix.Payload.Fields["args"].GetStructValue().Fields["amount"].GetStringValue())
	accounts := ix.Payload.Fields["accounts"].GetStructValue().Fields
	assert.Equal(t, user.String(), accounts["user"].GetStringValue())
	assert.Equal(t, vault.String(), accounts["vault"].GetStringValue())
	assert.Equal(t, prog, ix.Payload.Fields["program"].GetStringValue())
	assert.Equal(t, "vault", ix.Payload.Fields["program_name"].GetStringValue())

	cpi := records[1]
	assert.Equal(t, core.RecordEvent, cpi.Type)
	assert.Equal(t, "Deposited", cpi.Name)
	assert.Equal(t, core.BuildEventID(4, 0, 1), cpi.ID)
	assert.Equal(t, "7", cpi.Payload.Fields["data"].GetStructValue().Fields["amount"].GetStringValue())

	logged := records[2]
	assert.Equal(t, core.RecordEvent, logged.Type)
	assert.Equal(t, core.BuildLogEventID(4, 0, 0), logged.ID)
	assert.Equal(t, float64(0), logged.Payload.Fields["log_index"].GetNumberValue())
	_, hasInner := logged.Payload.Fields["inner_index"]
	assert.False(t, hasInner)
	assert.Equal(t, strconv.FormatUint(logged.ID, 10), logged.Payload.Fields["id"].GetStringValue())
	assert.Equal(t, "9", logged.Payload.Fields["data"].GetStructValue().Fields["amount"].GetStringValue())
}

func TestExtractEventsFromTx_LogEventIDsUnique(t *testing.T) {
	p := loadVault(t)
	programs := programMap{p.Address: p}

	var user types.Pubkey
	user[0] = 1
	prog := p.Address.String()
	logData := base64.StdEncoding.EncodeToString(depositedEvent(user, 1))

	// 同一主指令下 0x80 号 inner 指令的 emit_cpi 事件
	instructions := []*core.AdaptedInstruction{
		{IxIndex: 0, InnerIndex: 0x80, ProgramID: p.Address, Data: append(decoder.EmitCpiDiscriminator[:], depositedEvent(user, 2)...)},
	}
	logs := []string{"Program " + prog + " invoke [1]"}
	for i := 0; i < 300; i++ {
		logs = append(logs, "Program data: "+logData)
	}
	logs = append(logs, "Program "+prog+" success")

	tx := &core.AdaptedTx{
		TxCtx:        &core.TxContext{Slot: 1},
		TxIndex:      4,
		Signature:    make([]byte, 64),
		Instructions: instructions,
		LogMessages:  logs,
	}

	records := ExtractEventsFromTx(programs, tx)
	require.Len(t, records, 301)

	ids := make(map[uint64]struct{}, len(records))
	for _, r := range records {
		ids[r.ID] = struct{}{}
	}
	assert.Len(t, ids, 301, "日志事件之间以及与 CPI 事件之间的 ID 不应重复")
	assert.Equal(t, core.BuildEventID(4, 0, 0x80), records[0].ID)
	assert.Equal(t, core.BuildLogEventID(4, 0, 299), records[300].ID)
}

func TestExtractEventsFromTx_RecoversPanic(t *testing.T) {
	tx := &core.AdaptedTx{
		Signature:    make([]byte, 64),
		Instructions: []*core.AdaptedInstruction{{Data: []byte{1}}},
	}
	assert.NotPanics(t, func() {
		assert.Nil(t, ExtractEventsFromTx(panicSource{}, tx))
	})
}

func TestScanProgramData(t *testing.T) {
	a := "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"
	b := "11111111111111111111111111111111"
	aKey := types.PubkeyFromBase58(a)
	bKey := types.PubkeyFromBase58(b)
	enc := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

	logs := []string{
		"Program data: " + enc("orphan"),
		"Program " + a + " invoke [1]",
		"Program data: " + enc("a0"),
		"Program " + b + " invoke [2]",
		"Program data: " + enc("b0"),
		"Program " + b + " success",
		"Program data: " + enc("a1") + " " + enc("-tail"),
		"Program data: !!!not-base64",
		"Program " + a + " consumed 100 of 200000 compute units",
		"Program " + a + " failed: custom program error: 0x1",
		"Program " + b + " invoke [1]",
		"Program data: " + enc("b1"),
		"Log truncated",
		"Program data: " + enc("after"),
	}

	type hit struct {
		program types.Pubkey
		ix      uint16
		seq     int
		data    string
	}
	var hits []hit
	scanProgramData(logs, func(programID types.Pubkey, ixIndex uint16, seq int, data []byte) {
		hits = append(hits, hit{programID, ixIndex, seq, string(data)})
	})

	assert.Equal(t, []hit{
		{aKey, 0, 0, "a0"},
		{bKey, 0, 1, "b0"},
		{aKey, 0, 2, "a1-tail"},
		{bKey, 1, 0, "b1"},
	}, hits)
}

func TestExtractAccount(t *testing.T) {
	idl := `{
		"address": "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc",
		"metadata": {"name": "vault"},
		"instructions": [],
		"accounts": [{"name": "Vault", "discriminator": [5,5,5,5,5,5,5,5]}],
		"types": [{"name": "Vault", "type": {"kind": "struct", "fields": [{"name": "bump", "type": "u8"}]}}]
	}`
	p, err := decoder.CompileJSON([]byte(idl))
	require.NoError(t, err)
	programs := programMap{p.Address: p}

	var addr types.Pubkey
	addr[0] = 7
	snap := AccountSnapshot{Address: addr, Owner: p.Address, Lamports: 1_000_000, Data: []byte{5, 5, 5, 5, 5, 5, 5, 5, 254}}

	rec, ok := ExtractAccount(programs, snap)
	require.True(t, ok)
	assert.Equal(t, core.RecordAccount, rec.Type)
	assert.Equal(t, "Vault", rec.Name)
	assert.Equal(t, addr[:], rec.Key)
	assert.Equal(t, "1000000", rec.Payload.Fields["lamports"].GetStringValue())
	assert.Equal(t, float64(254), rec.Payload.Fields["data"].GetStructValue().Fields["bump"].GetNumberValue())

	snap.Data = snap.Data[:8]
	_, ok = ExtractAccount(programs, snap)
	assert.False(t, ok, "截断数据无结果")

	snap.Owner = addr
	_, ok = ExtractAccount(programs, snap)
	assert.False(t, ok, "owner 未注册")
}
