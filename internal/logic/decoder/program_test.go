package decoder

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/near/borsh-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idl-decoder-sol/internal/logic/idl"
	"idl-decoder-sol/internal/types"
)

const testAddress = "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"

func loadOrderBook(t *testing.T, opts ...Option) *Program {
	t.Helper()
	data, err := os.ReadFile("testdata/order_book.json")
	require.NoError(t, err)
	p, err := CompileJSON(data, opts...)
	require.NoError(t, err)
	return p
}

// miniSchema 拼装测试用 IDL，各参数为对应数组的 JSON 内容
func miniSchema(instructions, accounts, events, typeDefs string) []byte {
	return []byte(fmt.Sprintf(`{"address": %q, "instructions": [%s], "accounts": [%s], "events": [%s], "types": [%s]}`,
		testAddress, instructions, accounts, events, typeDefs))
}

func withDisc(d idl.Discriminator, payload []byte) []byte {
	out := make([]byte, 0, len(d)+len(payload))
	out = append(out, d[:]...)
	return append(out, payload...)
}

func mustSerialize(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := borsh.Serialize(v)
	require.NoError(t, err)
	return b
}

func TestCompile_CreateOrderScenario(t *testing.T) {
	p, err := CompileJSON(miniSchema(
		`{"name": "create_order", "discriminator": [1,2,3,4,5,6,7,8], "accounts": [], "args": [{"name": "amount", "type": "u64"}]}`,
		"", "", ""))
	require.NoError(t, err)

	ix, ok := p.DecodeInstruction([]byte{1, 2, 3, 4, 5, 6, 7, 8, 100, 0, 0, 0, 0, 0, 0, 0})
	require.True(t, ok)
	assert.Equal(t, "create_order", ix.Name)
	assert.Equal(t, "CreateOrder", ix.TypeName)
	amount, ok := ix.Args.Field("amount")
	require.True(t, ok)
	assert.Equal(t, ValueU64, amount.Kind)
	assert.Equal(t, uint64(100), amount.Uint)

	_, ok = p.DecodeInstruction([]byte{9, 9, 9, 9, 9, 9, 9, 9, 100, 0, 0, 0, 0, 0, 0, 0})
	assert.False(t, ok, "未知判别符不应有结果")

	_, ok = p.DecodeInstruction([]byte{1, 2, 3, 4, 5, 6, 7, 8, 100, 0, 0})
	assert.False(t, ok, "参数被截断不应有结果")

	_, ok = p.DecodeInstruction([]byte{1, 2, 3})
	assert.False(t, ok, "不足 8 字节不应有结果")
}

func TestCompile_VaultScenario(t *testing.T) {
	p, err := CompileJSON(miniSchema("",
		`{"name": "Vault", "discriminator": [5,5,5,5,5,5,5,5]}`, "",
		`{"name": "Vault", "type": {"kind": "struct", "fields": [{"name": "field", "type": "bool"}]}}`))
	require.NoError(t, err)

	acc, ok := p.DecodeAccount([]byte{5, 5, 5, 5, 5, 5, 5, 5, 1})
	require.True(t, ok)
	assert.Equal(t, "Vault", acc.Name)
	assert.Equal(t, map[string]interface{}{"field": true}, acc.Data.Interface())

	_, ok = p.DecodeAccount([]byte{5, 5, 5, 5, 5, 5, 5, 5})
	assert.False(t, ok, "缺少负载字节不应有结果")

	_, ok = p.DecodeAccount([]byte{5, 5, 5, 5, 5, 5, 5, 5, 2})
	assert.False(t, ok, "bool 只接受 0/1")
}

func TestProgram_OrderBook(t *testing.T) {
	p := loadOrderBook(t)

	assert.Equal(t, testAddress, p.Address.String())
	assert.Equal(t, "order_book", p.Name)
	assert.Len(t, p.Instructions(), 3)
	assert.Len(t, p.Accounts(), 2)
	assert.Len(t, p.Events(), 1)
	assert.Len(t, p.Types(), 6)

	closeIx, ok := p.Instruction("close")
	require.True(t, ok)
	assert.False(t, closeIx.HasArgs())

	_, ok = p.TypeDef("Node")
	assert.True(t, ok)
}

func TestProgram_PlaceOrderArgs(t *testing.T) {
	p := loadOrderBook(t)

	var delegate types.Pubkey
	delegate[0] = 7
	payload := mustSerialize(t, struct {
		Side     uint8
		Price    uint64
		Levels   [3]uint16
		Memo     string
		Delegate [32]byte
	}{
		Side:     1,
		Price:    1_000_000,
		Levels:   [3]uint16{10, 20, 65535},
		Memo:     "gm 🌞",
		Delegate: delegate,
	})

	ix, ok := p.DecodeInstruction(withDisc(idl.Discriminator{2, 0, 0, 0, 0, 0, 0, 1}, payload))
	require.True(t, ok)
	assert.Equal(t, "PlaceOrder", ix.TypeName)

	got := ix.Args.Interface().(map[string]interface{})
	assert.Equal(t, "Ask", got["side"])
	assert.Equal(t, uint64(1_000_000), got["price"], "别名类型按底层 u64 解码")
	assert.Equal(t, []interface{}{uint16(10), uint16(20), uint16(65535)}, got["levels"])
	assert.Equal(t, "gm 🌞", got["memo"])
	assert.Nil(t, got["expiry"], "不支持的 option 类型按零宽度 Unit 处理")
	assert.Equal(t, delegate, got["delegate"])
}

func TestProgram_FixedArrayRoundTrip(t *testing.T) {
	p, err := CompileJSON(miniSchema(
		`{"name": "set_weights", "discriminator": [3,3,3,3,3,3,3,3], "accounts": [], "args": [{"name": "weights", "type": {"array": ["u64", 4]}}]}`,
		"", "", ""))
	require.NoError(t, err)

	want := [4]uint64{1, 1 << 40, 0, ^uint64(0)}
	ix, ok := p.DecodeInstruction(withDisc(idl.Discriminator{3, 3, 3, 3, 3, 3, 3, 3}, mustSerialize(t, want)))
	require.True(t, ok)

	weights, ok := ix.Args.Field("weights")
	require.True(t, ok)
	require.Len(t, weights.Elems, 4)
	for i, e := range weights.Elems {
		assert.Equal(t, want[i], e.Uint, "下标 %d", i)
	}
}

func TestProgram_EventAndAccountDecode(t *testing.T) {
	p := loadOrderBook(t)

	var owner types.Pubkey
	owner[31] = 1
	payload := mustSerialize(t, struct {
		Owner  [32]byte
		Amount uint64
		Side   uint8
		Note   string
	}{Owner: owner, Amount: 42, Side: 0, Note: "hello"})

	ev, ok := p.DecodeEvent(withDisc(idl.Discriminator{10, 11, 12, 13, 14, 15, 16, 17}, payload))
	require.True(t, ok)
	assert.Equal(t, "OrderCreated", ev.Name)
	assert.Equal(t, map[string]interface{}{
		"owner":  owner,
		"amount": uint64(42),
		"side":   "Bid",
		"note":   "hello",
	}, ev.Data.Interface())

	// 账户：嵌套具名类型 + 长度为 0 的自引用数组
	marketPayload := mustSerialize(t, struct {
		Authority [32]byte
		FeeBps    uint16
		RootValue int64
	}{Authority: owner, FeeBps: 30, RootValue: -5})
	acc, ok := p.DecodeAccount(withDisc(idl.Discriminator{6, 6, 6, 6, 6, 6, 6, 6}, marketPayload))
	require.True(t, ok)
	root, ok := acc.Data.Field("root")
	require.True(t, ok)
	value, _ := root.Field("value")
	assert.Equal(t, int64(-5), value.Int)
	children, _ := root.Field("children")
	assert.Empty(t, children.Elems)

	// 账户与事件表相互独立
	_, ok = p.DecodeAccount(withDisc(idl.Discriminator{10, 11, 12, 13, 14, 15, 16, 17}, payload))
	assert.False(t, ok)
}

func TestProgram_DecodeEventInto(t *testing.T) {
	p := loadOrderBook(t)

	type orderCreated struct {
		Owner  [32]byte
		Amount uint64
		Side   uint8
		Note   string
	}
	want := orderCreated{Amount: 7, Side: 1, Note: "typed"}
	want.Owner[0] = 3
	data := withDisc(idl.Discriminator{10, 11, 12, 13, 14, 15, 16, 17}, mustSerialize(t, want))

	var got orderCreated
	require.NoError(t, p.DecodeEventInto("OrderCreated", data, &got))
	assert.Equal(t, want, got)

	// 截断数据在 IDL 布局校验阶段即被拒绝
	err := p.DecodeEventInto("OrderCreated", data[:len(data)-2], &got)
	assert.ErrorIs(t, err, ErrUnexpectedEOF)

	err = p.DecodeEventInto("Missing", data, &got)
	assert.ErrorIs(t, err, ErrMissingTypeDef)

	var vault struct{ Active bool }
	require.NoError(t, p.DecodeAccountInto("Vault", []byte{5, 5, 5, 5, 5, 5, 5, 5, 1}, &vault))
	assert.True(t, vault.Active)
}

func TestCompile_SchemaErrors(t *testing.T) {
	ixA := `{"name": "a", "discriminator": [1,1,1,1,1,1,1,1], "accounts": [], "args": []}`
	ixB := `{"name": "b", "discriminator": [1,1,1,1,1,1,1,1], "accounts": [], "args": []}`
	vault := `{"name": "Vault", "type": {"kind": "struct", "fields": [{"name": "active", "type": "bool"}]}}`

	tests := []struct {
		name     string
		doc      []byte
		opts     []Option
		wantErr  error
		category idl.Category
		item     string
	}{
		{
			name:     "指令判别符重复",
			doc:      miniSchema(ixA+","+ixB, "", "", ""),
			wantErr:  ErrDuplicateDiscriminator,
			category: idl.CategoryInstruction,
			item:     "b",
		},
		{
			name:     "指令判别符与 emit_cpi 冲突",
			doc:      miniSchema(`{"name": "emit", "discriminator": [228,69,165,46,81,203,154,29], "accounts": [], "args": []}`, "", "", ""),
			wantErr:  ErrReservedDiscriminator,
			category: idl.CategoryInstruction,
			item:     "emit",
		},
		{
			name: "账户判别符重复",
			doc: miniSchema("",
				`{"name": "Vault", "discriminator": [5,5,5,5,5,5,5,5]}, {"name": "Other", "discriminator": [5,5,5,5,5,5,5,5]}`, "",
				vault+`, {"name": "Other", "type": {"kind": "struct"}}`),
			wantErr:  ErrDuplicateDiscriminator,
			category: idl.CategoryAccount,
			item:     "Other",
		},
		{
			name:     "账户缺少同名类型",
			doc:      miniSchema("", `{"name": "Ghost", "discriminator": [5,5,5,5,5,5,5,5]}`, "", ""),
			wantErr:  ErrMissingTypeDef,
			category: idl.CategoryAccount,
			item:     "Ghost",
		},
		{
			name:     "事件缺少同名类型",
			doc:      miniSchema("", "", `{"name": "Ghost", "discriminator": [5,5,5,5,5,5,5,5]}`, ""),
			wantErr:  ErrMissingTypeDef,
			category: idl.CategoryEvent,
			item:     "Ghost",
		},
		{
			name:     "外部类型未提供",
			doc:      miniSchema(`{"name": "a", "discriminator": [1,1,1,1,1,1,1,1], "accounts": [], "args": [{"name": "p", "type": {"defined": {"name": "Elsewhere"}}}]}`, "", "", ""),
			wantErr:  ErrUnresolvedType,
			category: idl.CategoryInstruction,
			item:     "a",
		},
		{
			name:     "按值自包含",
			doc:      miniSchema("", "", "", `{"name": "Loop", "type": {"kind": "struct", "fields": [{"name": "next", "type": {"defined": {"name": "Loop"}}}]}}`),
			wantErr:  ErrRecursiveType,
			category: idl.CategoryType,
			item:     "Loop",
		},
		{
			name: "经数组间接自包含",
			doc: miniSchema("", "", "",
				`{"name": "A", "type": {"kind": "struct", "fields": [{"name": "b", "type": {"array": [{"defined": {"name": "B"}}, 2]}}]}},
				 {"name": "B", "type": {"kind": "struct", "fields": [{"name": "a", "type": {"defined": {"name": "A"}}}]}}`),
			wantErr:  ErrRecursiveType,
			category: idl.CategoryType,
		},
		{
			name:     "类型重名",
			doc:      miniSchema("", "", "", vault+","+vault),
			wantErr:  ErrDuplicateName,
			category: idl.CategoryType,
			item:     "Vault",
		},
		{
			name:     "指令重名",
			doc:      miniSchema(ixA+`, {"name": "a", "discriminator": [2,2,2,2,2,2,2,2], "accounts": [], "args": []}`, "", "", ""),
			wantErr:  ErrDuplicateName,
			category: idl.CategoryInstruction,
			item:     "a",
		},
		{
			name:     "指令账户重名",
			doc:      miniSchema(`{"name": "a", "discriminator": [1,1,1,1,1,1,1,1], "accounts": [{"name": "x"}, {"name": "x"}], "args": []}`, "", "", ""),
			wantErr:  ErrDuplicateName,
			category: idl.CategoryInstruction,
			item:     "a",
		},
		{
			name:     "严格模式拒绝未知类型",
			doc:      miniSchema(`{"name": "a", "discriminator": [1,1,1,1,1,1,1,1], "accounts": [], "args": [{"name": "v", "type": {"vec": "u8"}}]}`, "", "", ""),
			opts:     []Option{WithStrictTypes(true)},
			wantErr:  ErrUnknownType,
			category: idl.CategoryInstruction,
			item:     "a",
		},
		{
			name:     "程序地址非法",
			doc:      []byte(`{"address": "not-base58!", "instructions": []}`),
			wantErr:  ErrInvalidAddress,
			category: idl.CategorySchema,
		},
		{
			name:     "缺少 args",
			doc:      miniSchema(`{"name": "a", "discriminator": [1,1,1,1,1,1,1,1], "accounts": []}`, "", "", ""),
			wantErr:  idl.ErrMissingField,
			category: idl.CategoryInstruction,
			item:     "a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := CompileJSON(tt.doc, tt.opts...)
			require.Error(t, err)
			assert.Nil(t, p, "编译失败时不应返回部分结果")
			assert.True(t, errors.Is(err, tt.wantErr), "err=%v", err)

			var se *SchemaError
			require.True(t, errors.As(err, &se), "err=%v", err)
			assert.Equal(t, tt.category, se.Category)
			if tt.item != "" {
				assert.Equal(t, tt.item, se.Name)
			}
		})
	}
}

func TestCompile_DiscriminatorsIndependentAcrossCategories(t *testing.T) {
	p, err := CompileJSON(miniSchema(
		`{"name": "touch", "discriminator": [5,5,5,5,5,5,5,5], "accounts": [], "args": []}`,
		`{"name": "Vault", "discriminator": [5,5,5,5,5,5,5,5]}`,
		`{"name": "Touched", "discriminator": [5,5,5,5,5,5,5,5]}`,
		`{"name": "Vault", "type": {"kind": "struct", "fields": [{"name": "active", "type": "bool"}]}},
		 {"name": "Touched", "type": {"kind": "struct"}}`))
	require.NoError(t, err, "三类判别符各自独立，允许跨类别相同")

	data := []byte{5, 5, 5, 5, 5, 5, 5, 5}
	ix, ok := p.DecodeInstruction(data)
	require.True(t, ok)
	assert.Equal(t, "touch", ix.Name)

	ev, ok := p.DecodeEvent(data)
	require.True(t, ok)
	assert.Equal(t, "Touched", ev.Name)

	_, ok = p.DecodeAccount(data)
	assert.False(t, ok, "Vault 需要 1 字节负载")
}

func TestCompile_ExternalTypes(t *testing.T) {
	shared, err := CompileJSON(miniSchema("", "", "",
		`{"name": "Fee", "type": {"kind": "struct", "fields": [{"name": "bps", "type": "u16"}]}}`))
	require.NoError(t, err)

	doc := miniSchema(
		`{"name": "set_fee", "discriminator": [4,4,4,4,4,4,4,4], "accounts": [], "args": [{"name": "fee", "type": {"defined": {"name": "Fee"}}}]}`,
		"", "", "")

	p, err := CompileJSON(doc, WithExternalTypes(shared))
	require.NoError(t, err)

	ix, ok := p.DecodeInstruction([]byte{4, 4, 4, 4, 4, 4, 4, 4, 0x10, 0x27})
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"fee": map[string]interface{}{"bps": uint16(10000)}}, ix.Args.Interface())

	lookups := 0
	_, err = CompileJSON(doc, WithExternalTypes(ExternalTypesFunc(func(name string) (*TypeDef, bool) {
		lookups++
		return nil, false
	})))
	assert.ErrorIs(t, err, ErrUnresolvedType)
	assert.Equal(t, 1, lookups)
}

func TestCompile_LocalResolutionIgnoresDeclarationOrder(t *testing.T) {
	// Outer 先于 Inner 声明，仍应解析为本地类型
	p, err := CompileJSON(miniSchema("", "", "",
		`{"name": "Outer", "type": {"kind": "struct", "fields": [{"name": "inner", "type": {"defined": {"name": "Inner"}}}]}},
		 {"name": "Inner", "type": {"kind": "struct", "fields": [{"name": "x", "type": "u8"}]}}`))
	require.NoError(t, err)

	outer, ok := p.TypeDef("Outer")
	require.True(t, ok)
	assert.Equal(t, FieldDefined, outer.Fields[0].Type.Kind)
	v, err := outer.Decode([]byte{9})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"inner": map[string]interface{}{"x": uint8(9)}}, v.Interface())
}

func TestCompile_LegacyInlineLayouts(t *testing.T) {
	p, err := CompileJSON([]byte(`{
	  "name": "legacy",
	  "metadata": {"address": "` + testAddress + `"},
	  "instructions": [],
	  "accounts": [{"name": "Pool", "discriminator": [1,1,1,1,1,1,1,1],
	    "type": {"kind": "struct", "fields": [{"name": "fee", "type": "u16"}]}}],
	  "events": [{"name": "Swapped", "discriminator": [2,2,2,2,2,2,2,2],
	    "fields": [{"name": "amount", "type": "u64", "index": false}]}]
	}`))
	require.NoError(t, err)

	acc, ok := p.DecodeAccount([]byte{1, 1, 1, 1, 1, 1, 1, 1, 30, 0})
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"fee": uint16(30)}, acc.Data.Interface())

	ev, ok := p.DecodeEvent([]byte{2, 2, 2, 2, 2, 2, 2, 2, 1, 0, 0, 0, 0, 0, 0, 0})
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"amount": uint64(1)}, ev.Data.Interface())
}

func TestProgram_TrailingBytes(t *testing.T) {
	strict := loadOrderBook(t)
	lenient := loadOrderBook(t, WithTrailingBytes(true))

	data := []byte{5, 5, 5, 5, 5, 5, 5, 5, 1, 0xff}
	_, err := strict.TryDecodeAccount(data)
	assert.ErrorIs(t, err, ErrTrailingBytes)

	acc, ok := lenient.DecodeAccount(data)
	require.True(t, ok)
	active, _ := acc.Data.Field("active")
	assert.True(t, active.Bool)

	// 无参数指令不关心判别符之后的字节
	ix, ok := strict.DecodeInstruction([]byte{9, 0, 0, 0, 0, 0, 0, 9, 1, 2, 3})
	require.True(t, ok)
	assert.Equal(t, "close", ix.Name)
	assert.Nil(t, ix.Args)
}

func TestCamelCase(t *testing.T) {
	assert.Equal(t, "CreateOrder", CamelCase("create_order"))
	assert.Equal(t, "Swap", CamelCase("swap"))
	assert.Equal(t, "SwapBaseIn", CamelCase("swap__base_in_"))
	assert.Equal(t, "EmitCpi", CamelCase("emit_cpi"))
	assert.Equal(t, "", CamelCase(""))
}
