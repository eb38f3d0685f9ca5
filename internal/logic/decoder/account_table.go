package decoder

import (
	"fmt"

	"idl-decoder-sol/internal/logic/idl"
	"idl-decoder-sol/internal/types"
)

// AccountSlot 指令账户表中的一项
type AccountSlot struct {
	Name     string
	Index    int
	Writable bool
	Signer   bool
	Optional bool
}

// AccountIndexTable 账户名 <-> 槽位下标的双向映射，下标为 0..n-1，与声明顺序一致
type AccountIndexTable struct {
	slots []AccountSlot
	index map[string]int
}

func newAccountIndexTable(accounts []idl.InstructionAccount) (*AccountIndexTable, error) {
	t := &AccountIndexTable{
		slots: make([]AccountSlot, 0, len(accounts)),
		index: make(map[string]int, len(accounts)),
	}
	for i, a := range accounts {
		if _, dup := t.index[a.Name]; dup {
			return nil, fmt.Errorf("%w: account %q", ErrDuplicateName, a.Name)
		}
		t.index[a.Name] = i
		t.slots = append(t.slots, AccountSlot{
			Name:     a.Name,
			Index:    i,
			Writable: a.Writable,
			Signer:   a.Signer,
			Optional: a.Optional,
		})
	}
	return t, nil
}

func (t *AccountIndexTable) Len() int {
	return len(t.slots)
}

// AccountName 按下标取账户名
func (t *AccountIndexTable) AccountName(i int) (string, bool) {
	if i < 0 || i >= len(t.slots) {
		return "", false
	}
	return t.slots[i].Name, true
}

// AccountIndex 按账户名取下标
func (t *AccountIndexTable) AccountIndex(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// All 返回全部槽位（副本）
func (t *AccountIndexTable) All() []AccountSlot {
	out := make([]AccountSlot, len(t.slots))
	copy(out, t.slots)
	return out
}

// MapAccounts 将调用时的账户列表按位置映射为 名称 -> 地址
// 超出声明数量的账户（remaining accounts）忽略，不足时缺失的名称不出现在结果中
func (t *AccountIndexTable) MapAccounts(keys []types.Pubkey) map[string]types.Pubkey {
	n := min(len(keys), len(t.slots))
	out := make(map[string]types.Pubkey, n)
	for i := 0; i < n; i++ {
		out[t.slots[i].Name] = keys[i]
	}
	return out
}
