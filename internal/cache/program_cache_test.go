package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idl-decoder-sol/internal/logic/decoder"
	"idl-decoder-sol/internal/types"
)

func compileProgram(t *testing.T, addr types.Pubkey, name string) *decoder.Program {
	t.Helper()
	idl := fmt.Sprintf(`{
		"address": %q,
		"metadata": {"name": %q, "version": "0.1.0"},
		"instructions": [{"name": "ping", "discriminator": [1,1,1,1,1,1,1,1], "accounts": [], "args": []}]
	}`, addr.String(), name)
	p, err := decoder.CompileJSON([]byte(idl))
	require.NoError(t, err)
	return p
}

func pubkey(b byte) types.Pubkey {
	var pk types.Pubkey
	pk[0] = b
	pk[31] = 1
	return pk
}

func TestProgramCache_SetGetRemove(t *testing.T) {
	pc := NewProgramCache()
	a := compileProgram(t, pubkey(1), "a")

	_, ok := pc.Get(a.Address)
	assert.False(t, ok)

	assert.Nil(t, pc.Set(a))
	got, ok := pc.Get(a.Address)
	require.True(t, ok)
	assert.Same(t, a, got)

	a2 := compileProgram(t, pubkey(1), "a2")
	assert.Same(t, a, pc.Set(a2), "覆盖时返回旧版本")
	got, _ = pc.Get(a.Address)
	assert.Equal(t, "a2", got.Name)

	assert.True(t, pc.Remove(a.Address))
	assert.False(t, pc.Remove(a.Address))
	assert.Equal(t, 0, pc.Len())
}

func TestProgramCache_SwapAndAddresses(t *testing.T) {
	pc := NewProgramCache()
	pc.Set(compileProgram(t, pubkey(9), "old"))

	next := map[types.Pubkey]*decoder.Program{
		pubkey(3): compileProgram(t, pubkey(3), "c"),
		pubkey(2): compileProgram(t, pubkey(2), "b"),
	}
	pc.Swap(next)
	delete(next, pubkey(2))

	assert.Equal(t, 2, pc.Len(), "Swap 复制入参，外部修改不影响缓存")
	assert.Equal(t, []types.Pubkey{pubkey(2), pubkey(3)}, pc.Addresses())
	_, ok := pc.Get(pubkey(9))
	assert.False(t, ok)
}

func TestProgramCache_Concurrent(t *testing.T) {
	pc := NewProgramCache()
	p := compileProgram(t, pubkey(5), "p")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				pc.Set(p)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				pc.Get(p.Address)
				pc.Addresses()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, pc.Len())
}
