package cache

import (
	"bytes"
	"sort"
	"sync"

	"idl-decoder-sol/internal/logic/decoder"
	"idl-decoder-sol/internal/types"
)

// ProgramCache 程序地址 -> 已编译解码器，读多写少
type ProgramCache struct {
	mu       sync.RWMutex
	programs map[types.Pubkey]*decoder.Program
}

func NewProgramCache() *ProgramCache {
	return &ProgramCache{
		programs: make(map[types.Pubkey]*decoder.Program),
	}
}

func (pc *ProgramCache) Get(addr types.Pubkey) (*decoder.Program, bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	p, ok := pc.programs[addr]
	return p, ok
}

// Set 写入或覆盖单个程序，返回被替换的旧版本
func (pc *ProgramCache) Set(p *decoder.Program) (old *decoder.Program) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	old = pc.programs[p.Address]
	pc.programs[p.Address] = p
	return old
}

func (pc *ProgramCache) Remove(addr types.Pubkey) bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if _, ok := pc.programs[addr]; !ok {
		return false
	}
	delete(pc.programs, addr)
	return true
}

// Swap 整表替换，读方要么看到旧表要么看到新表
func (pc *ProgramCache) Swap(programs map[types.Pubkey]*decoder.Program) {
	next := make(map[types.Pubkey]*decoder.Program, len(programs))
	for k, v := range programs {
		next[k] = v
	}
	pc.mu.Lock()
	pc.programs = next
	pc.mu.Unlock()
}

func (pc *ProgramCache) Len() int {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return len(pc.programs)
}

// Addresses 返回所有程序地址，按字节序排序
func (pc *ProgramCache) Addresses() []types.Pubkey {
	pc.mu.RLock()
	addrs := make([]types.Pubkey, 0, len(pc.programs))
	for addr := range pc.programs {
		addrs = append(addrs, addr)
	}
	pc.mu.RUnlock()

	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})
	return addrs
}
