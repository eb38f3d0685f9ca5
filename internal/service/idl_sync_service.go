package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"idl-decoder-sol/internal/cache"
	"idl-decoder-sol/internal/config"
	"idl-decoder-sol/internal/consts"
	"idl-decoder-sol/internal/logic/decoder"
	"idl-decoder-sol/internal/types"
	"idl-decoder-sol/pkg/logger"
)

// loadedIdl 一个 IDL 文件的最近一次编译结果
type loadedIdl struct {
	hash       [sha256.Size]byte
	program    *decoder.Program    // 最近一次编译成功的版本
	deps       map[string]struct{} // program 引用了哪些文件的外部类型
	unresolved bool                // 最近一次编译因外部类型缺失失败，其他文件变化后重试
}

// SyncResult 一次目录扫描的统计
type SyncResult struct {
	Loaded  int // 新增或重新编译成功
	Failed  int // 编译失败（沿用旧版本）
	Removed int // 文件删除
	Active  int // 当前生效的程序数
}

// IdlSyncService 定期扫描 IDL 目录，编译变化的文件并整表替换 ProgramCache
type IdlSyncService struct {
	dir      string
	interval time.Duration
	opts     []decoder.Option
	programs *cache.ProgramCache

	mu    sync.Mutex
	files map[string]*loadedIdl // 文件路径 -> 编译结果
	order []string              // 本轮文件路径（排序），外部类型按此顺序查找

	ctx      context.Context
	cancel   func(err error)
	stopChan chan struct{}
}

// NewIdlSyncService 创建服务并同步加载一次，目录不可读时返回错误
func NewIdlSyncService(cfg *config.IdlConfig, programs *cache.ProgramCache) (*IdlSyncService, error) {
	ctx, cancel := context.WithCancelCause(context.Background())
	s := &IdlSyncService{
		dir:      cfg.Dir,
		interval: time.Duration(cfg.ReloadIntervalSec) * time.Second,
		opts: []decoder.Option{
			decoder.WithStrictTypes(cfg.StrictTypes),
			decoder.WithTrailingBytes(cfg.AllowTrailingBytes),
		},
		programs: programs,
		files:    make(map[string]*loadedIdl),
		ctx:      ctx,
		cancel:   cancel,
		stopChan: make(chan struct{}),
	}

	res, err := s.Sync()
	if err != nil {
		return nil, err
	}
	logger.Infof("[IdlSync] 初始加载完成: loaded=%d failed=%d active=%d", res.Loaded, res.Failed, res.Active)
	return s, nil
}

func (s *IdlSyncService) Start() {
	if s.interval > 0 {
		s.scheduleNext()
	}
	<-s.stopChan
}

func (s *IdlSyncService) scheduleNext() {
	time.AfterFunc(s.interval, func() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		if res, err := s.Sync(); err != nil {
			logger.Warnf("[IdlSync] 周期性同步失败: %v", err)
		} else if res.Loaded > 0 || res.Removed > 0 {
			logger.Infof("[IdlSync] 同步完成: loaded=%d failed=%d removed=%d active=%d",
				res.Loaded, res.Failed, res.Removed, res.Active)
		}
		s.scheduleNext()
	})
}

func (s *IdlSyncService) Stop() {
	s.cancel(errors.New("IdlSyncService stop"))
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
}

// Sync 扫描一次目录：
//  1. 内容 hash 未变化、且依赖的文件也未变化的跳过
//  2. 其余文件重新编译，引用其他 IDL 中的类型时按路径顺序查找；
//     互相依赖的文件多轮编译直到没有新的文件成功
//  3. 编译失败时保留该文件上一次成功的版本
//  4. 已删除的文件对应的程序下线
//  5. 按程序地址整表替换缓存，多个文件声明同一地址时保留路径排序靠前的
func (s *IdlSyncService) Sync() (res SyncResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[IdlSync] sync panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("sync panic: %v", r)
		}
	}()

	paths, err := filepath.Glob(filepath.Join(s.dir, consts.IdlFilePattern))
	if err != nil {
		return res, fmt.Errorf("glob %s: %w", s.dir, err)
	}
	if _, err := os.Stat(s.dir); err != nil {
		return res, fmt.Errorf("idl dir %s: %w", s.dir, err)
	}
	sort.Strings(paths)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = paths

	// 1. 读取并找出需要编译的文件
	contents := make(map[string][]byte, len(paths))
	changed := make(map[string]bool, len(paths)) // 自身内容有变化
	dirty := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			res.Failed++
			logger.Errorf("[IdlSync] 读取 %s 失败，沿用旧版本: %v", path, err)
			continue
		}
		contents[path] = data
		hash := sha256.Sum256(data)
		f, ok := s.files[path]
		if !ok {
			f = &loadedIdl{}
			s.files[path] = f
		}
		if !ok || f.hash != hash {
			changed[path] = true
			dirty[path] = struct{}{}
		} else if f.unresolved {
			dirty[path] = struct{}{}
		}
		f.hash = hash
	}

	for path := range s.files {
		if _, ok := contents[path]; ok {
			continue
		}
		if !fileListed(paths, path) {
			delete(s.files, path)
			res.Removed++
			dirty[path] = struct{}{}
			logger.Infof("[IdlSync] %s 已删除，程序下线", path)
		}
	}

	// 依赖的文件有变化时一并重新编译
	for grown := true; grown; {
		grown = false
		for path := range contents {
			if _, ok := dirty[path]; ok {
				continue
			}
			for dep := range s.files[path].deps {
				if _, ok := dirty[dep]; ok {
					dirty[path] = struct{}{}
					grown = true
					break
				}
			}
		}
	}

	// 2. 编译
	compiled, errs, used := s.compileAll(paths, contents, dirty)
	for _, path := range paths {
		if _, ok := dirty[path]; !ok {
			continue
		}
		if _, ok := contents[path]; !ok {
			continue
		}
		f := s.files[path]
		if program, ok := compiled[path]; ok {
			f.program, f.deps, f.unresolved = program, used[path], false
			res.Loaded++
			logger.Infof("[IdlSync] 加载 %s: program=%s name=%s version=%s instructions=%d accounts=%d events=%d",
				filepath.Base(path), program.Address, program.Name, program.Version,
				len(program.Instructions()), len(program.Accounts()), len(program.Events()))
			continue
		}

		err := errs[path]
		retrying := f.unresolved && !changed[path]
		f.unresolved = errors.Is(err, decoder.ErrUnresolvedType)
		if retrying {
			// 内容未变的文件仍缺外部类型，不重复报错
			logger.Debugf("[IdlSync] %s 仍无法解析外部类型: %v", path, err)
			continue
		}
		res.Failed++
		logger.Errorf("[IdlSync] %s 编译失败，沿用旧版本: %v", path, err)
	}

	// 3. 整表替换
	next := make(map[types.Pubkey]*decoder.Program, len(s.files))
	owner := make(map[types.Pubkey]string, len(s.files))
	for _, path := range paths {
		f, ok := s.files[path]
		if !ok || f.program == nil {
			continue
		}
		addr := f.program.Address
		if prev, dup := owner[addr]; dup {
			logger.Errorf("[IdlSync] %s 与 %s 声明了相同的程序地址 %s，忽略前者", path, prev, addr)
			continue
		}
		owner[addr] = path
		next[addr] = f.program
	}
	s.programs.Swap(next)
	res.Active = len(next)
	return res, nil
}

// compileAll 多轮编译 dirty 中的文件：
// 前几轮外部类型只从本轮已编译成功或无需重编的文件中查找，直到没有新的文件成功；
// 最后一轮允许使用仍编译失败的文件的旧版本
func (s *IdlSyncService) compileAll(paths []string, contents map[string][]byte, dirty map[string]struct{}) (
	compiled map[string]*decoder.Program, errs map[string]error, used map[string]map[string]struct{},
) {
	compiled = make(map[string]*decoder.Program, len(dirty))
	errs = make(map[string]error, len(dirty))
	used = make(map[string]map[string]struct{}, len(dirty))

	pending := make([]string, 0, len(dirty))
	for _, path := range paths {
		if _, ok := dirty[path]; ok && contents[path] != nil {
			pending = append(pending, path)
		}
	}

	for fallback := false; len(pending) > 0; {
		var retry []string
		for _, path := range pending {
			deps := make(map[string]struct{})
			ext := s.externalTypes(path, compiled, dirty, fallback, deps)
			opts := append(append([]decoder.Option(nil), s.opts...), decoder.WithExternalTypes(ext))
			program, err := decoder.CompileJSON(contents[path], opts...)
			if err != nil {
				errs[path] = err
				if errors.Is(err, decoder.ErrUnresolvedType) {
					retry = append(retry, path)
				}
				continue
			}
			compiled[path] = program
			used[path] = deps
			delete(errs, path)
		}

		switch {
		case len(retry) == 0 || fallback:
			return compiled, errs, used
		case len(retry) == len(pending):
			fallback = true
		}
		pending = retry
	}
	return compiled, errs, used
}

// externalTypes 按路径顺序在其他文件的程序中查找类型，命中的文件记入 deps。
// 需要重编的文件只使用本轮结果，fallback 时才退回旧版本
func (s *IdlSyncService) externalTypes(self string, compiled map[string]*decoder.Program, dirty map[string]struct{},
	fallback bool, deps map[string]struct{},
) decoder.ExternalTypes {
	return decoder.ExternalTypesFunc(func(name string) (*decoder.TypeDef, bool) {
		for _, path := range s.order {
			if path == self {
				continue
			}
			program := compiled[path]
			if program == nil {
				_, isDirty := dirty[path]
				if f := s.files[path]; f != nil && (!isDirty || fallback) {
					program = f.program
				}
			}
			if program == nil {
				continue
			}
			if td, ok := program.LookupType(name); ok {
				deps[path] = struct{}{}
				return td, true
			}
		}
		return nil, false
	})
}

func fileListed(paths []string, path string) bool {
	i := sort.SearchStrings(paths, path)
	return i < len(paths) && paths[i] == path
}
