package utils

import "sync"

// ParallelMap 使用最多 workers 个协程并发处理 inputs，结果顺序与输入一致。
// 输入不多于 1 个或 workers <= 1 时直接在当前协程处理。
func ParallelMap[T any, R any](inputs []T, workers int, fn func(T) R) []R {
	n := len(inputs)
	results := make([]R, n)
	if n == 0 {
		return results
	}
	if n == 1 || workers <= 1 {
		for i, in := range inputs {
			results[i] = fn(in)
		}
		return results
	}
	if workers > n {
		workers = n
	}

	// 任务按下标分发，各协程只写自己的槽位，无需加锁
	idxCh := make(chan int, n)
	for i := 0; i < n; i++ {
		idxCh <- i
	}
	close(idxCh)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range idxCh {
				results[i] = fn(inputs[i])
			}
		}()
	}
	wg.Wait()
	return results
}
