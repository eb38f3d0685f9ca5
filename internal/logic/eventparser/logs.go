package eventparser

import (
	"encoding/base64"
	"strings"

	"idl-decoder-sol/internal/types"
)

const (
	programPrefix     = "Program "
	programDataPrefix = "Program data: "
	logTruncated      = "Log truncated"
)

// scanProgramData 扫描交易日志，把每条 "Program data:" 归属到当前调用栈顶的程序。
// 调用栈由 "Program <id> invoke [n]" 入栈、"Program <id> success" / "failed" 出栈维护；
// ixIndex 为所在主指令序号（invoke [1] 计数），seq 为该主指令内的日志事件序号。
func scanProgramData(logs []string, fn func(programID types.Pubkey, ixIndex uint16, seq int, data []byte)) {
	var (
		stack   []types.Pubkey
		ixIndex = -1
		seq     int
	)

	for _, line := range logs {
		if strings.HasPrefix(line, logTruncated) {
			return
		}

		if strings.HasPrefix(line, programDataPrefix) {
			if len(stack) == 0 || ixIndex < 0 {
				continue
			}
			data, ok := decodeLogData(line[len(programDataPrefix):])
			if !ok {
				continue
			}
			fn(stack[len(stack)-1], uint16(ixIndex), seq, data)
			seq++
			continue
		}

		if !strings.HasPrefix(line, programPrefix) {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 3 {
			continue
		}
		switch {
		case parts[2] == "invoke":
			pk, err := types.TryPubkeyFromBase58(parts[1])
			if err != nil {
				// 无法识别的程序仍要入栈，保证后续出栈配对
				pk = types.Pubkey{}
			}
			if len(parts) >= 4 && parts[3] == "[1]" {
				stack = stack[:0]
				ixIndex++
				seq = 0
			}
			stack = append(stack, pk)
		case parts[2] == "success" || strings.HasPrefix(parts[2], "failed"):
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
}

// decodeLogData sol_log_data 可以输出多段 base64，用空格分隔，按顺序拼接
func decodeLogData(s string) ([]byte, bool) {
	var out []byte
	for _, chunk := range strings.Fields(s) {
		b, err := base64.StdEncoding.DecodeString(chunk)
		if err != nil {
			return nil, false
		}
		out = append(out, b...)
	}
	return out, len(out) > 0
}
