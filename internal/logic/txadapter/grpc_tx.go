package txadapter

import (
	"fmt"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"

	"idl-decoder-sol/internal/logic/core"
	"idl-decoder-sol/internal/types"
)

// buildFullAccountKeys 构造交易中完整的账户 Pubkey 列表。
// 拼接 message.accountKeys 与 Address Lookup Table 中的 writable / readonly 地址，
// 供后续通过 accountIndex 索引使用。
func buildFullAccountKeys(accountKeys, loadedWritable, loadedReadonly [][]byte) ([]types.Pubkey, error) {
	total := len(accountKeys) + len(loadedWritable) + len(loadedReadonly)
	pubkeys := make([]types.Pubkey, 0, total)

	for _, part := range []struct {
		name string
		keys [][]byte
	}{
		{"accountKeys", accountKeys},
		{"loadedWritable", loadedWritable},
		{"loadedReadonly", loadedReadonly},
	} {
		for i, b := range part.keys {
			pk, err := types.PubkeyFromBytes(b)
			if err != nil {
				return nil, fmt.Errorf("invalid pubkey in %s at index %d: %w", part.name, i, err)
			}
			pubkeys = append(pubkeys, pk)
		}
	}
	return pubkeys, nil
}

// resolveAccounts 将指令中的账户索引映射为 Pubkey
func resolveAccounts(indexes []byte, accountKeys []types.Pubkey) ([]types.Pubkey, error) {
	accounts := make([]types.Pubkey, 0, len(indexes))
	for _, idx := range indexes {
		if int(idx) >= len(accountKeys) {
			return nil, fmt.Errorf("account index %d out of range (%d keys)", idx, len(accountKeys))
		}
		accounts = append(accounts, accountKeys[idx])
	}
	return accounts, nil
}

func programAt(idx uint32, accountKeys []types.Pubkey) (types.Pubkey, error) {
	if int(idx) >= len(accountKeys) {
		return types.Pubkey{}, fmt.Errorf("program index %d out of range (%d keys)", idx, len(accountKeys))
	}
	return accountKeys[idx], nil
}

// buildAdaptedInstructions 扁平化主指令与 inner 指令，输出统一结构。
//   - IxIndex：主指令索引；
//   - InnerIndex：0 表示主指令，1 及以上表示对应的 inner 指令序号。
func buildAdaptedInstructions(
	tx *pb.SubscribeUpdateTransactionInfo,
	accountKeys []types.Pubkey,
) ([]*core.AdaptedInstruction, error) {
	rawInstructions := tx.Transaction.Message.Instructions
	rawInners := tx.Meta.GetInnerInstructions()

	// 预分配容量：假设每条主指令平均含有 2 条 inner 指令
	instructions := make([]*core.AdaptedInstruction, 0, max(len(rawInstructions)*2, 32))
	innerIndex := 0

	for i, inst := range rawInstructions {
		programID, err := programAt(inst.ProgramIdIndex, accountKeys)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		accounts, err := resolveAccounts(inst.Accounts, accountKeys)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		instructions = append(instructions, &core.AdaptedInstruction{
			IxIndex:    uint16(i),
			InnerIndex: 0,
			StackDepth: 1,
			ProgramID:  programID,
			Accounts:   accounts,
			Data:       inst.Data,
		})

		// inner 列表按主指令索引递增排列，每条主指令最多一个 inner 块，顺序匹配即可
		if innerIndex < len(rawInners) && int(rawInners[innerIndex].Index) == i {
			for j, inner := range rawInners[innerIndex].Instructions {
				programID, err := programAt(inner.ProgramIdIndex, accountKeys)
				if err != nil {
					return nil, fmt.Errorf("instruction %d.%d: %w", i, j+1, err)
				}
				innerAccounts, err := resolveAccounts(inner.Accounts, accountKeys)
				if err != nil {
					return nil, fmt.Errorf("instruction %d.%d: %w", i, j+1, err)
				}
				depth := uint8(2)
				if inner.StackHeight != nil {
					depth = uint8(*inner.StackHeight)
				}
				instructions = append(instructions, &core.AdaptedInstruction{
					IxIndex:    uint16(i),
					InnerIndex: uint16(j + 1),
					StackDepth: depth,
					ProgramID:  programID,
					Accounts:   innerAccounts,
					Data:       inner.Data,
				})
			}
			innerIndex++
		}
	}

	return instructions, nil
}

// AdaptGrpcTx 将 gRPC 推送的交易数据解析为内部 AdaptedTx 结构。
//  1. 构建 accountKeys（含 Address Lookup）；
//  2. 构建指令（主 + inner）；
//  3. 带上日志，返回 AdaptedTx；如 panic 会被 recover。
func AdaptGrpcTx(txCtx *core.TxContext, tx *pb.SubscribeUpdateTransactionInfo) (_ *core.AdaptedTx, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("AdaptGrpcTx panic: %v", r)
		}
	}()

	accountKeys, err := buildFullAccountKeys(
		tx.Transaction.Message.AccountKeys,
		tx.Meta.GetLoadedWritableAddresses(),
		tx.Meta.GetLoadedReadonlyAddresses(),
	)
	if err != nil {
		return nil, fmt.Errorf("buildFullAccountKeys error: %w", err)
	}

	if len(tx.Transaction.Signatures) == 0 || len(accountKeys) == 0 {
		return nil, fmt.Errorf("invalid transaction: missing signature or accountKeys")
	}

	// 前 N 个 accountKeys 视为 signer
	signerCount := int(tx.Transaction.Message.GetHeader().GetNumRequiredSignatures())
	if signerCount == 0 || len(accountKeys) < signerCount {
		return nil, fmt.Errorf("invalid signer count: %d", signerCount)
	}

	instructions, err := buildAdaptedInstructions(tx, accountKeys)
	if err != nil {
		return nil, err
	}

	signers := make([][]byte, signerCount)
	for i := 0; i < signerCount; i++ {
		signers[i] = accountKeys[i][:]
	}

	return &core.AdaptedTx{
		TxCtx:        txCtx,
		TxIndex:      uint32(tx.Index),
		Signature:    tx.Transaction.Signatures[0],
		Signers:      signers,
		Instructions: instructions,
		LogMessages:  tx.Meta.GetLogMessages(),
	}, nil
}
