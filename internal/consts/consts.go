package consts

const (
	ChainSolana     = "solana"
	EnvelopeVersion = 1 // Kafka 消息体版本

	IdlFilePattern = "*.json" // IDL 目录下参与加载的文件
)
