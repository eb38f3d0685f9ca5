package grpc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"

	"idl-decoder-sol/internal/svc"
	"idl-decoder-sol/internal/types"
	"idl-decoder-sol/pkg/logger"
)

var errNoPrograms = errors.New("no program loaded, nothing to subscribe")

// ProgramAddresses 提供订阅过滤用的程序地址，由 cache.ProgramCache 实现
type ProgramAddresses interface {
	Addresses() []types.Pubkey
}

type GrpcStreamManager struct {
	mu                sync.Mutex                    // 保护连接状态
	conn              *grpc.ClientConn              // gRPC 连接对象
	client            pb.GeyserClient               // gRPC 客户端
	stream            pb.Geyser_SubscribeClient     // gRPC 订阅流
	stopped           bool                          // 是否已经停止
	reconnectAttempts int                           // 已重连次数
	reconnectInterval time.Duration                 // 重连基础间隔
	xToken            string                        // 认证用的 x-token
	pingInterval      time.Duration                 // Stream 心跳间隔
	blockChan         chan *pb.SubscribeUpdateBlock // 区块数据通道
	connCancel        context.CancelFunc            // 当前连接的 cancel 函数
	blockRecvTimeout  time.Duration                 // 超过该时间未收到 block 触发重连
	sendTimeout       time.Duration                 // gRPC 发送超时
	programs          ProgramAddresses
	filterKey         string // 当前订阅使用的程序地址集合
}

func NewGrpcStreamManager(sc *svc.GrpcServiceContext, blockChan chan *pb.SubscribeUpdateBlock) (*GrpcStreamManager, error) {
	grpcConf := sc.Config.Grpc

	dialCtx, cancel := context.WithTimeout(context.Background(), time.Duration(grpcConf.ConnectTimeoutSec)*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		grpcConf.Endpoint,
		grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{InsecureSkipVerify: true})),
		grpc.WithInitialWindowSize(int32(grpcConf.InitialWindowSize)),
		grpc.WithInitialConnWindowSize(int32(grpcConf.InitialConnWindowSize)),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallSendMsgSize(grpcConf.MaxCallSendMsgSize),
			grpc.MaxCallRecvMsgSize(grpcConf.MaxCallRecvMsgSize),
		),
		grpc.WithBlock(),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                time.Duration(grpcConf.KeepalivePingIntervalSec) * time.Second,
			Timeout:             time.Duration(grpcConf.KeepalivePingTimeoutSec) * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &GrpcStreamManager{
		conn:              conn,
		client:            pb.NewGeyserClient(conn),
		reconnectInterval: time.Duration(grpcConf.ReconnectIntervalSec) * time.Second,
		xToken:            grpcConf.XToken,
		pingInterval:      time.Duration(grpcConf.StreamPingIntervalSec) * time.Second,
		blockChan:         blockChan,
		blockRecvTimeout:  time.Duration(grpcConf.BlockRecvTimeoutSec) * time.Second,
		sendTimeout:       time.Duration(grpcConf.SendTimeoutSec) * time.Second,
		programs:          sc.Programs,
	}, nil
}

func (m *GrpcStreamManager) Start() {
	m.mustConnect()
}

func (m *GrpcStreamManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopped = true
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			logger.Warnf("[GrpcStream] close conn: %v", err)
		}
	}
}

func (m *GrpcStreamManager) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// mustConnect 循环直到连接成功或已停止
func (m *GrpcStreamManager) mustConnect() {
	for {
		if m.isStopped() {
			return
		}

		if m.reconnectAttempts > 0 {
			if m.reconnectAttempts > 3 {
				time.Sleep(m.reconnectInterval * 2)
			} else {
				time.Sleep(m.reconnectInterval)
			}
		}
		m.reconnectAttempts++
		logger.Infof("[GrpcStream] connecting... attempt %d", m.reconnectAttempts)
		err := m.connect()
		if err == nil {
			return
		}
		logger.Warnf("[GrpcStream] connect failed: %v, will retry...", err)
	}
}

// buildSubscribeRequest 订阅包含任一已加载程序的区块，只要交易不要账户更新
func buildSubscribeRequest(addrs []types.Pubkey) (*pb.SubscribeRequest, string, error) {
	if len(addrs) == 0 {
		return nil, "", errNoPrograms
	}
	include := make([]string, len(addrs))
	for i, a := range addrs {
		include[i] = a.String()
	}

	blocks := map[string]*pb.SubscribeRequestFilterBlocks{
		"blocks": {
			AccountInclude:      include,
			IncludeTransactions: boolPtr(true),
			IncludeAccounts:     boolPtr(false),
			IncludeEntries:      boolPtr(false),
		},
	}
	commitment := pb.CommitmentLevel_CONFIRMED
	return &pb.SubscribeRequest{
		Blocks:     blocks,
		Commitment: &commitment,
	}, strings.Join(include, ","), nil
}

// connect 只尝试一次连接
func (m *GrpcStreamManager) connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return errors.New("manager is stopped")
	}

	req, filterKey, err := buildSubscribeRequest(m.programs.Addresses())
	if err != nil {
		return err
	}

	// 先关闭旧的 context，旧 goroutine 随之退出
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	connCtx, connCancel := context.WithCancel(context.Background())

	metaCtx := metadata.NewOutgoingContext(connCtx, metadata.New(map[string]string{"x-token": m.xToken}))
	stream, err := m.client.Subscribe(metaCtx)
	if err != nil {
		connCancel()
		return fmt.Errorf("subscribe: %w", err)
	}
	if err := sendWithTimeout(connCtx, stream.Send, req, m.sendTimeout); err != nil {
		connCancel()
		return fmt.Errorf("send subscribe request: %w", err)
	}

	m.connCancel = connCancel
	m.stream = stream
	m.filterKey = filterKey
	m.reconnectAttempts = 0
	logger.Infof("[GrpcStream] connection established, programs=%d", len(req.Blocks["blocks"].AccountInclude))

	go m.pingLoop(connCtx, stream)
	go m.blockRecvLoop(connCtx, stream)
	return nil
}

func (m *GrpcStreamManager) blockRecvLoop(ctx context.Context, stream pb.Geyser_SubscribeClient) {
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		update, err := stream.Recv()
		now := time.Now()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				logger.Warnf("[GrpcStream] stream closed by server (EOF), will reconnect")
				m.reconnect()
				return
			}
			logger.Warnf("[GrpcStream] stream error: %v", err)
			if m.reconnectIfBlockTimeout(last) {
				return
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		if u, ok := update.GetUpdateOneof().(*pb.SubscribeUpdate_Block); ok {
			latency := now.UnixMilli() - u.Block.GetBlockTime().GetTimestamp()*1000
			logger.Debugf("[GrpcStream] received block at slot %d, latency to blockTime: %d ms", u.Block.Slot, latency)

			select {
			case m.blockChan <- u.Block:
			case <-ctx.Done():
				return
			default:
				logger.Errorf("[GrpcStream] blockChan is full, discard block at slot %d", u.Block.Slot)
			}
			last = now
		}

		if m.reconnectIfBlockTimeout(last) {
			return
		}
	}
}

// sendWithTimeout 带超时的 Send
func sendWithTimeout[T any](ctx context.Context, sendFunc func(T) error, req T, timeout time.Duration) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- sendFunc(req)
	}()

	select {
	case <-timeoutCtx.Done():
		return timeoutCtx.Err()
	case err := <-done:
		return err
	}
}

// pingLoop 心跳；程序集合变化时在同一条流上重发订阅请求更新过滤条件
func (m *GrpcStreamManager) pingLoop(ctx context.Context, stream pb.Geyser_SubscribeClient) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingReq := &pb.SubscribeRequest{
				Ping: &pb.SubscribeRequestPing{Id: 1},
			}
			if err := sendWithTimeout(ctx, stream.Send, pingReq, m.sendTimeout); err != nil {
				logger.Warnf("[GrpcStream] ping failed: %v", err)
			}
			m.refreshFilter(ctx, stream)
		}
	}
}

func (m *GrpcStreamManager) refreshFilter(ctx context.Context, stream pb.Geyser_SubscribeClient) {
	req, filterKey, err := buildSubscribeRequest(m.programs.Addresses())
	if err != nil {
		return
	}
	m.mu.Lock()
	unchanged := filterKey == m.filterKey
	m.mu.Unlock()
	if unchanged {
		return
	}

	if err := sendWithTimeout(ctx, stream.Send, req, m.sendTimeout); err != nil {
		logger.Warnf("[GrpcStream] update subscription failed: %v", err)
		return
	}
	m.mu.Lock()
	m.filterKey = filterKey
	m.mu.Unlock()
	logger.Infof("[GrpcStream] subscription updated, programs=%d", len(req.Blocks["blocks"].AccountInclude))
}

func (m *GrpcStreamManager) reconnectIfBlockTimeout(last time.Time) bool {
	if time.Since(last) > m.blockRecvTimeout {
		logger.Warnf("[GrpcStream] %v 未收到 block，触发重连", m.blockRecvTimeout)
		m.reconnect()
		return true
	}
	return false
}

func (m *GrpcStreamManager) reconnect() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	m.mu.Unlock()

	go m.mustConnect()
}

func boolPtr(b bool) *bool {
	return &b
}
