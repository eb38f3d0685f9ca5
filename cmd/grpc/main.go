package main

import (
	"flag"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"github.com/zeromicro/go-zero/core/logx"
	zerosvc "github.com/zeromicro/go-zero/core/service"

	"idl-decoder-sol/internal/config"
	"idl-decoder-sol/internal/logic/grpc"
	"idl-decoder-sol/internal/service"
	"idl-decoder-sol/internal/svc"
	"idl-decoder-sol/pkg/logger"
)

var configFile = flag.String("f", "etc/grpc.yaml", "the config file")

func main() {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("panic: %+v\nstack: %s", r, debug.Stack())
			logger.Sync()
			os.Exit(1)
		}
	}()

	flag.Parse()

	var c config.GrpcConfig
	config.MustLoad(*configFile, &c)

	if err := logger.Init(c.LogConf.ToLogOption()); err != nil {
		panic(err)
	}
	defer logger.Sync()
	logx.DisableStat()

	serviceContext, err := svc.NewGrpcServiceContext(c)
	if err != nil {
		panic(err)
	}
	defer serviceContext.Close()

	sg := zerosvc.NewServiceGroup()

	// 1. IDL 目录加载，创建时完成首次同步，保证订阅前已有程序
	idlSync, err := service.NewIdlSyncService(&c.IdlConf, serviceContext.Programs)
	if err != nil {
		panic(err)
	}
	sg.Add(idlSync)

	// 2. 账户快照（可选）
	if c.AccountSyncConf.SyncIntervalS > 0 && len(c.AccountSyncConf.Accounts) > 0 {
		accountSync, err := service.NewRpcAccountSyncService(serviceContext)
		if err != nil {
			panic(err)
		}
		sg.Add(accountSync)
	}

	// 3. 漏块检测（可选）
	var gaps grpc.GapReporter
	if c.SlotCheckerConf.Endpoint != "" {
		checker := grpc.NewSlotChecker(c.SlotCheckerConf.Endpoint)
		sg.Add(checker)
		gaps = checker
	}

	// 4. 区块订阅与处理
	blockChan := make(chan *pb.SubscribeUpdateBlock, 200)
	grpcService, err := grpc.NewGrpcStreamManager(serviceContext, blockChan)
	if err != nil {
		panic(err)
	}
	sg.Add(grpcService)
	sg.Add(grpc.NewBlockProcessor(serviceContext, blockChan, gaps))

	logger.Infof("Starting grpc stream service, programs=%d", serviceContext.Programs.Len())
	go sg.Start()

	// 等待退出信号
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Infof("Shutting down services...")
	sg.Stop()
}
