package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"contractkit/internal/abi"
	"contractkit/internal/config"
	"contractkit/internal/connection"
	"contractkit/internal/logging"
	"contractkit/internal/metrics"
	"contractkit/internal/output"
	"contractkit/internal/shutdown"
	"contractkit/internal/store"
	"contractkit/internal/transaction"
	"contractkit/internal/validation"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// 全局参数
	configFile string
	rpcURL     string
	abiFile    string
	verbose    bool
	strict     bool

	// 交易参数
	fromAddr  string
	valueWei  string
	gasLimit  uint64
	blockTag  string
	waitFlag  bool
	resumeAll bool

	// 服务参数
	serveResume bool

	// 事件参数
	filterArgs []string
	fromBlock  uint64
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "contractkit",
		Short:         "以太坊合约交互工具",
		Long:          `基于ABI的合约调用、交易提交与回执跟踪、事件日志订阅工具`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&rpcURL, "rpc", "", "节点地址，覆盖配置文件")
	rootCmd.PersistentFlags().StringVar(&abiFile, "abi", "", "ABI文件，未指定时从存储中读取")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")
	rootCmd.PersistentFlags().BoolVar(&strict, "strict", false, "地址必须符合EIP-55校验和")

	rootCmd.AddCommand(
		newSelectorCmd(),
		newEncodeCmd(),
		newDecodeCmd(),
		newCallCmd(),
		newSendCmd(),
		newWaitCmd(),
		newWatchCmd(),
		newDeployCmd(),
		newABICmd(),
		newServeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// app 命令运行期间共享的组件
type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	metrics   *metrics.Metrics
	validator *validation.Validator
	shutdown  *shutdown.GracefulShutdown

	pool    *connection.Pool
	store   store.Store
	sink    output.Sink
	watcher *transaction.Watcher
}

type appOptions struct {
	nodes bool // 连接节点
	store bool // 打开存储
	sink  bool // 创建输出器
}

// newApp 加载配置并按需初始化组件，关闭顺序由停机管理器决定
func newApp(opts appOptions) (*app, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if rpcURL != "" {
		cfg.Blockchain.Nodes = []*config.NodeConfig{{Name: "cli", URL: rpcURL, Priority: 1, Timeout: "30s"}}
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics.New(),
		validator: validation.NewValidator(logger, strict),
		shutdown:  shutdown.NewGracefulShutdown(30*time.Second, logger),
	}

	if opts.store {
		a.store, err = store.Open(a.shutdown.Context(), cfg.Store, logger)
		if err != nil {
			return nil, err
		}
		a.shutdown.Register("store", shutdown.OrderCloseStore, func(context.Context) error { return a.store.Close() })
	}

	if opts.sink {
		sink, err := output.NewSink(cfg.Output, logger, a.metrics)
		if err != nil {
			a.close()
			return nil, err
		}
		a.sink = output.NewAsyncSink(sink, 1000, logger)
		a.shutdown.Register("sink", shutdown.OrderCloseSinks, func(context.Context) error { return a.sink.Close() })
	}

	if opts.nodes {
		if !cfg.HasNodes() {
			a.close()
			return nil, fmt.Errorf("未配置节点，请使用 --rpc 或在配置文件中指定 blockchain.nodes")
		}
		a.pool, err = connection.NewPool(a.shutdown.Context(), cfg.Blockchain.Nodes, logger, a.metrics)
		if err != nil {
			a.close()
			return nil, err
		}
		a.shutdown.Register("nodes", shutdown.OrderCloseNodes, func(context.Context) error { return a.pool.Close() })

		retryCfg, err := cfg.Transaction.RetryConfig()
		if err != nil {
			a.close()
			return nil, err
		}
		watchOpts := []transaction.Option{transaction.WithRetryConfig(retryCfg), transaction.WithMetrics(a.metrics)}
		if a.store != nil {
			watchOpts = append(watchOpts, transaction.WithStore(a.store))
		}
		a.watcher = transaction.NewWatcher(a.pool, logger, watchOpts...)
	}

	a.shutdown.Listen()
	return a, nil
}

// ctx 收到停机信号时取消
func (a *app) ctx() context.Context {
	return a.shutdown.Context()
}

// close 执行全部停机处理
func (a *app) close() {
	a.shutdown.Shutdown()
	for _, err := range a.shutdown.Wait() {
		a.logger.Warnf("停机处理失败: %v", err)
	}
}

// checkAddress 验证命令行中的地址参数
func (a *app) checkAddress(raw string) (common.Address, error) {
	result := a.validator.ValidateRequest(&validation.Request{Address: raw})
	if err := result.Err(); err != nil {
		return common.Address{}, err
	}
	for _, w := range result.Warnings {
		a.logger.Warn(w)
	}
	return common.HexToAddress(raw), nil
}

// registryFor --abi优先，其次是存储中登记的ABI
func (a *app) registryFor(address common.Address) (*abi.Registry, error) {
	if abiFile != "" {
		return readABIFile(abiFile)
	}
	if a.store == nil {
		return nil, fmt.Errorf("需要 --abi 参数")
	}
	doc, err := a.store.LoadABI(a.ctx(), address)
	if err != nil {
		return nil, err
	}
	return abi.FromJSON(doc)
}

func readABIFile(path string) (*abi.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取ABI文件失败: %w", err)
	}
	return abi.FromJSON(data)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
