package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strings"

	"contractkit/internal/abi"
	"contractkit/internal/api"
	"contractkit/internal/codec"
	"contractkit/internal/contract"
	"contractkit/internal/decoder"
	"contractkit/internal/filter"
	"contractkit/internal/shutdown"
	"contractkit/internal/transaction"
	"contractkit/internal/units"
	"contractkit/internal/validation"
	"contractkit/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
)

func txOptions() (contract.TxOptions, error) {
	var opts contract.TxOptions
	if fromAddr != "" {
		if !common.IsHexAddress(fromAddr) {
			return opts, fmt.Errorf("发送方地址无效: %s", fromAddr)
		}
		from := common.HexToAddress(fromAddr)
		opts.From = &from
	}
	if valueWei != "" {
		v, err := parseWei(valueWei)
		if err != nil {
			return opts, err
		}
		opts.Value = v
	}
	if gasLimit > 0 {
		gas := gasLimit
		opts.Gas = &gas
	}
	return opts, nil
}

// parseWei 十进制或0x十六进制的wei金额，也接受 1.5ether 形式
func parseWei(s string) (*big.Int, error) {
	if strings.HasPrefix(s, "0x") {
		return hexutil.DecodeBig(s)
	}
	if amount, ok := strings.CutSuffix(s, "ether"); ok {
		return units.ToWei(strings.TrimSpace(amount), "ether")
	}
	return units.ParseUnits(s, 0)
}

func newSelectorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selector <signature>",
		Short: "计算函数选择器与事件主题",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fn, err := abi.ParseSignature(args[0])
			if err != nil {
				return err
			}
			sig := fn.Signature()
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"signature":   sig,
				"selector":    fn.Selector().Hex(),
				"event_topic": abi.EventTopic(sig).Hex(),
			})
		},
	}
}

// resolveFunction 带括号的按签名解析，否则在 --abi 中按名称查找
func resolveFunction(nameOrSig string) (*abi.Function, error) {
	if strings.Contains(nameOrSig, "(") {
		return abi.ParseSignature(nameOrSig)
	}
	if abiFile == "" {
		return nil, fmt.Errorf("按名称编码需要 --abi 参数")
	}
	reg, err := readABIFile(abiFile)
	if err != nil {
		return nil, err
	}
	return reg.Function(nameOrSig)
}

func newEncodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode <function|signature> [args...]",
		Short: "编码调用数据",
		Long:  `参数按文本传入，数组和元组使用JSON，例如: encode "f(uint256[],(address,bool))" '[1,2]' '["0x..",true]'`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fn, err := resolveFunction(args[0])
			if err != nil {
				return err
			}
			values, err := codec.ParseTextArgs(args[1:])
			if err != nil {
				return err
			}
			data, err := codec.EncodeCall(fn, values)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hexutil.Encode(data))
			return nil
		},
	}
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <calldata>",
		Short: "解码交易输入数据",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			var reg *abi.Registry
			if abiFile != "" {
				if reg, err = readABIFile(abiFile); err != nil {
					return err
				}
			}
			dec, err := decoder.NewInputDecoder(a.logger, a.cfg.Decoder, reg)
			if err != nil {
				return err
			}
			call, err := dec.DecodeHex(a.ctx(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), call)
		},
	}
}

// bindContract 验证地址并绑定合约句柄
func (a *app) bindContract(raw string) (*contract.Contract, error) {
	address, err := a.checkAddress(raw)
	if err != nil {
		return nil, err
	}
	reg, err := a.registryFor(address)
	if err != nil {
		return nil, err
	}
	return contract.New(address, reg, a.pool, a.logger), nil
}

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <address> <function> [args...]",
		Short: "只读调用合约函数",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{nodes: true, store: true})
			if err != nil {
				return err
			}
			defer a.close()

			ctr, err := a.bindContract(args[0])
			if err != nil {
				return err
			}
			fn, err := ctr.Function(args[1])
			if err != nil {
				return err
			}
			values, err := codec.ParseTextArgs(args[2:])
			if err != nil {
				return err
			}
			opts, err := txOptions()
			if err != nil {
				return err
			}

			out, err := ctr.CallWithOptions(a.ctx(), &contract.CallOptions{From: opts.From, Block: blockTag}, fn.Name, values...)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"function": fn.Signature(),
				"outputs":  codec.NamedValues(fn.Outputs, out),
			})
		},
	}
	cmd.Flags().StringVar(&fromAddr, "from", "", "调用方地址")
	cmd.Flags().StringVar(&blockTag, "block", "latest", "区块标签或十六进制区块号")
	return cmd
}

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <address> <function> [args...]",
		Short: "提交交易并等待回执",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{nodes: true, store: true, sink: true})
			if err != nil {
				return err
			}
			defer a.close()

			ctr, err := a.bindContract(args[0])
			if err != nil {
				return err
			}
			values, err := codec.ParseTextArgs(args[2:])
			if err != nil {
				return err
			}
			opts, err := txOptions()
			if err != nil {
				return err
			}

			if !waitFlag {
				hash, err := ctr.Send(a.ctx(), args[1], opts, values...)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), hash.Hex())
				return nil
			}

			receipt, err := ctr.SendAndWait(a.ctx(), a.watcher, args[1], opts, values...)
			if err != nil {
				return err
			}
			return a.emitReceipt(cmd, receipt)
		},
	}
	cmd.Flags().StringVar(&fromAddr, "from", "", "发送方地址（节点管理的账户）")
	cmd.Flags().StringVar(&valueWei, "value", "", "转账金额，单位wei，或如 0.5ether")
	cmd.Flags().Uint64Var(&gasLimit, "gas", 0, "gas上限，0表示由节点估算")
	cmd.Flags().BoolVar(&waitFlag, "wait", true, "等待交易回执")
	return cmd
}

func (a *app) emitReceipt(cmd *cobra.Command, receipt *models.Receipt) error {
	if err := a.sink.WriteReceipt(receipt); err != nil {
		a.logger.Warnf("导出回执失败: %v", err)
	}
	status := "success"
	if !receipt.Succeeded() {
		status = "reverted"
	}
	return printJSON(cmd.OutOrStdout(), map[string]interface{}{
		"tx_hash": receipt.TransactionHash.Hex(),
		"status":  status,
		"receipt": receipt,
	})
}

func newWaitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wait [txhash]",
		Short: "等待交易回执，--resume 恢复跟踪所有未确认交易",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !resumeAll && len(args) == 0 {
				return fmt.Errorf("需要交易哈希或 --resume")
			}
			a, err := newApp(appOptions{nodes: true, store: true, sink: true})
			if err != nil {
				return err
			}
			defer a.close()

			if !resumeAll {
				result := a.validator.ValidateRequest(&validation.Request{TxHash: args[0]})
				if err := result.Err(); err != nil {
					return err
				}
				receipt, err := a.watcher.WaitForReceipt(a.ctx(), common.HexToHash(args[0]))
				if err != nil {
					return err
				}
				return a.emitReceipt(cmd, receipt)
			}

			tracked, err := a.watcher.Resume(a.ctx())
			if err != nil {
				return err
			}
			a.logger.Infof("恢复跟踪 %d 笔交易", len(tracked))
			failed := 0
			for _, lc := range tracked {
				<-lc.Done()
				receipt, err := lc.Result()
				if err != nil {
					failed++
					a.logger.Warnf("交易 %s %s: %v", lc.Hash().Hex(), lc.State(), err)
					continue
				}
				if err := a.emitReceipt(cmd, receipt); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d 笔交易未能确认", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&resumeAll, "resume", false, "恢复跟踪存储中的未确认交易")
	return cmd
}

// parseConstraints name=value 形式的索引参数约束，JSON数组表示任一匹配
func parseConstraints(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("过滤条件格式应为 name=value: %q", pair)
		}
		parsed, err := codec.ParseTextArgs([]string{value})
		if err != nil {
			return nil, fmt.Errorf("过滤条件 %s: %w", name, err)
		}
		out[name] = parsed[0]
	}
	return out, nil
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <address> <event>",
		Short: "轮询事件日志并写入输出器",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{nodes: true, store: true, sink: true})
			if err != nil {
				return err
			}
			defer a.close()

			ctr, err := a.bindContract(args[0])
			if err != nil {
				return err
			}
			constraints, err := parseConstraints(filterArgs)
			if err != nil {
				return err
			}
			spec, err := ctr.EventFilter(args[1], constraints)
			if err != nil {
				return err
			}
			if fromBlock > 0 {
				spec = spec.WithRange(new(big.Int).SetUint64(fromBlock), nil)
			}
			interval, err := a.cfg.Filter.Interval()
			if err != nil {
				return err
			}

			poller := filter.NewPoller(a.pool, interval, a.logger, a.metrics)
			sub := poller.Subscribe(a.ctx(), spec, func(l types.Log) {
				ev, err := ctr.DecodeLogAs(args[1], l)
				if err != nil {
					a.logger.Warnf("解码日志失败 %s#%d: %v", l.TxHash.Hex(), l.Index, err)
					return
				}
				if err := a.sink.WriteEvent(ev); err != nil {
					a.logger.Warnf("写入事件失败: %v", err)
				}
			})
			a.shutdown.Register("subscription", shutdown.OrderCancelSubscriptions, func(ctx context.Context) error {
				sub.Cancel()
				select {
				case <-sub.Done():
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})

			a.logger.Infof("开始订阅 %s", spec)
			<-sub.Done()
			return sub.Err()
		},
	}
	cmd.Flags().StringArrayVar(&filterArgs, "filter", nil, "索引参数约束 name=value，可重复")
	cmd.Flags().Uint64Var(&fromBlock, "from-block", 0, "起始区块，0表示由节点决定")
	return cmd
}

func newDeployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy <bytecode-file> [args...]",
		Short: "部署合约并登记ABI",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if abiFile == "" {
				return fmt.Errorf("部署需要 --abi 参数")
			}
			a, err := newApp(appOptions{nodes: true, store: true, sink: true})
			if err != nil {
				return err
			}
			defer a.close()

			reg, err := readABIFile(abiFile)
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("读取字节码失败: %w", err)
			}
			bytecode, err := hexutil.Decode(strings.TrimSpace(string(raw)))
			if err != nil {
				return fmt.Errorf("字节码不是0x十六进制: %w", err)
			}
			values, err := codec.ParseTextArgs(args[1:])
			if err != nil {
				return err
			}
			opts, err := txOptions()
			if err != nil {
				return err
			}

			deployer := contract.NewDeployer(bytecode, reg, a.pool, a.watcher, a.logger)
			ctr, receipt, err := deployer.Deploy(a.ctx(), opts, values...)
			if err != nil {
				return err
			}
			if err := a.store.SaveABI(a.ctx(), ctr.Address(), reg.JSON()); err != nil {
				a.logger.Warnf("登记ABI失败: %v", err)
			}
			if err := a.sink.WriteReceipt(receipt); err != nil {
				a.logger.Warnf("导出回执失败: %v", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"address": ctr.Address().Hex(),
				"tx_hash": receipt.TransactionHash.Hex(),
			})
		},
	}
	cmd.Flags().StringVar(&fromAddr, "from", "", "部署账户")
	cmd.Flags().StringVar(&valueWei, "value", "", "随部署转入的金额")
	cmd.Flags().Uint64Var(&gasLimit, "gas", 0, "gas上限")
	return cmd
}

func newABICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abi",
		Short: "管理已登记的合约ABI",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "register <address> <abi-file>",
		Short: "登记合约ABI",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{store: true})
			if err != nil {
				return err
			}
			defer a.close()

			address, err := a.checkAddress(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("读取ABI文件失败: %w", err)
			}
			reg, result := a.validator.ValidateABI(data)
			if err := result.Err(); err != nil {
				return err
			}
			for _, w := range result.Warnings {
				a.logger.Warn(w)
			}
			if err := a.store.SaveABI(a.ctx(), address, reg.JSON()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已登记 %s: %d 个函数, %d 个事件\n",
				address.Hex(), len(reg.FunctionNames()), len(reg.EventNames()))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "列出已登记的合约",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{store: true})
			if err != nil {
				return err
			}
			defer a.close()

			addrs, err := a.store.ListABIs(a.ctx())
			if err != nil {
				return err
			}
			for _, addr := range addrs {
				fmt.Fprintln(cmd.OutOrStdout(), addr.Hex())
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <address>",
		Short: "显示合约的函数选择器与事件主题",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{store: true})
			if err != nil {
				return err
			}
			defer a.close()

			address, err := a.checkAddress(args[0])
			if err != nil {
				return err
			}
			reg, err := a.registryFor(address)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), describeRegistry(reg))
		},
	})
	return cmd
}

func describeRegistry(reg *abi.Registry) map[string]interface{} {
	functions := make([]map[string]string, 0, len(reg.FunctionNames()))
	for _, name := range reg.FunctionNames() {
		fn, err := reg.Function(name)
		if err != nil {
			continue
		}
		functions = append(functions, map[string]string{
			"signature":  fn.Signature(),
			"selector":   fn.Selector().Hex(),
			"mutability": fn.Mutability.String(),
		})
	}
	events := make([]map[string]string, 0, len(reg.EventNames()))
	for _, name := range reg.EventNames() {
		ev, err := reg.Event(name)
		if err != nil {
			continue
		}
		events = append(events, map[string]string{
			"signature": ev.Signature(),
			"topic":     ev.Topic().Hex(),
		})
	}
	return map[string]interface{}{"functions": functions, "events": events}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动HTTP网关",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{nodes: true, store: true, sink: true})
			if err != nil {
				return err
			}
			defer a.close()

			dec, err := decoder.NewInputDecoder(a.logger, a.cfg.Decoder, nil)
			if err != nil {
				return err
			}
			server, err := api.NewServer(a.cfg.API, api.Deps{
				Channel: a.pool,
				Store:   a.store,
				Watcher: a.watcher,
				Decoder: dec,
				Sink:    a.sink,
				Metrics: a.metrics,
				Nodes:   a.pool,
			}, a.logger)
			if err != nil {
				return err
			}
			a.shutdown.Register("http", shutdown.OrderStopHTTPServer, server.Stop)
			a.pool.StartHealthCheck(0)

			if serveResume {
				resumed, err := a.watcher.Resume(a.ctx())
				if err != nil {
					return err
				}
				trackResumed(a, resumed)
			}

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-a.ctx().Done():
				return nil
			}
		},
	}
	cmd.Flags().BoolVar(&serveResume, "resume", true, "启动时恢复跟踪未确认交易")
	return cmd
}

// trackResumed 恢复的交易确认后导出回执
func trackResumed(a *app, tracked []*transaction.Lifecycle) {
	for _, lc := range tracked {
		go func(lc *transaction.Lifecycle) {
			<-lc.Done()
			if receipt, err := lc.Result(); err == nil {
				if err := a.sink.WriteReceipt(receipt); err != nil {
					a.logger.Warnf("导出回执失败: %v", err)
				}
			}
		}(lc)
	}
}
