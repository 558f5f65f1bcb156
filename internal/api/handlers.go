package api

import (
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"contractkit/internal/codec"
	"contractkit/internal/connection"
	"contractkit/internal/contract"
	"contractkit/internal/errors"
	"contractkit/internal/units"
	"contractkit/internal/validation"
	"contractkit/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
)

type callBody struct {
	Args     []interface{} `json:"args"`
	TextArgs []string      `json:"text_args"` // 命令行风格参数，优先于args
	From     string        `json:"from"`
	Block    string        `json:"block"`
}

type sendBody struct {
	Args     []interface{} `json:"args"`
	TextArgs []string      `json:"text_args"`
	From     string        `json:"from"`
	Value    string        `json:"value"`
	Gas      *uint64       `json:"gas"`
	Wait     bool          `json:"wait"`
}

type logsBody struct {
	Filter    map[string]interface{} `json:"filter"`
	FromBlock *uint64                `json:"from_block"`
	ToBlock   *uint64                `json:"to_block"`
	Export    bool                   `json:"export"`
}

// bindBody 解析JSON请求体，数字保留为json.Number，空请求体视为零值
func bindBody(c *gin.Context, out interface{}) error {
	if c.Request.Body == nil {
		return nil
	}
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil && err != io.EOF {
		return errors.WrapError(err, errors.ErrorTypeValidation, errors.SeverityLow, "INVALID_BODY", "请求体不是合法JSON")
	}
	return nil
}

func callArgs(args []interface{}, text []string) ([]interface{}, error) {
	if len(text) == 0 {
		return args, nil
	}
	parsed, err := codec.ParseTextArgs(text)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.SeverityLow, "INVALID_ARGS", "参数解析失败")
	}
	return parsed, nil
}

func optionalAddress(s string) *common.Address {
	if s == "" {
		return nil
	}
	addr := common.HexToAddress(s)
	return &addr
}

// parseValue 解析已通过验证的wei金额
func parseValue(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "0x") {
		return hexutil.DecodeBig(s)
	}
	return units.ParseUnits(s, 0)
}

func receiptStatus(r *models.Receipt) string {
	if r.Succeeded() {
		return "success"
	}
	return "reverted"
}

// validate 验证失败时直接响应并返回false
func (s *Server) validate(c *gin.Context, req *validation.Request) bool {
	result := s.validator.ValidateRequest(req)
	if !result.Valid {
		s.respondInvalid(c, result)
		return false
	}
	return true
}

// contractFor 验证路径中的地址并绑定合约
func (s *Server) contractFor(c *gin.Context, name string) (*contract.Contract, bool) {
	raw := c.Param("address")
	if !s.validate(c, &validation.Request{Address: raw, Name: name}) {
		return nil, false
	}
	ctr, err := s.loadContract(c, common.HexToAddress(raw))
	if err != nil {
		s.respondError(c, err)
		return nil, false
	}
	return ctr, true
}

// listContracts 已登记ABI的合约
func (s *Server) listContracts(c *gin.Context) {
	addrs, err := s.deps.Store.ListABIs(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	hexes := make([]string, len(addrs))
	for i, a := range addrs {
		hexes[i] = a.Hex()
	}
	c.JSON(http.StatusOK, gin.H{"contracts": hexes, "total": len(hexes)})
}

// getABI 返回登记的ABI原文
func (s *Server) getABI(c *gin.Context) {
	raw := c.Param("address")
	if !s.validate(c, &validation.Request{Address: raw}) {
		return
	}
	doc, err := s.deps.Store.LoadABI(c.Request.Context(), common.HexToAddress(raw))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", doc)
}

// putABI 登记或替换合约ABI
func (s *Server) putABI(c *gin.Context) {
	raw := c.Param("address")
	if !s.validate(c, &validation.Request{Address: raw}) {
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		s.respondError(c, errors.WrapError(err, errors.ErrorTypeValidation, errors.SeverityLow, "INVALID_BODY", "读取请求体失败"))
		return
	}
	reg, result := s.validator.ValidateABI(body)
	if !result.Valid {
		s.respondInvalid(c, result)
		return
	}

	address := common.HexToAddress(raw)
	if err := s.deps.Store.SaveABI(c.Request.Context(), address, json.RawMessage(body)); err != nil {
		s.respondError(c, err)
		return
	}
	s.registries.Add(address, reg)
	s.logger.WithField("address", address.Hex()).Infof("已登记ABI: %d 个函数, %d 个事件",
		len(reg.FunctionNames()), len(reg.EventNames()))

	c.JSON(http.StatusOK, gin.H{
		"address":   address.Hex(),
		"functions": reg.FunctionNames(),
		"events":    reg.EventNames(),
		"warnings":  result.Warnings,
	})
}

// callFunction 只读调用
func (s *Server) callFunction(c *gin.Context) {
	name := c.Param("function")
	var body callBody
	if err := bindBody(c, &body); err != nil {
		s.respondError(c, err)
		return
	}
	if !s.validate(c, &validation.Request{From: body.From, Block: body.Block}) {
		return
	}
	ctr, ok := s.contractFor(c, name)
	if !ok {
		return
	}
	fn, err := ctr.Function(name)
	if err != nil {
		s.respondError(c, err)
		return
	}
	args, err := callArgs(body.Args, body.TextArgs)
	if err != nil {
		s.respondError(c, err)
		return
	}

	values, err := ctr.CallWithOptions(c.Request.Context(), &contract.CallOptions{
		From:  optionalAddress(body.From),
		Block: body.Block,
	}, name, args...)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"contract": ctr.Address().Hex(),
		"function": fn.Signature(),
		"outputs":  codec.FormatValues(fn.Outputs, values),
		"named":    codec.NamedValues(fn.Outputs, values),
	})
}

// sendTransaction 提交交易，wait为true时等待回执
func (s *Server) sendTransaction(c *gin.Context) {
	name := c.Param("function")
	var body sendBody
	if err := bindBody(c, &body); err != nil {
		s.respondError(c, err)
		return
	}
	if !s.validate(c, &validation.Request{From: body.From, Value: body.Value}) {
		return
	}
	if body.Wait && s.deps.Watcher == nil {
		s.respondError(c, errors.NewContractError(errors.ErrorTypeValidation, errors.SeverityLow,
			"WAIT_UNSUPPORTED", "服务未配置回执跟踪，不能等待确认"))
		return
	}
	ctr, ok := s.contractFor(c, name)
	if !ok {
		return
	}
	args, err := callArgs(body.Args, body.TextArgs)
	if err != nil {
		s.respondError(c, err)
		return
	}
	value, err := parseValue(body.Value)
	if err != nil {
		s.respondError(c, errors.WrapError(err, errors.ErrorTypeValidation, errors.SeverityLow, "INVALID_VALUE", "金额无效"))
		return
	}
	opts := contract.TxOptions{From: optionalAddress(body.From), Value: value, Gas: body.Gas}

	if !body.Wait {
		hash, err := ctr.Send(c.Request.Context(), name, opts, args...)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"tx_hash": hash.Hex(), "status": "submitted"})
		return
	}

	receipt, err := ctr.SendAndWait(c.Request.Context(), s.deps.Watcher, name, opts, args...)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.exportReceipt(receipt)
	c.JSON(http.StatusOK, gin.H{
		"tx_hash": receipt.TransactionHash.Hex(),
		"status":  receiptStatus(receipt),
		"receipt": receipt,
	})
}

// queryLogs 单次查询并解码事件日志
func (s *Server) queryLogs(c *gin.Context) {
	name := c.Param("event")
	var body logsBody
	if err := bindBody(c, &body); err != nil {
		s.respondError(c, err)
		return
	}
	ctr, ok := s.contractFor(c, name)
	if !ok {
		return
	}

	spec, err := ctr.EventFilter(name, body.Filter)
	if err != nil {
		s.respondError(c, err)
		return
	}
	var from, to *big.Int
	if body.FromBlock != nil {
		from = new(big.Int).SetUint64(*body.FromBlock)
	}
	if body.ToBlock != nil {
		to = new(big.Int).SetUint64(*body.ToBlock)
	}
	if from != nil && to != nil {
		if result := s.validator.ValidateBlockRange(*body.FromBlock, *body.ToBlock); !result.Valid {
			s.respondInvalid(c, result)
			return
		}
	}
	spec = spec.WithRange(from, to)

	logs, err := spec.Query(c.Request.Context(), s.deps.Channel)
	if err != nil {
		s.respondError(c, err)
		return
	}

	events := make([]*models.DecodedEvent, 0, len(logs))
	skipped := 0
	for _, l := range logs {
		if !spec.Matches(l) {
			skipped++
			continue
		}
		ev, err := ctr.DecodeLogAs(name, l)
		if err != nil {
			s.logger.WithField("address", ctr.Address().Hex()).Warnf("跳过无法解码的日志 %s#%d: %v", l.TxHash.Hex(), l.Index, err)
			skipped++
			continue
		}
		events = append(events, ev)
	}

	if body.Export && s.deps.Sink != nil {
		for _, ev := range events {
			if err := s.deps.Sink.WriteEvent(ev); err != nil {
				s.respondError(c, err)
				return
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"event":   name,
		"filter":  spec.FilterObject(),
		"count":   len(events),
		"skipped": skipped,
		"events":  events,
	})
}

// getReceipt 查询交易回执，wait=true时按退避策略轮询
func (s *Server) getReceipt(c *gin.Context) {
	raw := c.Param("hash")
	if !s.validate(c, &validation.Request{TxHash: raw}) {
		return
	}
	hash := common.HexToHash(raw)

	var receipt *models.Receipt
	if c.Query("wait") == "true" && s.deps.Watcher != nil {
		r, err := s.deps.Watcher.WaitForReceipt(c.Request.Context(), hash)
		if err != nil {
			s.respondError(c, err)
			return
		}
		receipt = r
	} else {
		if err := connection.Request(c.Request.Context(), s.deps.Channel, &receipt, connection.MethodGetReceipt, hash); err != nil {
			s.respondError(c, err)
			return
		}
		if receipt == nil {
			s.respondError(c, errors.NotFound("RECEIPT_PENDING", "交易 %s 尚无回执", hash.Hex()).WithTxHash(hash.Hex()))
			return
		}
	}

	if c.Query("export") == "true" {
		s.exportReceipt(receipt)
	}
	c.JSON(http.StatusOK, gin.H{
		"tx_hash": hash.Hex(),
		"status":  receiptStatus(receipt),
		"receipt": receipt,
	})
}

func (s *Server) exportReceipt(r *models.Receipt) {
	if s.deps.Sink == nil || r == nil {
		return
	}
	if err := s.deps.Sink.WriteReceipt(r); err != nil {
		s.logger.Warnf("导出回执失败: %v", err)
	}
}

// listPending 已提交未确认的交易
func (s *Server) listPending(c *gin.Context) {
	pending, err := s.deps.Store.ListPending(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": pending, "total": len(pending)})
}

// decodeInput 解码交易输入数据
func (s *Server) decodeInput(c *gin.Context) {
	if s.deps.Decoder == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "DECODER_DISABLED", "message": "输入解码未启用"})
		return
	}
	var body struct {
		Input string `json:"input"`
	}
	if err := bindBody(c, &body); err != nil {
		s.respondError(c, err)
		return
	}
	call, err := s.deps.Decoder.DecodeHex(c.Request.Context(), body.Input)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// getLogs 获取日志
func (s *Server) getLogs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	q := LogQuery{
		Level:    c.Query("level"),
		Contract: c.Query("contract"),
		TxHash:   c.Query("tx_hash"),
		Page:     page,
		PageSize: pageSize,
	}
	logs, total := s.logManager.Query(q)

	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     q.Page,
		"pageSize": q.PageSize,
	})
}

// clearLogs 清空日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.ClearLogs()
	c.JSON(http.StatusOK, gin.H{"message": "日志已清空"})
}
