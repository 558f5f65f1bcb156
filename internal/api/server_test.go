package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"contractkit/internal/abi"
	"contractkit/internal/config"
	"contractkit/internal/connection"
	"contractkit/internal/connection/connectiontest"
	"contractkit/internal/contract"
	"contractkit/internal/logging"
	"contractkit/internal/metrics"
	"contractkit/internal/store"
	"contractkit/internal/transaction"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	token  = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	holder = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	txHash = common.HexToHash("0xdead000000000000000000000000000000000000000000000000000000000001")
)

func receiptJSON(hash common.Hash) map[string]interface{} {
	return map[string]interface{}{
		"transactionHash": hash.Hex(),
		"blockHash":       common.HexToHash("0x01").Hex(),
		"blockNumber":     "0x10",
		"contractAddress": nil,
		"status":          "0x1",
		"logs":            []interface{}{},
	}
}

func word(n int64) string {
	return hexutil.Encode(common.BigToHash(big.NewInt(n)).Bytes())
}

type testEnv struct {
	server *Server
	ch     *connectiontest.StubChannel
	store  store.Store
}

func newTestEnv(t *testing.T, withWatcher bool) *testEnv {
	t.Helper()
	ch := connectiontest.NewStubChannel()
	st := store.NewMemoryStore()
	deps := Deps{Channel: ch, Store: st, Metrics: metrics.New()}
	if withWatcher {
		deps.Watcher = transaction.NewWatcher(ch, nil,
			transaction.WithStore(st),
			transaction.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
	}
	srv, err := NewServer(&config.APIConfig{Port: 0, Mode: "test"}, deps, logging.Discard())
	require.NoError(t, err)
	return &testEnv{server: srv, ch: ch, store: st}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)

	var out map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") && w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func (e *testEnv) registerERC20(t *testing.T) {
	t.Helper()
	w, body := e.do(t, http.MethodPut, "/api/v1/contracts/"+token.Hex()+"/abi", contract.ERC20ABI)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Contains(t, body["functions"], "balanceOf")
}

func TestNewServer_RequiresDeps(t *testing.T) {
	_, err := NewServer(nil, Deps{}, nil)
	require.Error(t, err)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, false)

	w, body := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])

	w, _ = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, http.MethodOptions, "/api/v1/contracts", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestABIRoutes(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"地址非法", "/api/v1/contracts/0x1234/abi", contract.ERC20ABI, http.StatusBadRequest, "INVALID_ADDRESS_FORMAT"},
		{"ABI不是数组", "/api/v1/contracts/" + token.Hex() + "/abi", `{"type":"function"}`, http.StatusBadRequest, "INVALID_ABI_JSON"},
		{"类型无法解析", "/api/v1/contracts/" + token.Hex() + "/abi",
			`[{"type":"function","name":"f","inputs":[{"name":"x","type":"uint7"}],"outputs":[]}]`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := env.do(t, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
			if tt.code != "" {
				assert.Equal(t, tt.code, body["error"])
			}
		})
	}

	w, _ := env.do(t, http.MethodGet, "/api/v1/contracts/"+token.Hex()+"/abi", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	env.registerERC20(t)

	w, _ = env.do(t, http.MethodGet, "/api/v1/contracts/"+token.Hex()+"/abi", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, contract.ERC20ABI, w.Body.String())

	_, body := env.do(t, http.MethodGet, "/api/v1/contracts", "")
	assert.Equal(t, []interface{}{token.Hex()}, body["contracts"])
}

func TestCallFunction(t *testing.T) {
	env := newTestEnv(t, false)
	env.registerERC20(t)
	env.ch.Respond(connection.MethodCall, word(1000))

	path := "/api/v1/contracts/" + token.Hex() + "/call/balanceOf"
	w, body := env.do(t, http.MethodPost, path, `{"args":["`+holder.Hex()+`"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "balanceOf(address)", body["function"])
	assert.Equal(t, []interface{}{"1000"}, body["outputs"])
	assert.Equal(t, map[string]interface{}{"arg0": "1000"}, body["named"])

	requests := env.ch.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, connection.MethodCall, requests[0].Method)
	assert.Equal(t, connection.BlockTagLatest, requests[0].Args[1])

	// 命令行风格参数与区块标签
	w, _ = env.do(t, http.MethodPost, path, `{"text_args":["`+holder.Hex()+`"],"block":"0x10"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "0x10", env.ch.Requests()[1].Args[1])
}

func TestCallFunction_Errors(t *testing.T) {
	env := newTestEnv(t, false)
	env.registerERC20(t)
	unregistered := common.HexToAddress("0x00000000000000000000000000000000000000b7")

	tests := []struct {
		name   string
		path   string
		body   string
		setup  func()
		status int
		errTyp string
	}{
		{"函数不存在", "/call/mint", `{}`, nil, http.StatusNotFound, "NotFound"},
		{"非只读函数", "/call/transfer", `{"args":["` + holder.Hex() + `",1]}`, nil, http.StatusUnprocessableEntity, "MutabilityViolation"},
		{"参数个数错误", "/call/balanceOf", `{"args":[]}`, nil, http.StatusBadRequest, "Encode"},
		{"请求体非法", "/call/balanceOf", `{"args":`, nil, http.StatusBadRequest, "Validation"},
		{"区块标签非法", "/call/balanceOf", `{"block":"newest"}`, nil, http.StatusBadRequest, "Validation"},
		{"节点不可用", "/call/balanceOf", `{"args":["` + holder.Hex() + `"]}`, func() {
			env.ch.Fail(connection.MethodCall, stderrors.New("connection refused"))
		}, http.StatusBadGateway, "Transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			w, body := env.do(t, http.MethodPost, "/api/v1/contracts/"+token.Hex()+tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.errTyp, body["type"])
		})
	}

	w, _ := env.do(t, http.MethodPost, "/api/v1/contracts/"+unregistered.Hex()+"/call/balanceOf", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, stats := env.do(t, http.MethodGet, "/api/v1/errors", "")
	assert.Equal(t, float64(len(tests)+1), stats["total_errors"])
}

func TestSendTransaction(t *testing.T) {
	env := newTestEnv(t, true)
	env.registerERC20(t)
	env.ch.Respond(connection.MethodSendTransaction, txHash.Hex())
	path := "/api/v1/contracts/" + token.Hex() + "/send/transfer"

	w, body := env.do(t, http.MethodPost, path, `{"args":["`+holder.Hex()+`", 5],"from":"`+holder.Hex()+`"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, txHash.Hex(), body["tx_hash"])
	assert.Equal(t, 0, env.ch.Count(connection.MethodGetReceipt))

	env.ch.Respond(connection.MethodGetReceipt, receiptJSON(txHash))
	w, body = env.do(t, http.MethodPost, path, `{"args":["`+holder.Hex()+`", "0x05"],"wait":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "success", body["status"])

	pending, err := env.store.ListPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)

	// 非payable函数不能附带金额
	w, body = env.do(t, http.MethodPost, path, `{"args":["`+holder.Hex()+`", 5],"value":"1"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "MutabilityViolation", body["type"])

	w, _ = env.do(t, http.MethodPost, path, `{"args":["`+holder.Hex()+`", 5],"value":"-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendTransaction_WaitRequiresWatcher(t *testing.T) {
	env := newTestEnv(t, false)
	env.registerERC20(t)

	w, body := env.do(t, http.MethodPost, "/api/v1/contracts/"+token.Hex()+"/send/transfer", `{"wait":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "WAIT_UNSUPPORTED", body["error"])
}

func TestGetReceipt(t *testing.T) {
	env := newTestEnv(t, false)
	path := "/api/v1/transactions/" + txHash.Hex() + "/receipt"

	env.ch.Respond(connection.MethodGetReceipt, nil)
	w, body := env.do(t, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "RECEIPT_PENDING", body["error"])
	assert.Equal(t, txHash.Hex(), body["tx_hash"])

	env.ch.Respond(connection.MethodGetReceipt, receiptJSON(txHash))
	w, body = env.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", body["status"])

	w, _ = env.do(t, http.MethodGet, "/api/v1/transactions/0x1234/receipt", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetReceipt_WaitTimesOut(t *testing.T) {
	env := newTestEnv(t, true)
	env.ch.Respond(connection.MethodGetReceipt, nil)

	w, body := env.do(t, http.MethodGet, "/api/v1/transactions/"+txHash.Hex()+"/receipt?wait=true", "")
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, "ReceiptTimeout", body["type"])
	assert.Equal(t, 50, env.ch.Count(connection.MethodGetReceipt))
}

func TestQueryLogs(t *testing.T) {
	env := newTestEnv(t, false)
	env.registerERC20(t)

	transfer := abi.EventTopic("Transfer(address,address,uint256)")
	log := types.Log{
		Address:     token,
		Topics:      []common.Hash{transfer, common.BytesToHash(holder.Bytes()), common.BytesToHash(token.Bytes())},
		Data:        common.BigToHash(big.NewInt(5)).Bytes(),
		BlockNumber: 12,
		TxHash:      txHash,
	}
	foreign := log
	foreign.Topics = []common.Hash{transfer, common.BytesToHash(token.Bytes()), common.BytesToHash(holder.Bytes())}
	env.ch.Respond(connection.MethodGetLogs, []types.Log{log, foreign})

	w, body := env.do(t, http.MethodPost, "/api/v1/contracts/"+token.Hex()+"/logs/Transfer",
		`{"filter":{"from":"`+holder.Hex()+`"},"from_block":10,"to_block":20}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, float64(1), body["skipped"])

	events := body["events"].([]interface{})
	args := events[0].(map[string]interface{})["args"].(map[string]interface{})
	assert.Equal(t, "5", args["value"])
	assert.Equal(t, holder.Hex(), args["from"])

	filterArg := env.ch.Requests()[0].Args[0].(map[string]interface{})
	assert.Equal(t, "0xa", filterArg["fromBlock"])
	assert.Equal(t, "0x14", filterArg["toBlock"])

	w, _ = env.do(t, http.MethodPost, "/api/v1/contracts/"+token.Hex()+"/logs/Transfer", `{"from_block":20,"to_block":10}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/v1/contracts/"+token.Hex()+"/logs/Transfer", `{"filter":{"amount":1}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDecodeDisabledAndLogs(t *testing.T) {
	env := newTestEnv(t, false)

	w, _ := env.do(t, http.MethodPost, "/api/v1/decode", `{"input":"0x70a08231"}`)
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	env.registerERC20(t)
	_, body := env.do(t, http.MethodGet, "/api/v1/logs?level=info", "")
	assert.GreaterOrEqual(t, body["total"], float64(1))

	w, _ = env.do(t, http.MethodDelete, "/api/v1/logs", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.server.logManager.Len())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(stderrors.New("plain")))
}
