package transaction

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"contractkit/internal/connection"
	"contractkit/internal/connection/connectiontest"
	"contractkit/internal/errors"
	"contractkit/internal/logging"
	"contractkit/internal/metrics"
	"contractkit/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var txHash = common.HexToHash("0xabc0000000000000000000000000000000000000000000000000000000000001")

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func receiptJSON(hash common.Hash) map[string]interface{} {
	return map[string]interface{}{
		"transactionHash": hash.Hex(),
		"blockHash":       common.HexToHash("0x01").Hex(),
		"blockNumber":     "0x10",
		"contractAddress": nil,
		"status":          "0x1",
		"gasUsed":         "0x5208",
		"logs":            []interface{}{},
	}
}

// pendingThen 前n次返回null，之后返回回执
func pendingThen(n int, hash common.Hash) connectiontest.StubHandler {
	var mu sync.Mutex
	calls := 0
	return func([]interface{}) (interface{}, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= n {
			return nil, nil
		}
		return receiptJSON(hash), nil
	}
}

type memoryStore struct {
	mu      sync.Mutex
	pending map[common.Hash]models.PendingTransaction
}

func newMemoryStore() *memoryStore {
	return &memoryStore{pending: make(map[common.Hash]models.PendingTransaction)}
}

func (s *memoryStore) SavePending(_ context.Context, tx models.PendingTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[tx.Hash] = tx
	return nil
}

func (s *memoryStore) RemovePending(_ context.Context, hash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, hash)
	return nil
}

func (s *memoryStore) ListPending(context.Context) ([]models.PendingTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PendingTransaction, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	return out, nil
}

func TestWaitForReceipt_ConfirmedAfterPolls(t *testing.T) {
	ch := connectiontest.NewStubChannel().Handle(connection.MethodGetReceipt, pendingThen(3, txHash))
	sleeper := &recordingSleeper{}
	m := metrics.New()
	w := NewWatcher(ch, logging.Discard(), WithSleeper(sleeper.sleep), WithMetrics(m))

	receipt, err := w.WaitForReceipt(context.Background(), txHash)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, txHash, receipt.TransactionHash)
	assert.True(t, receipt.Succeeded())
	assert.Equal(t, int64(16), receipt.BlockNumber.ToInt().Int64())
	assert.NotEmpty(t, receipt.Raw)

	assert.Equal(t, 4, ch.Count(connection.MethodGetReceipt))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.recorded())
	expected := `
# HELP contractkit_receipt_poll_attempts_total eth_getTransactionReceipt poll attempts.
# TYPE contractkit_receipt_poll_attempts_total counter
contractkit_receipt_poll_attempts_total 4
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "contractkit_receipt_poll_attempts_total"))
}

func TestWaitForReceipt_TimesOutAfterFiftyAttempts(t *testing.T) {
	ch := connectiontest.NewStubChannel().Respond(connection.MethodGetReceipt, nil)
	sleeper := &recordingSleeper{}
	w := NewWatcher(ch, nil, WithSleeper(sleeper.sleep))

	receipt, err := w.WaitForReceipt(context.Background(), txHash)
	assert.Nil(t, receipt)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeReceiptTimeout))

	var contractErr *errors.ContractError
	require.True(t, stderrors.As(err, &contractErr))
	assert.Equal(t, "RECEIPT_TIMEOUT", contractErr.Code)
	require.NotNil(t, contractErr.TxHash)
	assert.Equal(t, txHash.Hex(), *contractErr.TxHash)
	assert.Equal(t, 50, contractErr.Context["attempts"])

	assert.Equal(t, 50, ch.Count(connection.MethodGetReceipt))
	delays := sleeper.recorded()
	require.Len(t, delays, 49)
	var total time.Duration
	for _, d := range delays {
		total += d
	}
	// 1+2+4+8 再加 45 次 10s
	assert.Equal(t, 465*time.Second, total)
}

func TestWaitForReceipt_TransportErrorStopsImmediately(t *testing.T) {
	ch := connectiontest.NewStubChannel().Fail(connection.MethodGetReceipt, stderrors.New("connection refused"))
	sleeper := &recordingSleeper{}
	w := NewWatcher(ch, nil, WithSleeper(sleeper.sleep))

	_, err := w.WaitForReceipt(context.Background(), txHash)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))
	assert.False(t, errors.IsType(err, errors.ErrorTypeReceiptTimeout))
	assert.Equal(t, 1, ch.Count(connection.MethodGetReceipt))
	assert.Empty(t, sleeper.recorded())
}

func TestWaitForReceipt_CancelBetweenPolls(t *testing.T) {
	ch := connectiontest.NewStubChannel().Respond(connection.MethodGetReceipt, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sleeps := 0
	sleeper := func(ctx context.Context, d time.Duration) error {
		sleeps++
		if sleeps == 2 {
			cancel()
		}
		return ctx.Err()
	}

	var transitions []Transition
	w := NewWatcher(ch, nil, WithSleeper(sleeper), WithObserver(func(_ common.Hash, tr Transition) {
		transitions = append(transitions, tr)
	}))

	_, err := w.WaitForReceipt(ctx, txHash)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, ch.Count(connection.MethodGetReceipt))
	require.Len(t, transitions, 2)
	assert.Equal(t, StateFailed, transitions[1].To)
}

func TestTrack_StateHistory(t *testing.T) {
	ch := connectiontest.NewStubChannel().Handle(connection.MethodGetReceipt, pendingThen(2, txHash))
	w := NewWatcher(ch, nil, WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))

	lc := w.Track(context.Background(), txHash)
	select {
	case <-lc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("跟踪未结束")
	}

	assert.Equal(t, StateConfirmed, lc.State())
	assert.True(t, lc.State().IsTerminal())
	assert.Equal(t, 3, lc.Attempts())

	history := lc.History()
	require.Len(t, history, 2)
	assert.Equal(t, StateSubmitted, history[0].From)
	assert.Equal(t, StatePolling, history[0].To)
	assert.Equal(t, StateConfirmed, history[1].To)
	assert.Equal(t, 3, history[1].Attempts)

	receipt, err := lc.Result()
	require.NoError(t, err)
	assert.Equal(t, txHash, receipt.TransactionHash)
}

func TestSubmitAndWait_TracksPendingInStore(t *testing.T) {
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	var seen []models.PendingTransaction
	store := newMemoryStore()

	ch := connectiontest.NewStubChannel().
		Respond(connection.MethodSendTransaction, txHash.Hex()).
		Handle(connection.MethodGetReceipt, func([]interface{}) (interface{}, error) {
			// 查询回执时交易已记入待确认列表
			seen, _ = store.ListPending(context.Background())
			return receiptJSON(txHash), nil
		})
	w := NewWatcher(ch, nil, WithStore(store))

	hash, receipt, err := w.SubmitAndWait(context.Background(), &models.TransactionRequest{
		To:   &to,
		Data: hexutil.Bytes{0x01, 0x02},
	}, "transfer")
	require.NoError(t, err)
	assert.Equal(t, txHash, hash)
	assert.Equal(t, txHash, receipt.TransactionHash)

	require.Len(t, seen, 1)
	assert.Equal(t, "transfer", seen[0].Function)
	assert.Equal(t, &to, seen[0].Contract)

	pending, err := store.ListPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSubmit_TransportError(t *testing.T) {
	ch := connectiontest.NewStubChannel().Fail(connection.MethodSendTransaction, stderrors.New("insufficient funds"))
	_, err := Submit(context.Background(), ch, &models.TransactionRequest{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))
}

func TestResume(t *testing.T) {
	store := newMemoryStore()
	other := common.HexToHash("0x02")
	require.NoError(t, store.SavePending(context.Background(), models.PendingTransaction{Hash: txHash}))
	require.NoError(t, store.SavePending(context.Background(), models.PendingTransaction{Hash: other}))

	ch := connectiontest.NewStubChannel().Handle(connection.MethodGetReceipt, func(args []interface{}) (interface{}, error) {
		return receiptJSON(args[0].(common.Hash)), nil
	})
	w := NewWatcher(ch, nil, WithStore(store))

	tracked, err := w.Resume(context.Background())
	require.NoError(t, err)
	require.Len(t, tracked, 2)
	for _, lc := range tracked {
		<-lc.Done()
		assert.Equal(t, StateConfirmed, lc.State())
	}

	pending, err := store.ListPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)

	empty, err := NewWatcher(ch, nil).Resume(context.Background())
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		name  string
	}{
		{StateSubmitted, "submitted"},
		{StatePolling, "polling"},
		{StateConfirmed, "confirmed"},
		{StateTimedOut, "timed_out"},
		{StateFailed, "failed"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.state.String())
	}
}
