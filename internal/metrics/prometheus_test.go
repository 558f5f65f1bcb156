package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.RecordRPC("eth_call", "primary", 10*time.Millisecond, nil)
	m.RecordRPC("eth_call", "primary", 10*time.Millisecond, errors.New("boom"))
	m.RecordReceiptPoll()
	m.RecordReceiptPoll()
	m.RecordReceiptOutcome("confirmed")
	m.RecordFilterPoll(3, nil)
	m.RecordFilterPoll(0, errors.New("boom"))
	m.RecordSinkWrite("kafka", "event", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.rpcRequests.WithLabelValues("eth_call", "primary", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rpcRequests.WithLabelValues("eth_call", "primary", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.receiptPolls))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.receiptOutcomes.WithLabelValues("confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.filterPolls.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.filterLogs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sinkWrites.WithLabelValues("kafka", "event", "ok")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRPC("eth_call", "n", time.Second, nil)
		m.RecordReceiptPoll()
		m.RecordReceiptOutcome("timed_out")
		m.RecordFilterPoll(1, nil)
		m.RecordSinkWrite("stdout", "receipt", nil)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordReceiptPoll()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "contractkit_receipt_poll_attempts_total 1")
}
