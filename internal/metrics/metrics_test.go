package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Reconciled("blob", "bound")
	m.Reconciled("blob", "bound")
	m.Query("success")
	m.Upload("corrupt")
	m.Generation(time.Second)
	m.Execution(time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReconcileTotal.WithLabelValues("blob", "bound")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UploadsTotal.WithLabelValues("corrupt")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.GenerationSeconds))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Reconciled("none", "unrecoverable")
		m.Query("success")
		m.Upload("error")
		m.Generation(time.Second)
		m.Execution(time.Second)
	})
}
