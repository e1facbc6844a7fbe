package observability

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimer(t *testing.T) {
	t.Run("Stop records duration and total", func(t *testing.T) {
		m := NewInMemoryMetrics()

		d := StartTimer("checkout").WithMetrics(m).Stop()

		assert.GreaterOrEqual(t, d, time.Duration(0))
		require.Len(t, m.GetTimings(MetricOperationDuration, T("operation", "checkout")), 1)
		assert.Equal(t, int64(1), m.GetCounter(MetricOperationTotal, T("operation", "checkout")))
		assert.Equal(t, int64(0), m.GetCounter(MetricOperationErrors, T("operation", "checkout")))
	})

	t.Run("StopWithError counts the failure", func(t *testing.T) {
		m := NewInMemoryMetrics()

		StartTimer("checkout").WithMetrics(m).StopWithError(errors.New("card declined"))

		require.Len(t, m.GetTimings(MetricOperationDuration, T("operation", "checkout")), 1)
		assert.Equal(t, int64(1), m.GetCounter(MetricOperationTotal, T("operation", "checkout")))
		assert.Equal(t, int64(1), m.GetCounter(MetricOperationErrors, T("operation", "checkout")))
	})

	t.Run("extra tags reach the collector", func(t *testing.T) {
		m := NewInMemoryMetrics()

		StartTimer("checkout").WithMetrics(m).WithTags(T("op", "create_session")).Stop()

		assert.Equal(t, int64(1), m.GetCounter(MetricOperationTotal,
			T("op", "create_session"), T("operation", "checkout")))
	})

	t.Run("logger reports the outcome", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		StartTimer("checkout").WithLogger(logger).StopWithError(errors.New("card declined"))

		assert.Contains(t, buf.String(), "operation failed")
		assert.Contains(t, buf.String(), "card declined")
	})

	t.Run("no collector means no-op", func(t *testing.T) {
		require.NotPanics(t, func() {
			StartTimer("checkout").Stop()
		})
	})
}

func TestTimerElapsed(t *testing.T) {
	timer := StartTimer("checkout")

	assert.GreaterOrEqual(t, timer.Elapsed().Nanoseconds(), int64(0))
}
