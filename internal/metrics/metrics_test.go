package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dmitrijs2005/profilekeeper/internal/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	return m, reg
}

func TestLifecycleOp(t *testing.T) {
	m, _ := newMetrics(t)

	m.LifecycleOp("switch", nil)
	m.LifecycleOp("switch", fmt.Errorf("wrap: %w", common.ErrAuthentication))
	m.LifecycleOp("create", errors.New("disk full"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("switch", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("switch", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("create", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authFailures))
}

func TestGaugesAndCounters(t *testing.T) {
	m, reg := newMetrics(t)

	m.ProfileCount(3, 1)
	m.AutoLock("idle")
	m.AutoLock("idle")
	m.AutoLock("manual")
	m.EmergencyCleanup()
	m.KDFDuration(300 * time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.profiles.WithLabelValues("regular")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.profiles.WithLabelValues("guest")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.autoLocks.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.emergency))

	n, err := testutil.GatherAndCount(reg, "profilekeeper_kdf_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNew_DoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.Error(t, err)
}
