package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.TargetStarted()
	c.TargetStarted()
	c.TargetStopped()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.running))

	c.TargetFinished("completed", false)
	c.TargetFinished("completed", true)
	c.TargetFinished("failed", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.targets.WithLabelValues("completed", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.targets.WithLabelValues("failed", "false")))

	c.ObserveStep("deploy", nil, 2*time.Second)
	c.ObserveStep("deploy", errors.New("x"), time.Second)
	assert.Equal(t, 2, testutil.CollectAndCount(c.stepDuration))

	c.HookFailed("after")
	c.RunFinished(false)

	expected := `
# HELP deploygrid_runs_total Completed scheduler runs, by outcome.
# TYPE deploygrid_runs_total counter
deploygrid_runs_total{outcome="failure"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "deploygrid_runs_total"))
}

func TestNilCollectorsAreNoops(t *testing.T) {
	var c *Collectors
	assert.NotPanics(t, func() {
		c.TargetStarted()
		c.TargetStopped()
		c.TargetFinished("completed", false)
		c.ObserveStep("deploy", nil, time.Second)
		c.HookFailed("before")
		c.RunFinished(true)
	})
}
