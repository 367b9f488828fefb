package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecutionHooksRecordOutcome(t *testing.T) {
	m := New()
	hooks := m.ExecutionHooks()

	hooks.OnComplete(context.Background(), nil, nil, 10*time.Millisecond)
	hooks.OnComplete(context.Background(), nil, errors.New("boom"), 5*time.Millisecond)

	count, err := m.TaskDispatchTotal.MetricVec.GetMetricWithLabelValues("success")
	require.NoError(t, err)
	require.NotNil(t, count)

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	recorded := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "taskrun_execution_task_dispatch_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "outcome" {
					recorded[label.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}
	require.Equal(t, map[string]float64{"success": 1, "error": 1}, recorded)
}

func TestRegistryHooksRegisterWithoutPanicking(t *testing.T) {
	m := New()
	hooks := m.RegistryHooks()
	require.NotPanics(t, func() {
		hooks.OnComplete(context.Background(), nil, nil, time.Millisecond)
	})
}
