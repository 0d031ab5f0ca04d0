// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// All localtube metrics register against the default registry via
// promauto; gathering must succeed and every family must carry the
// localtube_ prefix and a help string.
func TestAllMetricFamiliesAreWellFormed(t *testing.T) {
	// Touch one child of each vector so the families materialize.
	TasksTotal.WithLabelValues("DownloadVideo", "completed").Inc()
	TasksActive.WithLabelValues("DownloadVideo").Set(1)
	TaskConsecutiveFailures.WithLabelValues("DownloadVideo").Set(0)
	TaskCleanupRemoved.WithLabelValues("DownloadVideo").Inc()
	RetryScheduled.WithLabelValues("download").Inc()
	RetryExecuted.WithLabelValues("download", "ran").Inc()
	ExtractorInvocations.WithLabelValues("download", "ok").Inc()
	ExtractorDuration.WithLabelValues("download").Observe(1)
	RefreshRuns.WithLabelValues("scheduler", "success").Inc()
	VPNRestarts.WithLabelValues("DownloadVideo", "success").Inc()
	StreamRequests.WithLabelValues("200").Inc()
	IncProcTerminate("SIGTERM", "sent")
	IncProcWait("exit0")

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	var localtube []*dto.MetricFamily
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "localtube_") {
			localtube = append(localtube, mf)
		}
	}
	if len(localtube) == 0 {
		t.Fatal("no localtube_ metric families registered")
	}

	for _, mf := range localtube {
		if mf.GetHelp() == "" {
			t.Errorf("metric %s has no help string", mf.GetName())
		}
		if len(mf.GetMetric()) == 0 {
			t.Errorf("metric %s has no children", mf.GetName())
		}
	}
}

func TestVPNRestartCounterLabels(t *testing.T) {
	before := counterValue(t, "localtube_vpn_restarts_total", map[string]string{
		"trigger_task_type": "RefreshIndex", "outcome": "failure",
	})
	VPNRestarts.WithLabelValues("RefreshIndex", "failure").Inc()
	after := counterValue(t, "localtube_vpn_restarts_total", map[string]string{
		"trigger_task_type": "RefreshIndex", "outcome": "failure",
	})
	if after != before+1 {
		t.Errorf("counter went %v -> %v, want +1", before, after)
	}
}

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := true
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && lp.GetValue() != want {
					matched = false
					break
				}
			}
			if matched {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
