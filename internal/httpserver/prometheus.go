package httpserver

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roadsim/odotelem/internal/fleet"
	"github.com/roadsim/odotelem/internal/sim"
	"github.com/roadsim/odotelem/internal/telemetry"
)

type vehicleMetricsCollector struct {
	runner   *sim.Runner
	vehicles []fleet.Info
	metrics  []vehicleMetric
}

type vehicleMetric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	extract   func(status telemetry.Status) (float64, bool)
}

func newVehicleMetricsCollector(vehicles []fleet.Info, runner *sim.Runner) prometheus.Collector {
	if runner == nil || len(vehicles) == 0 {
		return nil
	}

	collector := &vehicleMetricsCollector{
		runner:   runner,
		vehicles: append([]fleet.Info(nil), vehicles...),
	}

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName("odotelem", "vehicle", name),
			help,
			[]string{"vehicle_id"},
			nil,
		)
	}

	collector.metrics = []vehicleMetric{
		{
			desc:      desc("speed_mps", "Current vehicle speed in metres per second."),
			valueType: prometheus.GaugeValue,
			extract: func(status telemetry.Status) (float64, bool) {
				if !status.HasSnapshot {
					return 0, false
				}
				return status.Snapshot.SpeedMPS, true
			},
		},
		{
			desc:      desc("distance_total", "Accumulated traveled distance in the configured distance unit."),
			valueType: prometheus.CounterValue,
			extract: func(status telemetry.Status) (float64, bool) {
				return status.Distance, true
			},
		},
		{
			desc:      desc("violations_total", "Total closed speed violation episodes."),
			valueType: prometheus.CounterValue,
			extract: func(status telemetry.Status) (float64, bool) {
				return float64(status.Violations), true
			},
		},
		{
			desc:      desc("violating", "Whether a violation episode is currently open (1) or not (0)."),
			valueType: prometheus.GaugeValue,
			extract: func(status telemetry.Status) (float64, bool) {
				if status.Violating {
					return 1, true
				}
				return 0, true
			},
		},
		{
			desc:      desc("violation_duration_seconds", "Duration accumulated by the currently open violation episode."),
			valueType: prometheus.GaugeValue,
			extract: func(status telemetry.Status) (float64, bool) {
				if !status.Violating {
					return 0, false
				}
				return status.ViolationDuration, true
			},
		},
		{
			desc:      desc("snapshot_sim_time_seconds", "Simulated timestamp of the latest telemetry snapshot."),
			valueType: prometheus.GaugeValue,
			extract: func(status telemetry.Status) (float64, bool) {
				if !status.HasSnapshot {
					return 0, false
				}
				return status.Snapshot.SimTime, true
			},
		},
	}

	return collector
}

func (c *vehicleMetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range c.metrics {
		ch <- metric.desc
	}
}

func (c *vehicleMetricsCollector) Collect(ch chan<- prometheus.Metric) {
	if c.runner == nil {
		return
	}
	for _, info := range c.vehicles {
		status, ok := c.runner.Status(info.ID)
		if !ok {
			continue
		}
		for _, metric := range c.metrics {
			value, ok := metric.extract(status)
			if !ok {
				continue
			}
			ch <- prometheus.MustNewConstMetric(metric.desc, metric.valueType, value, info.ID)
		}
	}
}
