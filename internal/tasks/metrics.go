package tasks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

const metricsNamespace = "torrentd"

// metricFamilies builds the agent metric families from a metrics snapshot
func metricFamilies(m *AgentMetrics) []*dto.MetricFamily {
	families := []*dto.MetricFamily{
		counter("commands_processed_total", "Lifecycle commands processed, including failures.", float64(m.CommandsProcessed)),
		counter("commands_errored_total", "Lifecycle commands that returned an error.", float64(m.CommandsErrored)),
		counter("status_reports_total", "Status reports emitted by the server actor.", float64(m.ReportsEmitted)),
		counter("heartbeats_total", "Heartbeats published.", float64(m.HeartbeatCount)),
		gauge("uptime_seconds", "Seconds since the agent started.", float64(m.UptimeSeconds)),
		gauge("goroutines", "Number of goroutines.", float64(m.Goroutines)),
		gauge("memory_usage_megabytes", "Go runtime memory obtained from the OS.", m.MemoryUsageMB),
		gauge("cpu_percent", "Process CPU usage.", m.CPUPercent),
	}

	if m.Server != nil {
		active := 0.0
		if m.Server.Status == 0 {
			active = 1
		}
		fam := gauge("server_active", "1 when the last report said the server is active.", active)
		fam.Metric[0].Label = []*dto.LabelPair{
			{Name: proto.String("port"), Value: proto.String(strconv.Itoa(m.Server.Port))},
		}
		families = append(families, fam)
	}

	return families
}

// WriteMetrics writes the agent metrics in the Prometheus text exposition format
func (t *Tracker) WriteMetrics(ctx context.Context, w io.Writer) error {
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range metricFamilies(t.GetAgentMetrics(ctx)) {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// MetricsText returns WriteMetrics output as a string
func (t *Tracker) MetricsText(ctx context.Context) (string, error) {
	var buf bytes.Buffer
	if err := t.WriteMetrics(ctx, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func counter(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(metricsNamespace + "_" + name),
		Help: proto.String(help),
		Type: dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{
			{Counter: &dto.Counter{Value: proto.Float64(v)}},
		},
	}
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(metricsNamespace + "_" + name),
		Help: proto.String(help),
		Type: dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{
			{Gauge: &dto.Gauge{Value: proto.Float64(v)}},
		},
	}
}
