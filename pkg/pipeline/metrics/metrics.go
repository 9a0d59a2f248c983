package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "songlake_etl_build_info",
			Help: "Build information of the songlake ETL",
		},
		[]string{"version", "commit", "date"},
	)

	RecordsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "songlake_etl_records_read_total",
			Help: "Raw records read per source",
		},
		[]string{"source"},
	)

	RecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "songlake_etl_records_dropped_total",
			Help: "Raw records dropped by the filters, per source",
		},
		[]string{"source"},
	)

	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "songlake_etl_rows_written_total",
			Help: "Rows written to parquet per table",
		},
		[]string{"table"},
	)

	RunDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "songlake_etl_run_duration_seconds",
			Help: "Wall-clock duration of the last completed run",
		},
	)
)
