package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/ludostock-crawler/internal/progress"
)

// PrometheusSink exports run progress as Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsFinished  *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	pages         *prometheus.CounterVec
	lastPage      prometheus.Gauge
	items         *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	ingested      *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ludostock_runs_started_total",
			Help: "Crawl runs started.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ludostock_runs_finished_total",
			Help: "Crawl runs finished partitioned by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ludostock_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ludostock_listing_pages_total",
			Help: "Listing pages processed partitioned by result.",
		}, []string{"result"}),
		lastPage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ludostock_last_completed_page",
			Help: "Highest listing page fully drained in the current run.",
		}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ludostock_item_fetches_total",
			Help: "Item page extractions partitioned by result and status class.",
		}, []string{"result", "status_class"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ludostock_item_fetch_duration_seconds",
			Help:    "Item extraction latency partitioned by result.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}, []string{"result"}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ludostock_ingest_outcomes_total",
			Help: "Ingestion outcomes partitioned by status.",
		}, []string{"status"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsFinished,
		s.runDuration,
		s.pages,
		s.lastPage,
		s.items,
		s.fetchDuration,
		s.ingested,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StageRunDone:
		s.finishRun("success", evt)
	case progress.StageRunInterrupted:
		s.finishRun("interrupted", evt)
	case progress.StageRunError:
		s.finishRun("error", evt)
	case progress.StagePageDone:
		s.pages.WithLabelValues("done").Inc()
		s.lastPage.Set(float64(evt.Page))
	case progress.StagePageFailed:
		s.pages.WithLabelValues("failed").Inc()
	case progress.StageItemExtracted:
		s.observeItem("extracted", evt)
	case progress.StageItemBroken:
		s.observeItem("broken", evt)
	case progress.StageItemIngested:
		s.ingested.WithLabelValues(evt.Outcome).Inc()
	}
}

func (s *PrometheusSink) finishRun(result string, evt progress.Event) {
	s.runsFinished.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) observeItem(result string, evt progress.Event) {
	class := string(evt.StatusClass)
	if class == "" {
		class = string(progress.StatusOther)
	}
	s.items.WithLabelValues(result, class).Inc()
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
