package main

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"go.mau.fi/vcardbook/database"
	"go.mau.fi/vcardbook/pkg/vcardmodel"
)

type MetricsHandler struct {
	db       *database.Database
	server   *http.Server
	log      zerolog.Logger
	registry *prometheus.Registry

	running      bool
	ctx          context.Context
	stopRecorder func()

	updates         *prometheus.CounterVec
	rejectedEdits   *prometheus.CounterVec
	saves           *prometheus.CounterVec
	contactCount    prometheus.Gauge
	countCollection prometheus.Histogram
}

func NewMetricsHandler(address string, log zerolog.Logger, db *database.Database) *MetricsHandler {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	mh := &MetricsHandler{
		db:       db,
		server:   &http.Server{Addr: address, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})},
		log:      log,
		registry: registry,
		running:  false,

		updates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vcardbook_record_updates",
			Help: "Number of successful contact record changes",
		}, []string{"field"}),
		rejectedEdits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vcardbook_rejected_edits",
			Help: "Number of contact edits that were ignored because of invalid input",
		}, []string{"operation"}),
		saves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vcardbook_record_saves",
			Help: "Number of contact records written to the database",
		}, []string{"success"}),
		contactCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vcardbook_contacts_total",
			Help: "Number of contacts in the database",
		}),
		countCollection: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "vcardbook_count_collection",
			Help: "Time spent collecting the vcardbook_*_total metrics",
		}),
	}
	// Every field label is exported at zero before its first update
	for _, field := range vcardmodel.Fields {
		mh.updates.With(prometheus.Labels{"field": string(field)})
	}
	return mh
}

func (mh *MetricsHandler) TrackUpdate(field vcardmodel.Field) {
	mh.updates.With(prometheus.Labels{"field": string(field)}).Inc()
}

func (mh *MetricsHandler) TrackRejectedEdit(operation string) {
	mh.rejectedEdits.With(prometheus.Labels{"operation": operation}).Inc()
}

func (mh *MetricsHandler) TrackSave(success bool) {
	label := "true"
	if !success {
		label = "false"
	}
	mh.saves.With(prometheus.Labels{"success": label}).Inc()
}

func (mh *MetricsHandler) updateStats() {
	start := time.Now()
	count, err := mh.db.Contact.Count(mh.ctx)
	if err != nil {
		mh.log.Warn().Err(err).Msg("Failed to scan number of contacts")
	} else {
		mh.contactCount.Set(float64(count))
	}
	mh.countCollection.Observe(time.Since(start).Seconds())
}

func (mh *MetricsHandler) startUpdatingStats() {
	defer func() {
		err := recover()
		if err != nil {
			mh.log.Error().
				Bytes(zerolog.ErrorStackFieldName, debug.Stack()).
				Any(zerolog.ErrorFieldName, err).
				Msg("Panic in metric updater")
		}
	}()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		mh.updateStats()
		select {
		case <-mh.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (mh *MetricsHandler) Start() {
	mh.running = true
	mh.ctx, mh.stopRecorder = context.WithCancel(context.Background())
	go mh.startUpdatingStats()
	mh.log.Info().Str("address", mh.server.Addr).Msg("Starting metrics listener")
	err := mh.server.ListenAndServe()
	mh.running = false
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		mh.log.Err(err).Msg("Error in metrics listener")
	}
}

func (mh *MetricsHandler) Stop() {
	if !mh.running {
		return
	}
	mh.stopRecorder()
	err := mh.server.Close()
	if err != nil {
		mh.log.Err(err).Msg("Error closing metrics listener")
	}
}
