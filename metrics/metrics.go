// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

// Package metrics exports receiver statistics as Prometheus gauges.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/msolo/rtpflow/session"
)

// Receiver exports a *session.Receiver's running counters as Prometheus
// gauges, refreshed on each scrape via a GaugeFunc.
type Receiver struct {
	registry *prometheus.Registry
}

// NewReceiver registers gauges that read recv's Stats on every scrape.
func NewReceiver(recv *session.Receiver) *Receiver {
	registry := prometheus.NewRegistry()
	namespace := "rtpflow_receiver"

	gaugeFunc := func(name, help string, read func(session.Snapshot) float64) {
		promauto.With(registry).NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 {
			return read(recv.Stats.Snapshot())
		})
	}

	gaugeFunc("packets_received_total", "Media packets received.", func(s session.Snapshot) float64 {
		return float64(s.Received)
	})
	gaugeFunc("packets_lost_total", "Packets counted lost on forward-gap detection.", func(s session.Snapshot) float64 {
		return float64(s.Lost)
	})
	gaugeFunc("packets_out_of_order_total", "Late packets that were not pending retransmission.", func(s session.Snapshot) float64 {
		return float64(s.OutOfOrder)
	})
	gaugeFunc("nacks_sent_total", "NACK control packets sent.", func(s session.Snapshot) float64 {
		return float64(s.NacksSent)
	})
	gaugeFunc("rtx_received_total", "Packets recovered via retransmission.", func(s session.Snapshot) float64 {
		return float64(s.RtxReceived)
	})
	gaugeFunc("loss_rate", "Lost / (received + lost).", func(s session.Snapshot) float64 {
		return s.LossRate
	})

	return &Receiver{registry: registry}
}

// Handler returns an http.Handler serving the registered gauges in the
// Prometheus exposition format.
func (r *Receiver) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
