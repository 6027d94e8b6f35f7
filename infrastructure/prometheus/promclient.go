package promclient

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var ConnectedGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "terminal_bridge_connected",
		Help: "1 while the terminal session is connected, 0 otherwise",
	},
)

var ReconnectsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "terminal_bridge_reconnects_total",
		Help: "number of recovery sequences started",
	},
)

var ResubscribedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "terminal_bridge_resubscribed_total",
		Help: "number of subscriptions reissued after reconnects",
	},
)

var TicksForwardedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "terminal_bridge_ticks_forwarded_total",
		Help: "number of raw market updates forwarded to the aggregator",
	},
)

var DepthUpdatesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "terminal_bridge_depth_updates_total",
		Help: "number of depth-of-market updates applied",
	},
)

func StartPromClientServer(addr string) {
	reg := prometheus.NewRegistry()
	promHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	reg.MustRegister(ConnectedGauge)
	reg.MustRegister(ReconnectsTotal)
	reg.MustRegister(ResubscribedTotal)
	reg.MustRegister(TicksForwardedTotal)
	reg.MustRegister(DepthUpdatesTotal)
	reg.MustRegister(collectors.NewGoCollector())

	http.Handle("/metrics", promHandler)
	log.Printf("prometheus server listening at %s", addr)

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
