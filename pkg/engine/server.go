package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/newtron-network/newtorch/pkg/health"
	"github.com/newtron-network/newtorch/pkg/sai"
	"github.com/newtron-network/newtorch/pkg/version"
)

const shutdownTimeout = 5 * time.Second

// Handler serves /metrics, /healthz and /stats.
func (e *Engine) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		report := e.Check(r.Context())
		code := http.StatusOK
		if report.Overall == health.StatusCritical {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, e.Driver.Stats())
	})
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func (e *Engine) newServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           e.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// serve runs srv until ctx ends, then shuts it down.
func serve(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// objectCollector exports the number of live objects per SAI type.
type objectCollector struct {
	asic *sai.AsicDB
	desc *prometheus.Desc
}

func newObjectCollector(asic *sai.AsicDB) *objectCollector {
	return &objectCollector{
		asic: asic,
		desc: prometheus.NewDesc("newtorch_asic_objects",
			"Objects programmed through the boundary, by SAI object type.",
			[]string{"type"}, nil),
	}
}

func (c *objectCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *objectCollector) Collect(ch chan<- prometheus.Metric) {
	for _, t := range sai.ObjectTypes() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(c.asic.Count(t)), string(t))
	}
}

func newBuildInfo() prometheus.Collector {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "newtorch_build_info",
		Help:        "Build metadata of the running engine.",
		ConstLabels: version.Labels(),
	})
	g.Set(1)
	return g
}
