package debug

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"

	"github.com/davecgh/go-spew/spew"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var dumper = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// DumpPacket renders a decoded packet as a multi-line string for packet logging.
func DumpPacket(pkt interface{}) string {
	return dumper.Sdump(pkt)
}

// Handler returns the mux served by the debug server: the pprof endpoints
// (see https://golang.org/pkg/net/http/pprof/) and the Prometheus /metrics endpoint.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

// StartUtilities spins off the services associated with debug mode. The server
// is bound to localhost and shut down when ctx is cancelled.
func StartUtilities(ctx context.Context, logger *logrus.Logger, port int, gatherer prometheus.Gatherer) {
	listenerAddr := fmt.Sprintf("localhost:%d", port)
	logger.Infof("starting debug server on %s", listenerAddr)

	srv := &http.Server{Addr: listenerAddr, Handler: Handler(gatherer)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("error starting debug server: %s", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
}
