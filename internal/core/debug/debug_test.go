package debug

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHandler_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("error fetching metrics: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "test_total 1") {
		t.Errorf("expected metrics output to contain the counter, got:\n%s", body)
	}
}

func TestDumpPacket(t *testing.T) {
	type loadZone struct {
		ZoneID   uint16
		Checksum uint32
	}

	out := DumpPacket(&loadZone{ZoneID: 1000, Checksum: 7})
	if !strings.Contains(out, "ZoneID: (uint16) 1000") {
		t.Errorf("expected dump to include the zone field, got:\n%s", out)
	}
	if strings.Contains(out, "0x") {
		t.Errorf("expected pointer addresses to be omitted, got:\n%s", out)
	}
}
