package metrics_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BrandonDHaskell/Portunus/relay/internal/metrics"
)

func TestRecordersRegisterOnce(t *testing.T) {
	// Calling any recorder twice must not panic on duplicate registration.
	for i := 0; i < 2; i++ {
		metrics.RecordLinkCommand("dump_log", "ok")
		metrics.RecordSendFailure()
		metrics.RecordTableUpdate("new_user")
		metrics.RecordDecision(true, "authorized")
		metrics.RecordEventDropped()
		metrics.SetEventsPending(3)
		metrics.RecordArchived(2)
		metrics.RecordHTTPRequest("GET", "/v1/status", 200, time.Millisecond)
	}

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	seen := map[string]bool{}
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "portunus_relay_") {
			seen[f.GetName()] = true
		}
	}
	for _, name := range []string{
		"portunus_relay_link_commands_total",
		"portunus_relay_authtable_updates_total",
		"portunus_relay_eventlog_pending",
		"portunus_relay_http_request_duration_seconds",
	} {
		if !seen[name] {
			t.Errorf("expected %s to be registered", name)
		}
	}
}
