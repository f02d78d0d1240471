package metrics

import (
	"bytes"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.Operation("assign_domain_manager", OutcomeApplied)
	r.HistoryEntry("DomainManager", "assigned")
	r.Displaced()
	r.PersistFailed("users")
	r.HistoryLen(3)
}

func TestWrite(t *testing.T) {
	r := NewRecorder()
	r.Operation("assign_domain_manager", OutcomeApplied)
	r.Operation("assign_domain_manager", OutcomeApplied)
	r.Displaced()
	r.HistoryLen(5)
	if got := testutil.ToFloat64(r.Operations.WithLabelValues("assign_domain_manager", OutcomeApplied)); got != 2 {
		t.Fatalf("operations = %v", got)
	}
	var buf bytes.Buffer
	if err := r.Write(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		`regpatrol_allocation_operations_total{op="assign_domain_manager",outcome="applied"} 2`,
		"regpatrol_allocation_displacements_total 1",
		"regpatrol_allocation_history_size 5",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}
