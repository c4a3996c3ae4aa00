package fetch_test

import (
	"testing"

	"github.com/dkoval/jobsift/fetch"
)

func driftKinds(drift []fetch.Drift) map[fetch.DriftKind][]string {
	out := make(map[fetch.DriftKind][]string)
	for _, d := range drift {
		out[d.Kind] = append(out[d.Kind], d.Field)
	}
	return out
}

func TestSchemaWatch_LearnsThenDetectsDrift(t *testing.T) {
	w := fetch.NewSchemaWatch()

	baseline := []byte(`{"jobs": [{"id": 1, "title": "Support Agent", "tags": ["remote"], "meta": {"pages": 3}}]}`)
	if drift := w.Observe("api", baseline); drift != nil {
		t.Fatalf("first observation must learn silently, got %v", drift)
	}
	if drift := w.Observe("api", baseline); len(drift) != 0 {
		t.Fatalf("identical payload reported drift: %v", drift)
	}

	changed := []byte(`{"jobs": [{"id": "1", "title": "Support Agent", "meta": {"pages": 3}, "score": 0.9}]}`)
	kinds := driftKinds(w.Observe("api", changed))

	assertContains(t, kinds[fetch.DriftMissing], "tags")
	assertContains(t, kinds[fetch.DriftAdded], "score")
	assertContains(t, kinds[fetch.DriftTypeChange], "id")
	if total := len(kinds[fetch.DriftMissing]) + len(kinds[fetch.DriftAdded]) + len(kinds[fetch.DriftTypeChange]); total != 3 {
		t.Errorf("expected exactly 3 drift records, got %d", total)
	}
}

func assertContains(t *testing.T, fields []string, want string) {
	t.Helper()
	for _, f := range fields {
		if f == want {
			return
		}
	}
	t.Errorf("drift fields %v missing %q", fields, want)
}

func TestSchemaWatch_PerSourceBaselines(t *testing.T) {
	w := fetch.NewSchemaWatch()
	w.Observe("a", []byte(`[{"id": 1}]`))
	if drift := w.Observe("b", []byte(`[{"id": "x"}]`)); len(drift) != 0 {
		t.Errorf("sources must not share baselines: %v", drift)
	}
	if drift := w.Observe("a", []byte(`[{"id": "x"}]`)); len(drift) != 1 {
		t.Errorf("expected one type change for source a, got %v", drift)
	}
}

func TestSchemaWatch_ResetRelearns(t *testing.T) {
	w := fetch.NewSchemaWatch()
	w.Observe("a", []byte(`[{"id": 1}]`))
	w.Reset("a")
	if drift := w.Observe("a", []byte(`[{"id": "x"}]`)); len(drift) != 0 {
		t.Errorf("reset baseline should re-learn, got %v", drift)
	}
}

func TestSchemaWatch_GarbageIsIgnored(t *testing.T) {
	w := fetch.NewSchemaWatch()
	if drift := w.Observe("a", []byte(`not json`)); drift != nil {
		t.Errorf("unparseable payload must be ignored, got %v", drift)
	}
	if drift := w.Observe("a", []byte(`[1, 2, 3]`)); drift != nil {
		t.Errorf("array of scalars has no shape to learn, got %v", drift)
	}
}
