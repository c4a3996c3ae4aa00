package fetch

import (
	"encoding/json"
	"fmt"
	"sync"
)

// JSON sources change shape without notice: fields get renamed, types drift
// (a numeric id becomes a string), wrapper keys move.  The extractor's
// prioritized key lists absorb most of it silently, which is exactly why the
// drift needs to be visible somewhere.  SchemaWatch snapshots the field/type
// shape of each source's first successful payload and reports differences on
// later runs.  Purely observational: it never fails a fetch.
type SchemaWatch struct {
	mu        sync.Mutex
	baselines map[string]jsonShape
}

// jsonShape maps dot-separated field paths to JSON type names.
type jsonShape map[string]string

// DriftKind classifies one schema difference.
type DriftKind string

const (
	DriftMissing    DriftKind = "missing_field"
	DriftAdded      DriftKind = "added_field"
	DriftTypeChange DriftKind = "type_change"
)

// Drift describes a single difference between a source's baseline shape and
// its current payload.
type Drift struct {
	Kind         DriftKind
	Field        string
	BaselineType string
	CurrentType  string
}

func (d Drift) String() string {
	switch d.Kind {
	case DriftMissing:
		return fmt.Sprintf("field %q missing (was %s)", d.Field, d.BaselineType)
	case DriftAdded:
		return fmt.Sprintf("field %q added (type %s)", d.Field, d.CurrentType)
	default:
		return fmt.Sprintf("field %q type changed %s to %s", d.Field, d.BaselineType, d.CurrentType)
	}
}

// NewSchemaWatch returns a watch with no baselines; each source learns its
// shape from its first observed payload.
func NewSchemaWatch() *SchemaWatch {
	return &SchemaWatch{baselines: make(map[string]jsonShape)}
}

// Observe compares payload against source's baseline and returns the
// drift, learning the baseline on first sight.  Unparseable payloads and
// payloads with no object to inspect return nil; the fetch itself already
// reports those failures.
func (w *SchemaWatch) Observe(source string, payload []byte) []Drift {
	shape, ok := extractShape(payload)
	if !ok {
		return nil
	}

	w.mu.Lock()
	baseline, known := w.baselines[source]
	if !known {
		w.baselines[source] = shape
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	return diffShapes(baseline, shape)
}

// Reset drops source's baseline so the next payload re-learns it.  Used when
// an operator confirms an intentional schema change.
func (w *SchemaWatch) Reset(source string) {
	w.mu.Lock()
	delete(w.baselines, source)
	w.mu.Unlock()
}

// extractShape finds the representative entry object in payload.  Job feeds
// drift at the entry level, so the first entry (located the same way the
// JSON transport locates entries) is the shape that matters; a payload with
// no entries falls back to the top-level object.
func extractShape(payload []byte) (jsonShape, bool) {
	if entries, err := jsonEntries(payload); err == nil && len(entries) > 0 {
		s := make(jsonShape)
		flattenShape(entries[0], "", s)
		return s, true
	}

	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, false
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}
	s := make(jsonShape)
	flattenShape(obj, "", s)
	return s, true
}

func flattenShape(obj map[string]any, prefix string, s jsonShape) {
	for k, v := range obj {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			s[path] = "object"
			flattenShape(val, path, s)
		case []any:
			s[path] = "array"
		case string:
			s[path] = "string"
		case float64:
			s[path] = "number"
		case bool:
			s[path] = "bool"
		case nil:
			s[path] = "null"
		}
	}
}

func diffShapes(baseline, current jsonShape) []Drift {
	var drift []Drift
	for field, bType := range baseline {
		cType, ok := current[field]
		switch {
		case !ok:
			drift = append(drift, Drift{Kind: DriftMissing, Field: field, BaselineType: bType})
		case cType != bType:
			drift = append(drift, Drift{Kind: DriftTypeChange, Field: field, BaselineType: bType, CurrentType: cType})
		}
	}
	for field, cType := range current {
		if _, ok := baseline[field]; !ok {
			drift = append(drift, Drift{Kind: DriftAdded, Field: field, CurrentType: cType})
		}
	}
	return drift
}
