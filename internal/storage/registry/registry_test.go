package registry

import (
	"sync"
	"testing"

	"github.com/xtxerr/tally/internal/errors"
	"github.com/xtxerr/tally/internal/storage/types"
)

func TestDefineMetric(t *testing.T) {
	r := New()

	if err := r.DefineMetric("http.requests", "counter", "requests served", &MetricOptions{Unit: "req"}); err != nil {
		t.Fatalf("DefineMetric: %v", err)
	}

	def, ok := r.Metric("http.requests")
	if !ok {
		t.Fatal("metric not found")
	}
	if def.Kind != types.KindCounter {
		t.Errorf("expected counter, got %v", def.Kind)
	}
	if def.Unit != "req" {
		t.Errorf("expected unit req, got %q", def.Unit)
	}
}

func TestDefineMetric_Errors(t *testing.T) {
	r := New()

	tests := []struct {
		name    string
		metric  string
		kind    string
		wantErr error
	}{
		{"missing name", "", "gauge", errors.ErrMetricNameOrTypeRequired},
		{"missing kind", "m", "", errors.ErrMetricNameOrTypeRequired},
		{"unknown kind", "m", "meter", errors.ErrInvalidMetricType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.DefineMetric(tt.metric, tt.kind, "", nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if !errors.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}

	if len(r.Metrics()) != 0 {
		t.Error("failed definitions must not be stored")
	}
}

func TestDefineMetric_Overwrite(t *testing.T) {
	r := New()

	r.DefineMetric("m", "counter", "first", nil)
	r.DefineMetric("m", "gauge", "second", nil)

	def, _ := r.Metric("m")
	if def.Kind != types.KindGauge || def.Description != "second" {
		t.Errorf("expected overwrite, got %+v", def)
	}
	if len(r.Metrics()) != 1 {
		t.Errorf("expected 1 metric, got %d", len(r.Metrics()))
	}
}

func TestDefineDimension(t *testing.T) {
	r := New()

	if err := r.DefineDimension("", "x", nil); !errors.Is(err, errors.ErrDimensionNameRequired) {
		t.Errorf("expected ErrDimensionNameRequired, got %v", err)
	}

	allowed := []string{"east", "west"}
	if err := r.DefineDimension("region", "cloud region", allowed); err != nil {
		t.Fatalf("DefineDimension: %v", err)
	}

	// Caller mutation must not leak into the registry
	allowed[0] = "north"

	def, ok := r.Dimension("region")
	if !ok {
		t.Fatal("dimension not found")
	}
	if !def.Allows("east") || def.Allows("north") {
		t.Errorf("unexpected allowed values %v", def.AllowedValues)
	}
}

func TestValidate_Order(t *testing.T) {
	r := New()
	r.DefineMetric("m", "gauge", "", nil)
	r.DefineDimension("region", "", []string{"east", "west"})
	r.DefineDimension("host", "", nil)

	tests := []struct {
		name    string
		metric  string
		value   any
		dims    map[string]string
		wantErr error
	}{
		{"ok no dims", "m", 1, nil, nil},
		{"ok restricted", "m", int64(2), map[string]string{"region": "east"}, nil},
		{"ok open", "m", float32(3), map[string]string{"host": "anything"}, nil},
		{"undefined metric wins", "nope", "x", map[string]string{"zone": "1"}, errors.ErrMetricNotDefined},
		{"bad value before dimensions", "m", "x", map[string]string{"zone": "1"}, errors.ErrInvalidValueType},
		{"undefined dimension", "m", 1, map[string]string{"zone": "1"}, errors.ErrDimensionNotDefined},
		{"undefined dimension before bad value", "m", 1, map[string]string{"region": "north", "zone": "1"}, errors.ErrDimensionNotDefined},
		{"bad dimension value", "m", 1, map[string]string{"region": "north"}, errors.ErrInvalidDimensionValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := r.Validate(tt.metric, tt.value, tt.dims)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if want, _ := types.ToFloat(tt.value); v != want {
					t.Errorf("value = %v, want %v", v, want)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMetrics_Sorted(t *testing.T) {
	r := New()
	r.DefineMetric("b", "gauge", "", nil)
	r.DefineMetric("a", "gauge", "", nil)
	r.DefineMetric("c", "gauge", "", nil)

	defs := r.Metrics()
	if len(defs) != 3 || defs[0].Name != "a" || defs[2].Name != "c" {
		t.Errorf("unexpected order: %+v", defs)
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New()
	r.DefineDimension("worker", "", nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.DefineMetric("shared", "gauge", "", nil)
		}()
		go func() {
			defer wg.Done()
			r.Validate("shared", 1, map[string]string{"worker": "x"})
		}()
	}
	wg.Wait()

	if _, ok := r.Metric("shared"); !ok {
		t.Error("expected shared metric defined")
	}
}
