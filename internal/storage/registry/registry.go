// Package registry holds metric and dimension schemas.
//
// Every sample passes through Validate before it may enter the buffer.
// Definitions are looked up by exact name; a later Define* call with the
// same name overwrites the earlier definition.
package registry

import (
	"slices"
	"sort"
	"sync"

	"github.com/xtxerr/tally/internal/errors"
	"github.com/xtxerr/tally/internal/storage/types"
)

// MetricOptions carries optional metric attributes.
type MetricOptions struct {
	Unit string
}

// Registry is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	metrics    map[string]types.MetricDefinition
	dimensions map[string]types.DimensionDefinition
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		metrics:    make(map[string]types.MetricDefinition),
		dimensions: make(map[string]types.DimensionDefinition),
	}
}

// DefineMetric stores or overwrites a metric definition.
// kind is one of the names accepted by types.ParseMetricKind.
func (r *Registry) DefineMetric(name, kind, description string, opts *MetricOptions) error {
	if name == "" || kind == "" {
		return errors.ErrMetricNameOrTypeRequired
	}

	k, err := types.ParseMetricKind(kind)
	if err != nil {
		return errors.NewValidation(errors.ErrInvalidMetricType, "%q", kind)
	}

	def := types.MetricDefinition{
		Name:        name,
		Kind:        k,
		Description: description,
	}
	if opts != nil {
		def.Unit = opts.Unit
	}

	r.mu.Lock()
	r.metrics[name] = def
	r.mu.Unlock()

	return nil
}

// DefineDimension stores or overwrites a dimension definition.
// An empty allowedValues means any value is permitted.
func (r *Registry) DefineDimension(name, description string, allowedValues []string) error {
	if name == "" {
		return errors.ErrDimensionNameRequired
	}

	def := types.DimensionDefinition{
		Name:          name,
		Description:   description,
		AllowedValues: slices.Clone(allowedValues),
	}

	r.mu.Lock()
	r.dimensions[name] = def
	r.mu.Unlock()

	return nil
}

// Validate checks a prospective sample against the registered schemas and
// returns its value as float64. The order is fixed and the first failure
// wins: metric defined, value numeric, dimension keys defined, dimension
// values allowed.
func (r *Registry) Validate(name string, value any, dims map[string]string) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.metrics[name]; !ok {
		return 0, errors.NewValidation(errors.ErrMetricNotDefined, "%q", name)
	}

	v, ok := types.ToFloat(value)
	if !ok {
		return 0, errors.NewValidation(errors.ErrInvalidValueType, "%T for metric %q", value, name)
	}

	return v, r.validateDimensionsLocked(dims)
}

func (r *Registry) validateDimensionsLocked(dims map[string]string) error {
	// Sorted so the reported dimension is deterministic.
	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, ok := r.dimensions[k]; !ok {
			return errors.NewValidation(errors.ErrDimensionNotDefined, "%q", k)
		}
	}

	for _, k := range keys {
		def := r.dimensions[k]
		if !def.Allows(dims[k]) {
			return errors.NewValidation(errors.ErrInvalidDimensionValue,
				"%q for dimension %q", dims[k], k)
		}
	}

	return nil
}

// Metric returns the definition for name.
func (r *Registry) Metric(name string) (types.MetricDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.metrics[name]
	return def, ok
}

// Dimension returns the definition for name.
func (r *Registry) Dimension(name string) (types.DimensionDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.dimensions[name]
	if ok {
		def.AllowedValues = slices.Clone(def.AllowedValues)
	}
	return def, ok
}

// Metrics returns all metric definitions sorted by name.
func (r *Registry) Metrics() []types.MetricDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]types.MetricDefinition, 0, len(r.metrics))
	for _, d := range r.metrics {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Name < defs[j].Name
	})
	return defs
}

// Dimensions returns all dimension definitions sorted by name.
func (r *Registry) Dimensions() []types.DimensionDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]types.DimensionDefinition, 0, len(r.dimensions))
	for _, d := range r.dimensions {
		d.AllowedValues = slices.Clone(d.AllowedValues)
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Name < defs[j].Name
	})
	return defs
}
