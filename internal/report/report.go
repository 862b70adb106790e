// Package report holds ordered diagnostic mappings and renders them for
// the console.
package report

import "fmt"

// Ordered is a string-keyed mapping that preserves insertion order.
// Setting an existing key overwrites its value in place.
type Ordered struct {
	keys   []string
	values map[string]any
}

// NewOrdered creates an empty ordered mapping.
func NewOrdered() *Ordered {
	return &Ordered{values: map[string]any{}}
}

// Set inserts or overwrites a key.
func (o *Ordered) Set(key string, value any) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

// Get returns the value for key.
func (o *Ordered) Get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (o *Ordered) Keys() []string {
	return o.keys
}

// Len returns the number of entries.
func (o *Ordered) Len() int {
	return len(o.keys)
}

// Merge copies every entry of other into o, preserving other's order.
// Existing keys are overwritten.
func (o *Ordered) Merge(other *Ordered) {
	for _, k := range other.keys {
		o.Set(k, other.values[k])
	}
}

// Float returns the value for key converted to float64, or false if the key
// is absent or not numeric.
func (o *Ordered) Float(key string) (float64, bool) {
	v, ok := o.values[key]
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	}
	return 0, false
}

func (o *Ordered) String() string {
	s, err := o.ToYAML()
	if err != nil {
		return fmt.Sprintf("report: %v", err)
	}
	return s
}
