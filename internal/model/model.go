// Package model describes a hosted generative model and the generation
// parameters a call should use.
package model

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	ParamMaxOutputTokens = "max_output_tokens"
	ParamTemperature     = "temperature"
	ParamTopK            = "top_k"
	ParamTopP            = "top_p"
)

// Descriptor is immutable once built with New.
type Descriptor struct {
	family     string
	version    string
	service    string
	parameters map[string]any
}

func New(family, version, service string, parameters map[string]any) Descriptor {
	copied := make(map[string]any, len(parameters))
	for key, value := range parameters {
		copied[key] = value
	}
	return Descriptor{
		family:     strings.TrimSpace(family),
		version:    strings.TrimSpace(version),
		service:    strings.TrimSpace(service),
		parameters: copied,
	}
}

// Default is the Gemini configuration answers are generated with unless
// overridden.
func Default() Descriptor {
	return New("Gemini", "gemini-1.5-pro-preview-0409", "Google Cloud", map[string]any{
		ParamMaxOutputTokens: 2048,
		ParamTemperature:     0.8,
		ParamTopK:            40,
		ParamTopP:            1.0,
	})
}

func (d Descriptor) Family() string  { return d.family }
func (d Descriptor) Version() string { return d.version }
func (d Descriptor) Service() string { return d.service }

// Parameters returns a copy of the parameter bag.
func (d Descriptor) Parameters() map[string]any {
	copied := make(map[string]any, len(d.parameters))
	for key, value := range d.parameters {
		copied[key] = value
	}
	return copied
}

func (d Descriptor) MaxOutputTokens() (int, bool) { return d.intParam(ParamMaxOutputTokens) }
func (d Descriptor) Temperature() (float64, bool) { return d.floatParam(ParamTemperature) }
func (d Descriptor) TopK() (int, bool)            { return d.intParam(ParamTopK) }
func (d Descriptor) TopP() (float64, bool)        { return d.floatParam(ParamTopP) }

func (d Descriptor) Validate() error {
	if d.version == "" {
		return fmt.Errorf("model version is required")
	}
	if err := d.checkPositiveInt(ParamMaxOutputTokens); err != nil {
		return err
	}
	if err := d.checkPositiveInt(ParamTopK); err != nil {
		return err
	}
	if err := d.checkUnitFloat(ParamTemperature); err != nil {
		return err
	}
	return d.checkUnitFloat(ParamTopP)
}

func (d Descriptor) String() string {
	keys := make([]string, 0, len(d.parameters))
	for key := range d.parameters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "Model(family=%q, version=%q, service=%q", d.family, d.version, d.service)
	for _, key := range keys {
		fmt.Fprintf(&b, ", %s=%v", key, d.parameters[key])
	}
	b.WriteString(")")
	return b.String()
}

func (d Descriptor) intParam(name string) (int, bool) {
	switch typed := d.parameters[name].(type) {
	case int:
		return typed, true
	case int32:
		return int(typed), true
	case int64:
		return int(typed), true
	case float64:
		if typed == float64(int(typed)) {
			return int(typed), true
		}
	}
	return 0, false
}

func (d Descriptor) floatParam(name string) (float64, bool) {
	switch typed := d.parameters[name].(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	}
	return 0, false
}

func (d Descriptor) checkPositiveInt(name string) error {
	if _, present := d.parameters[name]; !present {
		return nil
	}
	value, ok := d.intParam(name)
	if !ok {
		return fmt.Errorf("%s must be an integer, got %T", name, d.parameters[name])
	}
	if value <= 0 {
		return fmt.Errorf("%s must be positive, got %d", name, value)
	}
	return nil
}

func (d Descriptor) checkUnitFloat(name string) error {
	if _, present := d.parameters[name]; !present {
		return nil
	}
	value, ok := d.floatParam(name)
	if !ok {
		return fmt.Errorf("%s must be a number, got %T", name, d.parameters[name])
	}
	if math.IsNaN(value) || value < 0 || value > 1 {
		return fmt.Errorf("%s must be within [0,1], got %v", name, value)
	}
	return nil
}
