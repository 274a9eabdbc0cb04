package cost

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRate is the USD-per-token price applied to models missing from the
// pricing table.
const DefaultRate = 0.001

// builtinPrices are USD per token.
var builtinPrices = map[string]float64{
	"gpt-4o-mini":       0.000150,
	"gpt-4o":            0.005,
	"gpt-3.5-turbo":     0.001,
	"claude-haiku-4-5":  0.000004,
	"claude-sonnet-4-5": 0.000015,
}

// Pricing maps model identifiers to a per-token price. It is loaded once at
// startup and must not be modified afterwards.
type Pricing struct {
	Models  map[string]float64
	Default float64
}

// DefaultPricing returns the built-in pricing table.
func DefaultPricing() Pricing {
	m := make(map[string]float64, len(builtinPrices))
	for k, v := range builtinPrices {
		m[k] = v
	}
	return Pricing{Models: m, Default: DefaultRate}
}

// Price returns the per-token price for model, or the default rate. A dated
// snapshot such as "claude-haiku-4-5-20251001" is priced as its base model
// when it has no entry of its own.
func (p Pricing) Price(model string) float64 {
	model = strings.TrimSpace(model)
	if price, ok := p.Models[model]; ok {
		return price
	}
	if m := datedSuffix.FindStringIndex(model); m != nil {
		if price, ok := p.Models[model[:m[0]]]; ok {
			return price
		}
	}
	return p.Default
}

var datedSuffix = regexp.MustCompile(`-\d{8}$`)

// Compute returns the cost of totalTokens for model.
func (p Pricing) Compute(model string, totalTokens int) float64 {
	return float64(totalTokens) * p.Price(model)
}

type pricingFile struct {
	Default *float64           `yaml:"default"`
	Models  map[string]float64 `yaml:"models"`
}

// LoadPricing reads a YAML pricing file and layers it over the built-in
// table. An empty path or a missing file yields the built-in table. On error
// the built-in table is returned untouched, never a partial override.
//
//	default: 0.001
//	models:
//	  gpt-4o: 0.005
func LoadPricing(path string) (Pricing, error) {
	builtin := DefaultPricing()
	if path == "" {
		return builtin, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return builtin, nil
	}
	if err != nil {
		return builtin, fmt.Errorf("read pricing file: %w", err)
	}

	var f pricingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return builtin, fmt.Errorf("parse pricing file %s: %w", path, err)
	}

	p := DefaultPricing()
	if f.Default != nil {
		if *f.Default < 0 {
			return builtin, fmt.Errorf("pricing file %s: negative default rate", path)
		}
		p.Default = *f.Default
	}
	for model, price := range f.Models {
		if price < 0 {
			return builtin, fmt.Errorf("pricing file %s: negative price for %q", path, model)
		}
		p.Models[model] = price
	}
	return p, nil
}
