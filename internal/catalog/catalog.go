// Package catalog defines the parameter catalog: the static registry of every
// named model parameter, its grouping, bounds and dependency metadata.
//
// The catalog is data driven. The table lives in catalog.yaml, is embedded at
// build time and parsed once; additional tables can be loaded with Parse.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultTable []byte

// Category identifies one of the parameter groups.
type Category string

const (
	CategoryEconomicEnvironment Category = "economic_environment"
	CategoryTax                 Category = "tax"
	CategoryRevenue             Category = "revenue"
	CategoryCOGS                Category = "cogs"
	CategoryOpex                Category = "opex"
	CategoryFinancial           Category = "financial"
	CategoryOperational         Category = "operational"
	CategoryCashFlowLifecycle   Category = "cash_flow_lifecycle"
	CategoryCashFlowStatement   Category = "cash_flow_statement"
	CategoryBalanceSheet        Category = "balance_sheet"
	CategoryAssetLifecycle      Category = "asset_lifecycle"
	CategoryValuation           Category = "valuation"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryEconomicEnvironment,
	CategoryTax,
	CategoryRevenue,
	CategoryCOGS,
	CategoryOpex,
	CategoryFinancial,
	CategoryOperational,
	CategoryCashFlowLifecycle,
	CategoryCashFlowStatement,
	CategoryBalanceSheet,
	CategoryAssetLifecycle,
	CategoryValuation,
}

// Type is the value type of a parameter.
type Type string

const (
	TypePercentage Type = "percentage"
	TypeCurrency   Type = "currency"
	TypeDays       Type = "days"
	TypeRatio      Type = "ratio"
	TypeYears      Type = "years"
	TypeNumber     Type = "number"
)

// SensitivityLevel rates how strongly a parameter moves model outputs.
type SensitivityLevel string

const (
	SensitivityLow    SensitivityLevel = "low"
	SensitivityMedium SensitivityLevel = "medium"
	SensitivityHigh   SensitivityLevel = "high"
)

// Weight maps a sensitivity level to the weight used by simplified outcome
// metrics.
func (s SensitivityLevel) Weight() float64 {
	switch s {
	case SensitivityHigh:
		return 1.0
	case SensitivityMedium:
		return 0.5
	default:
		return 0.25
	}
}

// Definition is the immutable catalog entry for a parameter.
type Definition struct {
	Key              string           `yaml:"key" json:"key"`
	Name             string           `yaml:"name" json:"name"`
	Category         Category         `yaml:"-" json:"category"`
	Type             Type             `yaml:"type" json:"type"`
	DefaultValue     float64          `yaml:"default" json:"defaultValue"`
	MinValue         *float64         `yaml:"min,omitempty" json:"minValue,omitempty"`
	MaxValue         *float64         `yaml:"max,omitempty" json:"maxValue,omitempty"`
	Integer          bool             `yaml:"integer,omitempty" json:"integer,omitempty"`
	SensitivityLevel SensitivityLevel `yaml:"sensitivity" json:"sensitivityLevel"`
	Unit             string           `yaml:"unit" json:"unit"`
	Description      string           `yaml:"description,omitempty" json:"description,omitempty"`
	Dependencies     []string         `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
}

// Bounds returns the effective lower and upper bounds applied by Validate.
// Percentages without an explicit max are bounded to [0, 1]; a percentage
// with an explicit max but no min is floored at 0.
func (d Definition) Bounds() (min, max *float64) {
	min, max = d.MinValue, d.MaxValue
	if d.Type == TypePercentage {
		if min == nil {
			zero := 0.0
			min = &zero
		}
		if max == nil {
			one := 1.0
			max = &one
		}
	}
	return min, max
}

// Group is one category of definitions.
type Group struct {
	Category    Category     `yaml:"category" json:"category"`
	Name        string       `yaml:"name" json:"name"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Parameters  []Definition `yaml:"parameters" json:"parameters"`
}

type table struct {
	Groups []Group `yaml:"groups"`
}

// Catalog is a loaded, validated parameter table. It is safe for concurrent
// use; nothing mutates it after Parse returns.
type Catalog struct {
	groups     []Group
	byKey      map[string]Definition
	order      []string
	dependents map[string][]string
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the catalog built from the embedded table.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Parse(defaultTable)
	})
	return defaultCatalog, defaultErr
}

// MustDefault is like Default but panics if the embedded table is invalid.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded table is invalid: %v", err))
	}
	return c
}

// Parse builds a catalog from a YAML table.
func Parse(data []byte) (*Catalog, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse catalog table: %w", err)
	}

	c := &Catalog{
		byKey:      make(map[string]Definition),
		dependents: make(map[string][]string),
	}

	seenCategories := make(map[Category]bool)
	for _, g := range t.Groups {
		if !knownCategory(g.Category) {
			return nil, fmt.Errorf("unknown category %q", g.Category)
		}
		if seenCategories[g.Category] {
			return nil, fmt.Errorf("category %q declared twice", g.Category)
		}
		seenCategories[g.Category] = true

		group := Group{Category: g.Category, Name: g.Name, Description: g.Description}
		for _, def := range g.Parameters {
			def.Key = strings.TrimSpace(def.Key)
			def.Category = g.Category
			if def.Key == "" {
				return nil, fmt.Errorf("category %q has a parameter without a key", g.Category)
			}
			if _, exists := c.byKey[def.Key]; exists {
				return nil, fmt.Errorf("duplicate parameter key %q", def.Key)
			}
			if !knownType(def.Type) {
				return nil, fmt.Errorf("parameter %q has unknown type %q", def.Key, def.Type)
			}
			if def.SensitivityLevel == "" {
				def.SensitivityLevel = SensitivityMedium
			}
			c.byKey[def.Key] = def
			c.order = append(c.order, def.Key)
			group.Parameters = append(group.Parameters, def)
		}
		c.groups = append(c.groups, group)
	}

	for _, key := range c.order {
		def := c.byKey[key]
		for _, dep := range def.Dependencies {
			if _, ok := c.byKey[dep]; !ok {
				return nil, fmt.Errorf("parameter %q depends on unknown parameter %q", key, dep)
			}
			if dep == key {
				return nil, fmt.Errorf("parameter %q depends on itself", key)
			}
			c.dependents[dep] = append(c.dependents[dep], key)
		}
		if v := c.Validate(key, def.DefaultValue); !v.Valid {
			return nil, fmt.Errorf("parameter %q has an invalid default: %s", key, strings.Join(v.Errors, "; "))
		}
	}

	if _, err := c.topologicalOrder(); err != nil {
		return nil, err
	}

	return c, nil
}

// Groups returns every group keyed by category.
func (c *Catalog) Groups() map[Category]Group {
	out := make(map[Category]Group, len(c.groups))
	for _, g := range c.groups {
		out[g.Category] = copyGroup(g)
	}
	return out
}

// OrderedGroups returns the groups in table order.
func (c *Catalog) OrderedGroups() []Group {
	out := make([]Group, 0, len(c.groups))
	for _, g := range c.groups {
		out = append(out, copyGroup(g))
	}
	return out
}

// Definition looks up a parameter by key.
func (c *Catalog) Definition(key string) (Definition, bool) {
	def, ok := c.byKey[key]
	if !ok {
		return Definition{}, false
	}
	return copyDefinition(def), true
}

// Definitions returns every definition in table order.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, copyDefinition(c.byKey[key]))
	}
	return out
}

// Defaults returns the default value of every parameter keyed by parameter key.
func (c *Catalog) Defaults() map[string]float64 {
	out := make(map[string]float64, len(c.order))
	for _, key := range c.order {
		out[key] = c.byKey[key].DefaultValue
	}
	return out
}

// Dependents returns the keys of parameters that declare key as a
// dependency, i.e. the parameters key affects.
func (c *Catalog) Dependents(key string) []string {
	return append([]string(nil), c.dependents[key]...)
}

// Affected returns every parameter reachable from key through the
// dependents graph, in dependency order. key itself is not included.
func (c *Catalog) Affected(key string) []string {
	reached := make(map[string]bool)
	queue := append([]string(nil), c.dependents[key]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if reached[next] {
			continue
		}
		reached[next] = true
		queue = append(queue, c.dependents[next]...)
	}

	var out []string
	for _, k := range c.DependencyOrder() {
		if reached[k] {
			out = append(out, k)
		}
	}
	return out
}

// DependencyOrder returns every key ordered so that a parameter always
// follows its dependencies. Ties keep table order.
func (c *Catalog) DependencyOrder() []string {
	order, _ := c.topologicalOrder()
	return order
}

func (c *Catalog) topologicalOrder() ([]string, error) {
	position := make(map[string]int, len(c.order))
	for i, key := range c.order {
		position[key] = i
	}

	indegree := make(map[string]int, len(c.order))
	for _, key := range c.order {
		indegree[key] = len(c.byKey[key].Dependencies)
	}

	var ready []string
	for _, key := range c.order {
		if indegree[key] == 0 {
			ready = append(ready, key)
		}
	}

	order := make([]string, 0, len(c.order))
	for len(ready) > 0 {
		sort.SliceStable(ready, func(i, j int) bool { return position[ready[i]] < position[ready[j]] })
		key := ready[0]
		ready = ready[1:]
		order = append(order, key)
		for _, dependent := range c.dependents[key] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(c.order) {
		return nil, fmt.Errorf("parameter dependencies contain a cycle")
	}
	return order, nil
}

func knownCategory(cat Category) bool {
	for _, c := range Categories {
		if c == cat {
			return true
		}
	}
	return false
}

func knownType(t Type) bool {
	switch t {
	case TypePercentage, TypeCurrency, TypeDays, TypeRatio, TypeYears, TypeNumber:
		return true
	}
	return false
}

func copyDefinition(d Definition) Definition {
	d.Dependencies = append([]string(nil), d.Dependencies...)
	return d
}

func copyGroup(g Group) Group {
	params := make([]Definition, len(g.Parameters))
	for i, d := range g.Parameters {
		params[i] = copyDefinition(d)
	}
	g.Parameters = params
	return g
}
