package competitors

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed competitors.yaml
var defaultTable []byte

// Rule describes one competitor and the prompt clauses that apply to it.
type Rule struct {
	Name            string   `yaml:"name"`
	Aliases         []string `yaml:"aliases,omitempty"`
	BusinessUnits   []string `yaml:"business_units,omitempty"`
	Notes           []string `yaml:"notes,omitempty"`
	ExcludePartners []string `yaml:"exclude_partners,omitempty"`
	IncludeKeywords []string `yaml:"include_keywords,omitempty"`
	ExcludeKeywords []string `yaml:"exclude_keywords,omitempty"`
}

// BusinessLabel joins the business units with commas, e.g. "대웅헬스케어,코어운동센터".
func (r Rule) BusinessLabel() string {
	return strings.Join(r.BusinessUnits, ",")
}

// Table is an ordered, immutable set of competitor rules.
type Table struct {
	rules []Rule
	index map[string]int
}

type document struct {
	Competitors []Rule `yaml:"competitors"`
}

// Default returns the embedded rule table.
func Default() *Table {
	table, err := Parse(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("competitors: embedded table invalid: %v", err))
	}
	return table
}

// Load reads a rule table from path. An empty path yields the embedded table.
func Load(path string) (*Table, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read competitors file: %w", err)
	}
	table, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("competitors file %s: %w", path, err)
	}
	return table, nil
}

// Parse decodes and validates a YAML rule table.
func Parse(data []byte) (*Table, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(doc.Competitors) == 0 {
		return nil, errors.New("no competitors defined")
	}
	table := &Table{
		rules: make([]Rule, 0, len(doc.Competitors)),
		index: make(map[string]int, len(doc.Competitors)),
	}
	for i, rule := range doc.Competitors {
		rule = cleanRule(rule)
		if rule.Name == "" {
			return nil, fmt.Errorf("competitors[%d]: name is required", i)
		}
		for _, key := range append([]string{rule.Name}, rule.Aliases...) {
			if _, dup := table.index[key]; dup {
				return nil, fmt.Errorf("competitors[%d]: %q is listed twice", i, key)
			}
			table.index[key] = len(table.rules)
		}
		table.rules = append(table.rules, rule)
	}
	return table, nil
}

func cleanRule(rule Rule) Rule {
	rule.Name = strings.TrimSpace(rule.Name)
	rule.Aliases = cleanList(rule.Aliases)
	rule.BusinessUnits = cleanList(rule.BusinessUnits)
	rule.Notes = cleanList(rule.Notes)
	rule.ExcludePartners = cleanList(rule.ExcludePartners)
	rule.IncludeKeywords = cleanList(rule.IncludeKeywords)
	rule.ExcludeKeywords = cleanList(rule.ExcludeKeywords)
	return rule
}

func cleanList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Lookup returns the rule for a competitor name or alias.
func (t *Table) Lookup(name string) (Rule, bool) {
	if t == nil {
		return Rule{}, false
	}
	idx, ok := t.index[strings.TrimSpace(name)]
	if !ok {
		return Rule{}, false
	}
	return t.rules[idx], true
}

// RuleFor returns the rule for name, or a bare rule carrying only the name
// when the competitor is not in the table.
func (t *Table) RuleFor(name string) Rule {
	if rule, ok := t.Lookup(name); ok {
		return rule
	}
	return Rule{Name: strings.TrimSpace(name)}
}

// BusinessLabel returns the comma-joined business units for name, or "".
func (t *Table) BusinessLabel(name string) string {
	rule, ok := t.Lookup(name)
	if !ok {
		return ""
	}
	return rule.BusinessLabel()
}

// Names returns competitor names in table order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.rules))
	for _, rule := range t.rules {
		names = append(names, rule.Name)
	}
	return names
}

// Rules returns a copy of the rules in table order.
func (t *Table) Rules() []Rule {
	if t == nil {
		return nil
	}
	return append([]Rule(nil), t.rules...)
}

// Len returns the number of competitors.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rules)
}
