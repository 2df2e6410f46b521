// Package catalog holds the static conversion reference data: banks with
// per-card-type point rates and the list of redemption options. The data is
// embedded at build time and never mutated, so a Catalog is safe for
// concurrent readers.
package catalog

import (
	"fmt"
	"sort"

	_ "embed"

	"gopkg.in/yaml.v3"
)

// DefaultRate is the currency-per-point rate used when a (bank, card type)
// pair is unknown. Valuation never fails: an unregistered card still gets a
// usable estimate.
const DefaultRate = 0.25

//go:embed data.yaml
var rawData []byte

// Bank describes an issuing bank and its per-card-type conversion rates.
type Bank struct {
	ID              string             `yaml:"id" json:"id"`
	Name            string             `yaml:"name" json:"name"`
	ConversionRates map[string]float64 `yaml:"conversion_rates" json:"conversionRates"`
}

// CardTypes lists the bank's card types in sorted order.
func (b Bank) CardTypes() []string {
	types := make([]string, 0, len(b.ConversionRates))
	for t := range b.ConversionRates {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Option is a redemption option: a way to exchange points for value.
type Option struct {
	ID             string  `yaml:"id" json:"id"`
	Name           string  `yaml:"name" json:"name"`
	Description    string  `yaml:"description" json:"description"`
	ConversionRate float64 `yaml:"conversion_rate" json:"conversionRate"`
	MinPoints      int     `yaml:"min_points" json:"minPoints"`
	Category       string  `yaml:"category" json:"category"`
	Tag            string  `yaml:"tag,omitempty" json:"tag,omitempty"`
}

type Catalog struct {
	banks     []Bank
	options   []Option
	bankIdx   map[string]int
	optionIdx map[string]int
}

// Load parses the embedded reference data.
func Load() (*Catalog, error) {
	var data struct {
		Banks   []Bank   `yaml:"banks"`
		Options []Option `yaml:"options"`
	}
	if err := yaml.Unmarshal(rawData, &data); err != nil {
		return nil, fmt.Errorf("parsing catalog data: %w", err)
	}

	c := &Catalog{
		banks:     data.Banks,
		options:   data.Options,
		bankIdx:   make(map[string]int, len(data.Banks)),
		optionIdx: make(map[string]int, len(data.Options)),
	}
	for i, b := range c.banks {
		if _, ok := c.bankIdx[b.ID]; ok {
			return nil, fmt.Errorf("duplicate bank id %q", b.ID)
		}
		c.bankIdx[b.ID] = i
	}
	for i, o := range c.options {
		if _, ok := c.optionIdx[o.ID]; ok {
			return nil, fmt.Errorf("duplicate option id %q", o.ID)
		}
		c.optionIdx[o.ID] = i
	}
	return c, nil
}

// RateFor returns the currency-per-point rate for a bank's card type, falling
// back to DefaultRate when the pair is unknown.
func (c *Catalog) RateFor(bankID, cardType string) float64 {
	i, ok := c.bankIdx[bankID]
	if !ok {
		return DefaultRate
	}
	rate, ok := c.banks[i].ConversionRates[cardType]
	if !ok {
		return DefaultRate
	}
	return rate
}

// Banks returns all banks in catalog order.
func (c *Catalog) Banks() []Bank {
	return c.banks
}

// BankByID looks up a bank.
func (c *Catalog) BankByID(id string) (Bank, bool) {
	i, ok := c.bankIdx[id]
	if !ok {
		return Bank{}, false
	}
	return c.banks[i], true
}

// Options returns all redemption options in catalog order.
func (c *Catalog) Options() []Option {
	return c.options
}

// OptionByID looks up a redemption option.
func (c *Catalog) OptionByID(id string) (Option, bool) {
	i, ok := c.optionIdx[id]
	if !ok {
		return Option{}, false
	}
	return c.options[i], true
}

// OptionsByCategory filters options by category; the empty category returns
// all options.
func (c *Catalog) OptionsByCategory(category string) []Option {
	if category == "" {
		return c.options
	}
	var out []Option
	for _, o := range c.options {
		if o.Category == category {
			out = append(out, o)
		}
	}
	return out
}

// Categories returns the distinct option categories in first-seen order.
func (c *Catalog) Categories() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, o := range c.options {
		if _, ok := seen[o.Category]; ok {
			continue
		}
		seen[o.Category] = struct{}{}
		out = append(out, o.Category)
	}
	return out
}
