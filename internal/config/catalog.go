package config

import (
	"fmt"
	"os"

	"coachbook/internal/models"

	"gopkg.in/yaml.v2"
)

// Catalog is the seed data loaded at startup: providers, their offerings with
// bundle definitions, and client accounts mirrored from the identity system.
type Catalog struct {
	Providers []models.Provider `yaml:"providers"`
	Offerings []models.Offering `yaml:"offerings"`
	Accounts  []models.Account  `yaml:"accounts"`
}

func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &catalog); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("catalog validation failed: %w", err)
	}
	return &catalog, nil
}

func (c *Catalog) Validate() error {
	providers := make(map[int64]bool)
	for _, p := range c.Providers {
		if p.ID == 0 {
			return fmt.Errorf("provider '%s' has invalid ID 0", p.Name)
		}
		if providers[p.ID] {
			return fmt.Errorf("duplicate provider ID found: %d", p.ID)
		}
		if !p.SettlementMode.Valid() {
			return fmt.Errorf("provider %d has unknown settlement mode %q", p.ID, p.SettlementMode)
		}
		providers[p.ID] = true
	}

	offerings := make(map[int64]bool)
	bundles := make(map[int64]bool)
	for _, o := range c.Offerings {
		if o.ID == 0 {
			return fmt.Errorf("offering '%s' has invalid ID 0", o.Title)
		}
		if offerings[o.ID] {
			return fmt.Errorf("duplicate offering ID found: %d", o.ID)
		}
		if !providers[o.ProviderID] {
			return fmt.Errorf("offering %d references unknown provider %d", o.ID, o.ProviderID)
		}
		if o.HourlyPrice < 0 {
			return fmt.Errorf("offering %d has negative hourly price", o.ID)
		}
		offerings[o.ID] = true

		for _, b := range o.Bundles {
			if b.ID == 0 || bundles[b.ID] {
				return fmt.Errorf("offering %d has invalid or duplicate bundle ID %d", o.ID, b.ID)
			}
			if b.Hours <= 0 || b.TotalPrice < 0 {
				return fmt.Errorf("bundle %d must have positive hours and non-negative price", b.ID)
			}
			bundles[b.ID] = true
		}
	}

	accounts := make(map[int64]bool)
	for _, a := range c.Accounts {
		if a.ID == 0 || accounts[a.ID] {
			return fmt.Errorf("invalid or duplicate account ID %d", a.ID)
		}
		accounts[a.ID] = true
	}
	return nil
}
