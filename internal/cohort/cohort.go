// Package cohort loads the role-based cohort definitions that map people onto
// Slack usergroups.
package cohort

import (
	"errors"
	"fmt"
	"os"

	"github.com/kiranshivaraju/eventsync/pkg/models"
	"gopkg.in/yaml.v3"
)

// Definition is one cohort as written in the cohorts file. The usergroup id is
// not part of it: every tenant configures its own.
type Definition struct {
	Name  string   `yaml:"name"`
	Roles []string `yaml:"roles"`
}

type file struct {
	Cohorts []Definition `yaml:"cohorts"`
}

// Load reads and validates cohort definitions from a YAML file.
func Load(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cohorts file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates cohort definitions.
func Parse(data []byte) ([]Definition, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse cohorts file: %w", err)
	}
	if err := validate(f.Cohorts); err != nil {
		return nil, err
	}
	return f.Cohorts, nil
}

func validate(defs []Definition) error {
	var errs []error
	seen := make(map[string]bool, len(defs))
	for i, d := range defs {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("cohort %d: name is required", i))
			continue
		}
		if seen[d.Name] {
			errs = append(errs, fmt.Errorf("cohort %q: defined twice", d.Name))
		}
		seen[d.Name] = true
		if len(d.Roles) == 0 {
			errs = append(errs, fmt.Errorf("cohort %q: at least one role is required", d.Name))
		}
		for _, r := range d.Roles {
			if !models.ValidRole(r) {
				errs = append(errs, fmt.Errorf("cohort %q: unknown role %q", d.Name, r))
			}
		}
	}
	return errors.Join(errs...)
}

// Resolve pairs each definition with the tenant's usergroup id. Cohorts the
// tenant has not configured are left out.
func Resolve(defs []Definition, tenant *models.Tenant) []models.Cohort {
	var out []models.Cohort
	for _, d := range defs {
		id := tenant.Usergroups[d.Name]
		if id == "" {
			continue
		}
		out = append(out, models.Cohort{Name: d.Name, Roles: d.Roles, UsergroupID: id})
	}
	return out
}
