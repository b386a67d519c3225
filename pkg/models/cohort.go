package models

// Cohort is a role-based set of people mapped to one Slack usergroup. It is
// computed on every run and never persisted.
type Cohort struct {
	Name        string
	Roles       []string
	UsergroupID string
}

// Includes reports whether a person with the given role belongs to the cohort.
func (c Cohort) Includes(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
