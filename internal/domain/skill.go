package domain

// SkillDefinition is a user-authored skill loaded from a YAML file in the
// workspace skills directory. Skills contribute prompt fragments that shape
// how the agent approaches matching tasks.
type SkillDefinition struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Prompt      string   `yaml:"prompt" json:"prompt"`
	Keywords    []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Enabled     *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled treats a missing enabled field as true.
func (s SkillDefinition) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}
