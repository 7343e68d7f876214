// Package config provides layered YAML settings for strand.
// Settings are loaded from two sources, project overriding user:
//  1. ~/.strand/settings.yaml (user level)
//  2. .strand/settings.yaml (project level)
package config

// Settings represents the strand configuration. A snapshot of this struct is
// passed into the engine; the engine never reads ambient global state.
type Settings struct {
	// Provider is the default provider name (e.g. "anthropic").
	Provider string `yaml:"provider,omitempty"`

	// Model is the default model identifier.
	Model string `yaml:"model,omitempty"`

	// AlwaysAllowToolActions skips the confirmation step for every tool,
	// including tools that normally require it.
	AlwaysAllowToolActions bool `yaml:"alwaysAllowToolActions,omitempty"`

	// DisabledTools maps tool names to true when administratively disabled.
	// Project-level settings can re-enable a tool by setting false.
	DisabledTools map[string]bool `yaml:"disabledTools,omitempty"`
}

// NewSettings returns settings with defaults applied.
func NewSettings() *Settings {
	return &Settings{
		Provider:      "anthropic",
		DisabledTools: map[string]bool{},
	}
}

// ToolDisabled reports whether the named tool is administratively disabled.
func (s *Settings) ToolDisabled(name string) bool {
	return s.DisabledTools[name]
}

// Merge overlays other onto s and returns the result. Scalar fields from
// other win when set; DisabledTools merges key-wise so projects can override
// individual tools.
func Merge(s, other *Settings) *Settings {
	out := *s
	if other.Provider != "" {
		out.Provider = other.Provider
	}
	if other.Model != "" {
		out.Model = other.Model
	}
	if other.AlwaysAllowToolActions {
		out.AlwaysAllowToolActions = true
	}
	if len(other.DisabledTools) > 0 {
		merged := make(map[string]bool, len(s.DisabledTools)+len(other.DisabledTools))
		for k, v := range s.DisabledTools {
			merged[k] = v
		}
		for k, v := range other.DisabledTools {
			merged[k] = v
		}
		out.DisabledTools = merged
	}
	return &out
}
