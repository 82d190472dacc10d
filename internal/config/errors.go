package config

import "fmt"

// ConfigReferenceError reports a configuration reference that cannot be
// resolved: an unknown subject or geolevel, a missing field, or a malformed
// field map. It is never recoverable locally.
type ConfigReferenceError struct {
	Ref     string
	Name    string
	Context string
}

func (e *ConfigReferenceError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("config: unresolved %s %q (%s)", e.Ref, e.Name, e.Context)
	}
	return fmt.Sprintf("config: unresolved %s %q", e.Ref, e.Name)
}
