package manifest

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/flanksource/commons/logger"
)

func IsSemver(value string) bool {
	if value == "" {
		return false
	}
	_, err := semver.NewVersion(value)
	return err == nil
}

// Supports reports whether version satisfies m.Requires. Development builds
// (any version that is not semver, e.g. "dev") satisfy every constraint.
func (m *Manifest) Supports(version string) (bool, error) {
	if m.Requires == "" {
		return true, nil
	}
	constraint, err := semver.NewConstraint(m.Requires)
	if err != nil {
		return false, fmt.Errorf("invalid requires constraint %q in %s: %w", m.Requires, m.Name, err)
	}
	if !IsSemver(version) {
		logger.V(2).Infof("Ignoring requires %q for development version %q", m.Requires, version)
		return true, nil
	}
	v, _ := semver.NewVersion(version)
	return constraint.Check(v), nil
}
