package schema

import (
	"fmt"
	"reflect"

	"github.com/cswinter/hyperstate/internal/valuetree"
)

// Versioned marks a type whose serialized form carries a schema version.
// Version reports the version the current code writes and expects.
type Versioned interface {
	Version() int
}

// MinimumVersioned lets a Versioned type refuse serialized data older than a
// floor version. Types without it accept everything from version 0 up.
type MinimumVersioned interface {
	MinimumVersion() int
}

// Upgrader supplies the rewrite rules that bring older serialized trees up to
// the current version. The map key is the version a rule set upgrades from;
// the rules for version n produce data at version n+1.
type Upgrader interface {
	UpgradeRules() map[int][]Rule
}

// MinimumVersionOf returns the oldest version v still accepts.
func MinimumVersionOf(v Versioned) int {
	if mv, ok := v.(MinimumVersioned); ok {
		return mv.MinimumVersion()
	}
	return 0
}

// UpgradeRulesOf returns the upgrade rules of v, or nil when v declares none.
func UpgradeRulesOf(v Versioned) map[int][]Rule {
	if u, ok := v.(Upgrader); ok {
		return u.UpgradeRules()
	}
	return nil
}

// ValidateUpgradeRules checks that every registered rule set targets a
// version below the current one.
func ValidateUpgradeRules(v Versioned) error {
	version := v.Version()
	for ruleVersion := range UpgradeRulesOf(v) {
		if ruleVersion >= version {
			return &InvalidUpgradeRuleError{
				TypeName:    versionedName(v),
				RuleVersion: ruleVersion,
				Version:     version,
			}
		}
	}
	return nil
}

// UpgradeStep records one rule application during an upgrade run.
type UpgradeStep struct {
	FromVersion int    `json:"from_version"`
	Rule        string `json:"rule"`
}

// UpgradeReport summarizes the rules applied while bringing a serialized
// tree up to the current version.
type UpgradeReport struct {
	TypeName    string        `json:"type_name"`
	FromVersion int           `json:"from_version"`
	ToVersion   int           `json:"to_version"`
	Steps       []UpgradeStep `json:"steps,omitempty"`
}

// ApplyUpgrades runs the upgrade rules of target against a serialized value
// tree written at version from, returning the upgraded copy and a report of
// the rules applied. Trees at or above the current version are returned
// unchanged.
func ApplyUpgrades(tree any, from int, target Versioned) (map[string]any, *UpgradeReport, error) {
	version := target.Version()
	name := versionedName(target)
	if minimum := MinimumVersionOf(target); from < minimum {
		return nil, nil, &VersionTooOldError{TypeName: name, Version: from, MinimumVersion: minimum}
	}
	if err := ValidateUpgradeRules(target); err != nil {
		return nil, nil, err
	}
	m, ok := valuetree.Clone(tree).(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("schema: cannot upgrade %T, expected a mapping", tree)
	}

	report := &UpgradeReport{TypeName: name, FromVersion: from, ToVersion: version}
	rules := UpgradeRulesOf(target)
	for v := from; v < version; v++ {
		for _, rule := range rules[v] {
			if err := rule.Apply(m); err != nil {
				return nil, nil, fmt.Errorf("schema: upgrading %s from version %d: %w", name, v, err)
			}
			report.Steps = append(report.Steps, UpgradeStep{FromVersion: v, Rule: rule.String()})
		}
	}
	return m, report, nil
}

// ApplySchemaUpgrades replays the upgrade rules of target against an old
// schema snapshot, returning the upgraded copy. The snapshot's recorded
// version is left untouched so that stale version declarations remain
// visible to the checker.
func ApplySchemaUpgrades(old *Struct, target Versioned) (*Struct, error) {
	if err := ValidateUpgradeRules(target); err != nil {
		return nil, err
	}
	start := 0
	if old.Version != nil {
		start = *old.Version
	}
	upgraded := old.Clone()
	rules := UpgradeRulesOf(target)
	for v := start; v < target.Version(); v++ {
		for _, rule := range rules[v] {
			if err := rule.ApplyToSchema(upgraded); err != nil {
				return nil, fmt.Errorf("schema: upgrading schema of %s from version %d: %w", versionedName(target), v, err)
			}
		}
	}
	return upgraded, nil
}

func versionedName(v Versioned) string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "<nil>"
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}
