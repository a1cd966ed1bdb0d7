package schema

import (
	"fmt"
	"io"
	"reflect"

	"github.com/fatih/color"

	"github.com/cswinter/hyperstate/internal/valuetree"
)

// CheckerOption configures schema checking.
type CheckerOption func(*checkerConfig)

type checkerConfig struct {
	skipUpgrade bool
}

// WithoutUpgrade diffs the old snapshot as-is instead of replaying the
// target's upgrade rules against it first.
func WithoutUpgrade() CheckerOption {
	return func(cfg *checkerConfig) {
		cfg.skipUpgrade = true
	}
}

// Checker compares an old schema snapshot against the current schema of a
// Versioned type and accumulates the differences.
type Checker struct {
	old     *Struct
	new     *Struct
	changes []Change
	fixes   []Rule
}

// NewChecker diffs old against the schema materialized from target. Unless
// disabled, target's upgrade rules are replayed against a copy of old
// before diffing so that already-mitigated changes are not reported again.
func NewChecker(old *Struct, target Versioned, opts ...CheckerOption) (*Checker, error) {
	var cfg checkerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	t := reflect.TypeOf(target)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	current, err := MaterializeStruct(t)
	if err != nil {
		return nil, err
	}
	if !cfg.skipUpgrade {
		old, err = ApplySchemaUpgrades(old, target)
		if err != nil {
			return nil, err
		}
	}

	c := &Checker{old: old, new: current}
	if err := c.findChanges(old, current, nil); err != nil {
		return nil, err
	}
	c.findFieldRenames()
	c.findEnumVariantRenames()
	for _, change := range c.changes {
		if fix := change.ProposedFix(); fix != nil {
			c.fixes = append(c.fixes, fix)
		}
	}
	return c, nil
}

// Changes returns the detected schema changes.
func (c *Checker) Changes() []Change {
	return c.changes
}

// ProposedFixes returns the rewrite rules mitigating the detected changes,
// in change order.
func (c *Checker) ProposedFixes() []Rule {
	return c.fixes
}

// Severity returns the highest severity among the detected changes, or
// SeverityInfo when the schemas are compatible.
func (c *Checker) Severity() Severity {
	severity := SeverityInfo
	for _, change := range c.changes {
		if s := change.Severity(); s > severity {
			severity = s
		}
	}
	return severity
}

// WriteReport writes a human-readable diff report with proposed
// mitigations to w.
func (c *Checker) WriteReport(w io.Writer) {
	for _, change := range c.changes {
		writeDiagnostic(w, change)
	}
	versionIdentical := versionsEqual(c.old.Version, c.new.Version)
	if c.Severity() > SeverityInfo && versionIdentical {
		fmt.Fprintln(w, color.New(color.FgYellow).Sprint("WARN")+"  schema changed but version identical")
	}

	if c.Severity() == SeverityInfo {
		fmt.Fprintln(w, color.New(color.FgGreen).Sprint("Schema compatible"))
		return
	}
	fmt.Fprintln(w, color.New(color.FgRed).Sprint("Schema incompatible"))
	fmt.Fprintln(w)
	bold := color.New(color.FgWhite, color.Bold)
	fmt.Fprintln(w, bold.Sprint("Proposed mitigations"))
	if len(c.fixes) > 0 {
		fmt.Fprintln(w, bold.Sprint("- add upgrade rules:"))
		fmt.Fprintf(w, "    %d: {\n", versionOrZero(c.old.Version))
		for _, fix := range c.fixes {
			fmt.Fprintf(w, "        %s,\n", fix)
		}
		fmt.Fprintln(w, "    },")
	}
	if versionIdentical {
		next := 0
		if c.old.Version != nil {
			next = *c.old.Version + 1
		}
		fmt.Fprintln(w, bold.Sprintf("- bump version to %d", next))
	}
}

func writeDiagnostic(w io.Writer, change Change) {
	var label string
	switch change.Severity() {
	case SeverityInfo:
		label = color.New(color.FgWhite).Sprint("INFO ")
	case SeverityWarn:
		label = color.New(color.FgYellow).Sprint("WARN ")
	default:
		label = color.New(color.FgRed).Sprint("ERROR")
	}
	fmt.Fprintf(w, "%s %s: %s\n", label, change.Diagnostic(), color.New(color.FgCyan).Sprint(pathString(change.Path())))
}

func (c *Checker) append(change Change) {
	c.changes = append(c.changes, change)
}

func (c *Checker) remove(change Change) {
	for i, existing := range c.changes {
		if existing == change {
			c.changes = append(c.changes[:i], c.changes[i+1:]...)
			return
		}
	}
}

func (c *Checker) findChanges(old, new Type, path []string) error {
	if reflect.TypeOf(old) != reflect.TypeOf(new) {
		c.append(&TypeChanged{FieldPath: clonePath(path), Old: old, New: new})
		return nil
	}
	switch o := old.(type) {
	case *Primitive, *Literal, *Dict, *Union, *Nothing:
		if !o.Equal(new) {
			c.append(&TypeChanged{FieldPath: clonePath(path), Old: old, New: new})
		}
	case *List:
		return c.findChanges(o.Inner, new.(*List).Inner, childPath(path, "[]"))
	case *Option:
		return c.findChanges(o.Inner, new.(*Option).Inner, childPath(path, "?"))
	case *Struct:
		return c.findStructChanges(o, new.(*Struct), path)
	case *Enum:
		c.findEnumChanges(o, new.(*Enum), path)
	default:
		return &UnsupportedDiffError{Path: pathString(path), Old: old, New: new}
	}
	return nil
}

func (c *Checker) findStructChanges(old, new *Struct, path []string) error {
	for _, nf := range new.Fields {
		p := childPath(path, nf.Name)
		of := old.Field(nf.Name)
		if of == nil {
			if st, ok := nf.Type.(*Struct); ok {
				c.allNew(st, p)
			} else {
				c.append(&FieldAdded{FieldPath: p, Type: nf.Type, Default: nf.Default, HasDefault: nf.HasDefault})
			}
			continue
		}

		_, newIsStruct := nf.Type.(*Struct)
		_, oldIsStruct := of.Type.(*Struct)
		switch {
		case newIsStruct && !oldIsStruct:
			c.append(&FieldRemoved{FieldPath: p, Type: of.Type, Default: of.Default, HasDefault: of.HasDefault})
			c.allNew(nf.Type.(*Struct), p)
		case oldIsStruct && !newIsStruct:
			c.append(&FieldAdded{FieldPath: p, Type: nf.Type, Default: nf.Default, HasDefault: nf.HasDefault})
			c.allGone(of.Type.(*Struct), p)
		default:
			if err := c.findChanges(of.Type, nf.Type, p); err != nil {
				return err
			}
			if of.HasDefault != nf.HasDefault {
				if !nf.HasDefault {
					c.append(&DefaultValueRemoved{FieldPath: p, Old: of.Default})
				}
			} else if of.HasDefault && !valuetree.Equal(of.Default, nf.Default) {
				// Struct-valued defaults produce per-field changes already.
				if _, isStructValue := valuetree.Normalize(nf.Default).(map[string]any); !isStructValue {
					c.append(&DefaultValueChanged{FieldPath: p, Old: of.Default, New: nf.Default})
				}
			}
		}
	}

	for _, of := range old.Fields {
		if new.Field(of.Name) != nil {
			continue
		}
		p := childPath(path, of.Name)
		if st, ok := of.Type.(*Struct); ok {
			c.allGone(st, p)
		} else {
			c.append(&FieldRemoved{FieldPath: p, Type: of.Type, Default: of.Default, HasDefault: of.HasDefault})
		}
	}
	return nil
}

func (c *Checker) findEnumChanges(old, new *Enum, path []string) {
	for _, nv := range new.Variants {
		ov, ok := old.Variant(nv.Name)
		if !ok {
			c.append(&EnumVariantAdded{FieldPath: clonePath(path), EnumName: new.Name, Variant: nv.Name, VariantValue: nv.Value})
		} else if !valuetree.Equal(ov.Value, nv.Value) {
			c.append(&EnumVariantValueChanged{
				FieldPath: clonePath(path),
				EnumName:  new.Name,
				Variant:   nv.Name,
				OldValue:  ov.Value,
				NewValue:  nv.Value,
			})
		}
	}
	for _, ov := range old.Variants {
		if _, ok := new.Variant(ov.Name); !ok {
			c.append(&EnumVariantRemoved{FieldPath: clonePath(path), EnumName: new.Name, Variant: ov.Name, VariantValue: ov.Value})
		}
	}
}

// allNew records every leaf field of a struct that has no counterpart in
// the old schema.
func (c *Checker) allNew(st *Struct, path []string) {
	for _, f := range st.Fields {
		p := childPath(path, f.Name)
		if nested, ok := f.Type.(*Struct); ok {
			c.allNew(nested, p)
		} else {
			c.append(&FieldAdded{FieldPath: p, Type: f.Type, Default: f.Default, HasDefault: f.HasDefault})
		}
	}
}

// allGone records every leaf field of a struct that has no counterpart in
// the new schema.
func (c *Checker) allGone(st *Struct, path []string) {
	for _, f := range st.Fields {
		p := childPath(path, f.Name)
		if nested, ok := f.Type.(*Struct); ok {
			c.allGone(nested, p)
		} else {
			c.append(&FieldRemoved{FieldPath: p, Type: f.Type, Default: f.Default, HasDefault: f.HasDefault})
		}
	}
}

const renameThreshold = 0.1

// findFieldRenames greedily pairs up removed and added fields of identical
// type and default whose names score above the rename threshold.
func (c *Checker) findFieldRenames() {
	for {
		best := renameThreshold
		var bestRemoved *FieldRemoved
		var bestAdded *FieldAdded
		for _, ch := range c.changes {
			removed, ok := ch.(*FieldRemoved)
			if !ok {
				continue
			}
			for _, ch2 := range c.changes {
				added, ok := ch2.(*FieldAdded)
				if !ok {
					continue
				}
				sim, matched := fieldSimilarity(added, removed)
				if matched && sim > best {
					best, bestRemoved, bestAdded = sim, removed, added
				}
			}
		}
		if bestRemoved == nil {
			break
		}
		c.remove(bestRemoved)
		c.remove(bestAdded)
		c.append(&FieldRenamed{FieldPath: bestRemoved.FieldPath, NewPath: bestAdded.FieldPath})
	}
}

// findEnumVariantRenames greedily pairs up removed and added enum variants
// with similar names, downgrading the pair to a value change when their
// serialized values differ.
func (c *Checker) findEnumVariantRenames() {
	for {
		best := renameThreshold
		var bestRemoved *EnumVariantRemoved
		var bestAdded *EnumVariantAdded
		for _, ch := range c.changes {
			removed, ok := ch.(*EnumVariantRemoved)
			if !ok {
				continue
			}
			for _, ch2 := range c.changes {
				added, ok := ch2.(*EnumVariantAdded)
				if !ok {
					continue
				}
				if sim := NameSimilarity(removed.Variant, added.Variant); sim > best {
					best, bestRemoved, bestAdded = sim, removed, added
				}
			}
		}
		if bestRemoved == nil {
			break
		}
		c.remove(bestRemoved)
		c.remove(bestAdded)
		if !valuetree.Equal(bestRemoved.VariantValue, bestAdded.VariantValue) {
			c.append(&EnumVariantValueChanged{
				FieldPath: bestRemoved.FieldPath,
				EnumName:  bestAdded.EnumName,
				Variant:   bestRemoved.Variant,
				OldValue:  bestRemoved.VariantValue,
				NewValue:  bestAdded.VariantValue,
			})
		} else {
			c.append(&EnumVariantRenamed{
				FieldPath:  bestAdded.FieldPath,
				EnumName:   bestAdded.EnumName,
				OldVariant: bestRemoved.Variant,
				NewVariant: bestAdded.Variant,
			})
		}
	}
}

func fieldSimilarity(added *FieldAdded, removed *FieldRemoved) (float64, bool) {
	if !removed.Type.Equal(added.Type) || removed.HasDefault != added.HasDefault || !valuetree.Equal(removed.Default, added.Default) {
		return 0, false
	}
	oldName := removed.FieldPath[len(removed.FieldPath)-1]
	newName := added.FieldPath[len(added.FieldPath)-1]
	return NameSimilarity(oldName, newName), true
}

func childPath(path []string, segment string) []string {
	child := make([]string, len(path), len(path)+1)
	copy(child, path)
	return append(child, segment)
}

func clonePath(path []string) []string {
	if len(path) == 0 {
		return nil
	}
	return append([]string(nil), path...)
}

func versionsEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func versionOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
