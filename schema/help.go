package schema

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

var (
	cyanText   = color.New(color.FgCyan)
	greenText  = color.New(color.FgGreen)
	yellowText = color.New(color.FgYellow)
	whiteText  = color.New(color.FgWhite)
)

// FieldMatch pairs a field with the similarity of its name to a query.
// Path locates the struct containing the field.
type FieldMatch struct {
	Path       []string
	Similarity float64
	Field      *Field
}

// FindFields scores every field of st against query, descending into
// struct-typed fields.
func FindFields(st *Struct, query string) []FieldMatch {
	return findFields(st, query, nil)
}

func findFields(st *Struct, query string, path []string) []FieldMatch {
	var matches []FieldMatch
	for _, f := range st.Fields {
		matches = append(matches, FieldMatch{Path: clonePath(path), Similarity: NameSimilarity(f.Name, query), Field: f})
		if nested, ok := f.Type.(*Struct); ok {
			matches = append(matches, findFields(nested, query, childPath(path, f.Name))...)
		}
	}
	return matches
}

// Help writes the fields of st whose names resemble query, best match
// first. Matching struct-typed fields are expanded one level. An empty
// query lists the whole schema.
func Help(w io.Writer, st *Struct, query string) {
	if query == "" {
		PrintSchema(w, st)
		return
	}
	matches := FindFields(st, query)
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	last := -1.0
	best := 0.0
	if len(matches) > 0 {
		best = matches[0].Similarity
	}
	for i, m := range matches {
		if m.Similarity <= last &&
			!strings.Contains(m.Field.Name, query) &&
			m.Similarity < 1.0 &&
			(i > 3 || m.Similarity < 0.4 || best >= 1.0 || best-m.Similarity > 0.2) {
			break
		}
		full := childPath(m.Path, m.Field.Name)
		line := &styledLine{}
		if nested, ok := unwrapContainers(m.Field.Type).(*Struct); ok {
			line.add(pathString(full), cyanText)
			line.add(":", whiteText)
			line.add(" ", nil)
			line.add(m.Field.Type.String(), greenText)
			if m.Similarity >= 1.0 {
				fmt.Fprintln(w, line.String())
				printSchema(w, nested, 1, false)
				last = m.Similarity
				continue
			}
		} else {
			for k, seg := range full {
				if k > 0 {
					line.add(".", whiteText)
				}
				line.add(seg, cyanText)
			}
			line.add(": ", whiteText)
			line.add(m.Field.Type.String(), greenText)
			if m.Field.Default != nil {
				line.add(" = ", whiteText)
				line.add(formatValue(m.Field.Default), yellowText)
			}
		}
		if m.Field.Docstring != "" {
			line.pad(40)
			line.add("  # ", whiteText)
			line.add(m.Field.Docstring, whiteText)
		}
		fmt.Fprintln(w, line.String())
		last = m.Similarity
	}
}

// PrintSchema writes an indented listing of every field of st to w.
func PrintSchema(w io.Writer, st *Struct) {
	printSchema(w, st, 0, true)
}

func printSchema(w io.Writer, st *Struct, depth int, recurse bool) {
	for _, f := range st.Fields {
		line := &styledLine{}
		line.add(strings.Repeat("  ", depth), nil)
		line.add(f.Name, cyanText)
		line.add(":", whiteText)
		line.add(" ", nil)
		if nested, ok := unwrapContainers(f.Type).(*Struct); ok {
			line.add(f.Type.String(), greenText)
			fmt.Fprintln(w, line.String())
			if recurse {
				printSchema(w, nested, depth+1, true)
			}
			continue
		}
		line.add(f.Type.String(), greenText)
		if f.Default != nil {
			line.add(" = ", whiteText)
			line.add(formatValue(f.Default), yellowText)
		}
		if f.Docstring != "" {
			line.pad(40)
			line.add("  # ", whiteText)
			line.add(f.Docstring, whiteText)
		}
		fmt.Fprintln(w, line.String())
	}
}

// styledLine accumulates colored output while tracking the visible width,
// so docstrings can be aligned past the ANSI escapes.
type styledLine struct {
	b       strings.Builder
	visible int
}

func (l *styledLine) add(s string, c *color.Color) {
	if c != nil {
		l.b.WriteString(c.Sprint(s))
	} else {
		l.b.WriteString(s)
	}
	l.visible += utf8.RuneCountInString(s)
}

func (l *styledLine) pad(col int) {
	if l.visible < col {
		l.b.WriteString(strings.Repeat(" ", col-l.visible))
		l.visible = col
	}
}

func (l *styledLine) String() string {
	return l.b.String()
}
