package main

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	sqlKeyword  = regexp.MustCompile(`(?i)\b(select|insert|update|delete|with|create|alter|drop)\b`)
	queryMarker = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)
)

// Finding is one query constant that fails the marker rules.
type Finding struct {
	File    string
	Line    int
	Name    string
	Message string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s:%d %s (%s)", f.File, f.Line, f.Message, f.Name)
}

type markerSite struct {
	file string
	line int
	name string
}

type linter struct {
	fset    *token.FileSet
	seen    map[string]markerSite
	results []Finding
}

// Lint checks every SQL string constant under targets for a leading
// "--sql <uuid>" marker and reports markers reused by more than one query.
func Lint(targets []string) ([]Finding, error) {
	l := &linter{fset: token.NewFileSet(), seen: make(map[string]markerSite)}
	for _, target := range targets {
		err := filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				name := d.Name()
				if path != target && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor") {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
				return nil
			}
			return l.file(path)
		})
		if err != nil {
			return nil, err
		}
	}
	return l.results, nil
}

func (l *linter) file(path string) error {
	file, err := parser.ParseFile(l.fset, path, nil, parser.ParseComments)
	if err != nil {
		return err
	}
	ast.Inspect(file, func(n ast.Node) bool {
		spec, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for i, value := range spec.Values {
			lit, ok := value.(*ast.BasicLit)
			if !ok || lit.Kind != token.STRING {
				continue
			}
			raw, err := unquote(lit.Value)
			if err != nil || !sqlKeyword.MatchString(raw) {
				continue
			}
			name := "_"
			if i < len(spec.Names) {
				name = spec.Names[i].Name
			}
			l.check(path, l.fset.Position(lit.Pos()).Line, name, raw)
		}
		return true
	})
	return nil
}

func (l *linter) check(path string, line int, name, query string) {
	m := queryMarker.FindStringSubmatch(firstLine(query))
	if m == nil {
		l.results = append(l.results, Finding{File: path, Line: line, Name: name, Message: "missing or invalid --sql <uuid> marker"})
		return
	}
	if prev, dup := l.seen[m[1]]; dup {
		l.results = append(l.results, Finding{
			File:    path,
			Line:    line,
			Name:    name,
			Message: fmt.Sprintf("marker %s already used by %s at %s:%d", m[1], prev.name, prev.file, prev.line),
		})
		return
	}
	l.seen[m[1]] = markerSite{file: path, line: line, name: name}
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if strings.HasPrefix(v, "`") {
		return strings.Trim(v, "`"), nil
	}
	return strconv.Unquote(v)
}
