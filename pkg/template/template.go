// Package template loads LaTeX document skeletons and substitutes equations
// into them.
//
// A template is a file templates/<name>.tex that contains the token EQUATION
// exactly once as a whole word: EQUATIONS or MYEQUATION do not count, but an
// occurrence inside a LaTeX comment does. Rendering is a plain string substitution, not a
// templating-engine render, so LaTeX braces and backslashes in either the
// template or the equation need no escaping.
//
//	tpl, err := template.Load("templates", "standalone")
//	if err != nil {
//	    return err // TEMPLATE_NOT_FOUND or INVALID_TEMPLATE
//	}
//	doc := tpl.Render(`E=mc^2`)
package template

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/matzehuels/eqrender/pkg/errors"
)

// Placeholder is the token replaced by the equation source.
const Placeholder = "EQUATION"

// placeholderRE matches Placeholder as a whole word.
var placeholderRE = regexp.MustCompile(`\b` + Placeholder + `\b`)

// Ext is the file extension of template files.
const Ext = ".tex"

// DefaultName is the name of the built-in template.
const DefaultName = "standalone"

//go:embed builtin/*.tex
var builtinFS embed.FS

// Template is a loaded LaTeX document skeleton. It is never mutated on disk.
type Template struct {
	Name string
	Path string
	Body string
}

// Load reads templates/<name>.tex from dir and checks the placeholder contract.
func Load(dir, name string) (*Template, error) {
	if err := errors.ValidateTemplateName(name); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, name+Ext)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrap(errors.ErrCodeTemplateNotFound, err, "missing template %q (looked in %s)", name, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	return Parse(name, path, string(data))
}

// Parse validates body and returns a Template.
func Parse(name, path, body string) (*Template, error) {
	switch n := len(placeholderRE.FindAllStringIndex(body, -1)); n {
	case 1:
		return &Template{Name: name, Path: path, Body: body}, nil
	case 0:
		return nil, errors.New(errors.ErrCodeInvalidTemplate, "template %q has no %s placeholder", name, Placeholder)
	default:
		return nil, errors.New(errors.ErrCodeInvalidTemplate, "template %q has %d %s placeholders, want exactly one", name, n, Placeholder)
	}
}

// Render returns the document with the equation substituted.
func (t *Template) Render(source string) string {
	loc := placeholderRE.FindStringIndex(t.Body)
	if loc == nil {
		return t.Body
	}
	return t.Body[:loc[0]] + source + t.Body[loc[1]:]
}

// List returns the names of all templates in dir, sorted.
// A missing directory yields an empty list.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != Ext {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), Ext))
	}
	sort.Strings(names)
	return names, nil
}

// Builtin returns the body of a built-in template.
func Builtin(name string) (string, error) {
	data, err := builtinFS.ReadFile("builtin/" + name + Ext)
	if err != nil {
		return "", errors.New(errors.ErrCodeTemplateNotFound, "no built-in template %q", name)
	}
	return string(data), nil
}

// Install writes the built-in template name into dir. Existing files are left
// untouched unless force is set. It returns the written path.
func Install(dir, name string, force bool) (string, error) {
	body, err := Builtin(name)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+Ext)
	if _, err := os.Stat(path); err == nil && !force {
		return "", errors.New(errors.ErrCodeInvalidInput, "%s already exists (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return "", err
	}
	return path, nil
}
