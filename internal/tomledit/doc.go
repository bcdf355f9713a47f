// Package tomledit edits TOML documents in place. Untouched entries, array
// elements and comments keep their source text across a parse/render cycle.
package tomledit

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrNotFound is returned when a key path does not exist in the document.
	ErrNotFound = errors.New("key not found")
	// ErrNotArray is returned when an array operation targets another kind of value.
	ErrNotArray = errors.New("value is not an array")
)

const arrayIndent = "    "

// Document is a parsed TOML document. The first section is the root table
// and has no header.
type Document struct {
	sections []*section
	trailer  string
}

type section struct {
	lead    string
	header  string
	eol     string
	path    []string
	array   bool // [[path]]
	entries []*entry
}

type entry struct {
	lead    string
	keyText string
	key     []string
	sep     string
	value   *value
	comment string
	eol     string
}

type value struct {
	raw string
	arr *Array
}

func (v *value) text() string {
	if v.arr != nil && v.arr.dirty {
		return v.arr.render()
	}
	return v.raw
}

// Array is an array value whose elements can be edited one at a time.
type Array struct {
	items []*arrayItem
	tail  []string
	dirty bool
}

type arrayItem struct {
	comments []string
	raw      string
	comment  string
}

func (a *Array) Len() int {
	return len(a.items)
}

func (a *Array) Insert(i int, v any) error {
	if i < 0 || i > len(a.items) {
		return fmt.Errorf("array insert index %d out of range [0,%d]", i, len(a.items))
	}
	raw, err := Render(v)
	if err != nil {
		return err
	}
	a.items = slices.Insert(a.items, i, &arrayItem{raw: raw})
	a.dirty = true
	return nil
}

// Replace swaps the element at i. Comments attached to it are kept.
func (a *Array) Replace(i int, v any) error {
	if i < 0 || i >= len(a.items) {
		return fmt.Errorf("array replace index %d out of range [0,%d)", i, len(a.items))
	}
	raw, err := Render(v)
	if err != nil {
		return err
	}
	if a.items[i].raw != raw {
		a.items[i].raw = raw
		a.dirty = true
	}
	return nil
}

func (a *Array) Remove(i int) {
	if i < 0 || i >= len(a.items) {
		return
	}
	a.items = slices.Delete(a.items, i, i+1)
	a.dirty = true
}

func (a *Array) render() string {
	if len(a.items) == 0 && len(a.tail) == 0 {
		return "[]"
	}

	var sb strings.Builder
	sb.WriteString("[\n")
	for _, it := range a.items {
		for _, c := range it.comments {
			sb.WriteString(arrayIndent + c + "\n")
		}
		sb.WriteString(arrayIndent + it.raw + ",")
		if it.comment != "" {
			sb.WriteString(" " + it.comment)
		}
		sb.WriteString("\n")
	}
	for _, c := range a.tail {
		sb.WriteString(arrayIndent + c + "\n")
	}
	sb.WriteString("]")
	return sb.String()
}

// New returns an empty document.
func New() *Document {
	return &Document{sections: []*section{{}}}
}

// Bytes renders the document.
func (d *Document) Bytes() []byte {
	var b bytes.Buffer
	for _, sec := range d.sections {
		if sec.header != "" {
			lineStart(&b)
			b.WriteString(sec.lead)
			b.WriteString(sec.header)
			b.WriteString(sec.eol)
		}
		for _, e := range sec.entries {
			lineStart(&b)
			b.WriteString(e.lead)
			b.WriteString(e.keyText)
			b.WriteString(e.sep)
			b.WriteString(e.value.text())
			b.WriteString(e.comment)
			b.WriteString(e.eol)
		}
	}
	b.WriteString(d.trailer)
	return b.Bytes()
}

// lineStart terminates a final line that was parsed without a newline before
// more content is appended after it.
func lineStart(b *bytes.Buffer) {
	if n := b.Len(); n > 0 && b.Bytes()[n-1] != '\n' {
		b.WriteByte('\n')
	}
}

func (d *Document) empty() bool {
	return len(d.sections) == 1 && len(d.sections[0].entries) == 0
}

func fullKey(sec *section, e *entry) []string {
	return append(slices.Clone(sec.path), e.key...)
}

func hasPrefix(path, prefix []string) bool {
	return len(path) >= len(prefix) && slices.Equal(path[:len(prefix)], prefix)
}

func (d *Document) find(path []string) *entry {
	for _, sec := range d.sections {
		if !hasPrefix(path, sec.path) {
			continue
		}
		for _, e := range sec.entries {
			if slices.Equal(fullKey(sec, e), path) {
				return e
			}
		}
	}
	return nil
}

// IsTable reports whether path names a table spelled out as a header, an
// array of tables, or through dotted keys. Inline tables are values, not
// tables.
func (d *Document) IsTable(path []string) bool {
	for _, sec := range d.sections {
		if sec.header != "" && hasPrefix(sec.path, path) {
			return true
		}
		for _, e := range sec.entries {
			if k := fullKey(sec, e); len(k) > len(path) && hasPrefix(k, path) {
				return true
			}
		}
	}
	return false
}

// Has reports whether path exists as a value or a table.
func (d *Document) Has(path []string) bool {
	return d.find(path) != nil || d.IsTable(path)
}

// Array returns the editable array stored at path.
func (d *Document) Array(path []string) (*Array, error) {
	e := d.find(path)
	if e == nil {
		return nil, fmt.Errorf("%s: %w", strings.Join(path, "."), ErrNotFound)
	}
	if e.value.arr == nil {
		return nil, fmt.Errorf("%s: %w", strings.Join(path, "."), ErrNotArray)
	}
	return e.value.arr, nil
}

// Set stores v at path. An existing value is replaced in place and keeps its
// trailing comment. A table or array of tables already at path is dropped
// first. A new top-level table becomes a [section] appended to the document;
// any other new key is appended to the deepest enclosing table.
func (d *Document) Set(path []string, v any) error {
	if len(path) == 0 {
		return fmt.Errorf("set: empty key path")
	}

	if e := d.find(path); e != nil {
		val, err := newValue(v)
		if err != nil {
			return err
		}
		e.value = val
		return nil
	}

	if d.IsTable(path) {
		d.Delete(path)
	}

	if tbl, isTable := v.(Table); isTable && len(path) == 1 {
		return d.addSection(path, tbl)
	}

	host := d.host(path[:len(path)-1])
	e, err := newEntry(path[len(host.path):], v)
	if err != nil {
		return err
	}
	host.entries = append(host.entries, e)
	return nil
}

// host returns the deepest table section enclosing path. Elements of an array
// of tables never host new keys.
func (d *Document) host(path []string) *section {
	best := d.sections[0]
	for _, sec := range d.sections[1:] {
		if !sec.array && hasPrefix(path, sec.path) && len(sec.path) > len(best.path) {
			best = sec
		}
	}
	return best
}

func (d *Document) addSection(path []string, tbl Table) error {
	name, err := renderKey(path)
	if err != nil {
		return err
	}
	sec := &section{
		header: "[" + name + "]",
		eol:    "\n",
		path:   slices.Clone(path),
	}
	if !d.empty() {
		sec.lead = "\n"
	}
	for _, f := range tbl {
		e, err := newEntry([]string{f.Key}, f.Value)
		if err != nil {
			return err
		}
		sec.entries = append(sec.entries, e)
	}
	d.sections = append(d.sections, sec)
	return nil
}

// Delete removes the value or table at path. It reports whether anything was
// removed.
func (d *Document) Delete(path []string) bool {
	removed := false
	d.sections = slices.DeleteFunc(d.sections, func(sec *section) bool {
		if sec.header != "" && hasPrefix(sec.path, path) {
			removed = true
			return true
		}
		return false
	})
	for _, sec := range d.sections {
		sec.entries = slices.DeleteFunc(sec.entries, func(e *entry) bool {
			if hasPrefix(fullKey(sec, e), path) {
				removed = true
				return true
			}
			return false
		})
	}
	return removed
}

func newEntry(key []string, v any) (*entry, error) {
	keyText, err := renderKey(key)
	if err != nil {
		return nil, err
	}
	val, err := newValue(v)
	if err != nil {
		return nil, err
	}
	return &entry{
		keyText: keyText,
		key:     slices.Clone(key),
		sep:     " = ",
		value:   val,
		eol:     "\n",
	}, nil
}

func newValue(v any) (*value, error) {
	if items, ok := v.([]any); ok {
		arr := &Array{dirty: true}
		for _, it := range items {
			raw, err := Render(it)
			if err != nil {
				return nil, err
			}
			arr.items = append(arr.items, &arrayItem{raw: raw})
		}
		return &value{raw: arr.render(), arr: arr}, nil
	}

	raw, err := Render(v)
	if err != nil {
		return nil, err
	}
	return &value{raw: raw}, nil
}
