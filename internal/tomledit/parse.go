package tomledit

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2/unstable"
)

const (
	blank     = " \t"
	separator = " \t\r\n,"
)

// builder maps the expressions reported by the go-toml parser back onto the
// source text.
type builder struct {
	src []byte
	p   unstable.Parser
	pos int // start of the first line not yet assigned to an expression
}

// Parse reads a TOML document keeping the source text of every line, so that
// an unmodified document renders back byte for byte.
func Parse(src []byte) (*Document, error) {
	b := &builder{src: src}
	b.p.KeepComments = true
	b.p.Reset(src)

	doc := New()
	cur := doc.sections[0]
	for b.p.NextExpression() {
		expr := b.p.Expression()
		switch expr.Kind {
		case unstable.Table, unstable.ArrayTable:
			sec := b.section(expr)
			doc.sections = append(doc.sections, sec)
			cur = sec

		case unstable.KeyValue:
			e, err := b.entry(expr)
			if err != nil {
				return nil, err
			}
			cur.entries = append(cur.entries, e)
		}
	}
	if err := b.p.Error(); err != nil {
		return nil, b.wrap(err)
	}
	doc.trailer = string(src[b.pos:])

	return doc, nil
}

func (b *builder) wrap(err error) error {
	var perr *unstable.ParserError
	if errors.As(err, &perr) && perr.Highlight != nil {
		line := b.p.Shape(b.p.Range(perr.Highlight)).Start.Line
		return fmt.Errorf("toml line %d: %w", line, err)
	}
	return fmt.Errorf("toml: %w", err)
}

func (b *builder) skip(i int, set string) int {
	for i < len(b.src) && strings.IndexByte(set, b.src[i]) >= 0 {
		i++
	}
	return i
}

// key decodes a possibly dotted key and returns the byte range it spans.
func (b *builder) key(it unstable.Iterator) ([]string, int, int) {
	var parts []string
	start, end := -1, 0
	for it.Next() {
		k := it.Node()
		if start < 0 {
			start = int(k.Raw.Offset)
		}
		end = int(k.Raw.Offset + k.Raw.Length)
		parts = append(parts, string(k.Data))
	}
	return parts, start, end
}

// finish consumes the line holding from. It returns the text between from and
// the line break, and the line break itself ("" at end of input).
func (b *builder) finish(from int) (string, string) {
	rest := b.src[from:]
	i := bytes.IndexByte(rest, '\n')
	if i < 0 {
		b.pos = len(b.src)
		return string(rest), ""
	}
	eol := "\n"
	if i > 0 && rest[i-1] == '\r' {
		i--
		eol = "\r\n"
	}
	b.pos = from + i + len(eol)
	return string(rest[:i]), eol
}

func (b *builder) section(expr *unstable.Node) *section {
	path, keyStart, keyEnd := b.key(expr.Key())

	start := keyStart
	for start > 0 && b.src[start-1] != '[' {
		start--
	}
	for start > 0 && b.src[start-1] == '[' {
		start--
	}

	lead := string(b.src[b.pos:start])
	rest, eol := b.finish(keyEnd)
	return &section{
		lead:   lead,
		header: string(b.src[start:keyEnd]) + rest,
		eol:    eol,
		path:   path,
		array:  expr.Kind == unstable.ArrayTable,
	}
}

func (b *builder) entry(expr *unstable.Node) (*entry, error) {
	key, keyStart, keyEnd := b.key(expr.Key())
	valStart := b.skip(b.skip(keyEnd, blank)+1, blank)

	var (
		arr    *Array
		valEnd int
		err    error
	)
	if v := expr.Value(); v.Kind == unstable.Array {
		arr, valEnd, err = b.array(v, valStart)
	} else {
		_, valEnd, err = b.extent(v, valStart)
	}
	if err != nil {
		return nil, err
	}

	lead := string(b.src[b.pos:keyStart])
	comment, eol := b.finish(valEnd)
	return &entry{
		lead:    lead,
		keyText: string(b.src[keyStart:keyEnd]),
		key:     key,
		sep:     string(b.src[keyEnd:valStart]),
		value:   &value{raw: string(b.src[valStart:valEnd]), arr: arr},
		comment: comment,
		eol:     eol,
	}, nil
}

// extent returns the byte range of value n, which starts at or after from.
func (b *builder) extent(n *unstable.Node, from int) (int, int, error) {
	switch n.Kind {
	case unstable.Array:
		start := b.skip(from, separator)
		_, end, err := b.array(n, start)
		return start, end, err

	case unstable.InlineTable:
		start := int(n.Raw.Offset)
		pos := start + 1
		it := n.Children()
		for it.Next() {
			kv := it.Node()
			_, _, keyEnd := b.key(kv.Key())
			var err error
			if _, pos, err = b.extent(kv.Value(), b.skip(b.skip(keyEnd, blank)+1, blank)); err != nil {
				return 0, 0, err
			}
		}
		end, err := b.closing(pos, '}')
		return start, end, err
	}

	r := n.Raw
	if r.Length == 0 {
		r = b.p.Range(n.Data)
	}
	return int(r.Offset), int(r.Offset + r.Length), nil
}

func (b *builder) closing(pos int, c byte) (int, error) {
	i := b.skip(pos, separator)
	if i >= len(b.src) || b.src[i] != c {
		return 0, fmt.Errorf("toml: expected %q at offset %d", c, i)
	}
	return i + 1, nil
}

// array collects the elements of the array starting at start. A comment on
// the same line as an element belongs to it; other comments lead the next
// element, or trail the array.
func (b *builder) array(n *unstable.Node, start int) (*Array, int, error) {
	arr := &Array{}
	pos := start + 1

	var (
		pending []string
		last    *arrayItem
	)
	it := n.Children()
	for it.Next() {
		c := it.Node()
		if c.Kind == unstable.Comment {
			for _, cm := range b.comments(c) {
				if last != nil && last.comment == "" && bytes.IndexByte(b.src[pos:cm.start], '\n') < 0 {
					last.comment = cm.text
				} else {
					pending = append(pending, cm.text)
				}
				pos = cm.end
			}
			continue
		}

		s, e, err := b.extent(c, pos)
		if err != nil {
			return nil, 0, err
		}
		last = &arrayItem{comments: pending, raw: string(b.src[s:e])}
		pending = nil
		arr.items = append(arr.items, last)
		pos = e
	}
	arr.tail = pending

	end, err := b.closing(pos, ']')
	if err != nil {
		return nil, 0, err
	}
	return arr, end, nil
}

type commentSpan struct {
	text       string
	start, end int
}

// comments flattens a run of comment lines; the parser hangs every comment
// after the first below it.
func (b *builder) comments(n *unstable.Node) []commentSpan {
	out := []commentSpan{b.comment(n)}
	it := n.Children()
	for it.Next() {
		out = append(out, b.comment(it.Node()))
	}
	return out
}

func (b *builder) comment(n *unstable.Node) commentSpan {
	start := int(n.Raw.Offset)
	end := start + int(n.Raw.Length)
	return commentSpan{
		text:  strings.TrimRight(string(b.src[start:end]), " \t\r"),
		start: start,
		end:   end,
	}
}
