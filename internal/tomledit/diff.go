package tomledit

import (
	"fmt"
	"slices"

	"github.com/pmezard/go-difflib/difflib"
)

// ApplyDiff edits doc so that it reflects cur, given that it last reflected
// prev. Only keys whose value changed are rewritten; arrays are patched with
// an LCS edit script so untouched elements keep their text and comments.
func ApplyDiff(doc *Document, prev, cur Table) error {
	return doc.applyTable(nil, prev, cur)
}

func (d *Document) applyTable(path []string, prev, cur Table) error {
	for _, f := range cur {
		p := append(slices.Clone(path), f.Key)

		old, ok := prev.Get(f.Key)
		if !ok {
			if err := d.Set(p, f.Value); err != nil {
				return err
			}
			continue
		}

		switch v := f.Value.(type) {
		case Table:
			if ot, isTable := old.(Table); isTable && d.IsTable(p) {
				if err := d.applyTable(p, ot, v); err != nil {
					return err
				}
				continue
			}
			if err := d.setIfChanged(p, old, v); err != nil {
				return err
			}

		case []any:
			olds, isSeq := old.([]any)
			arr, err := d.Array(p)
			if isSeq && err == nil {
				patched, err := applySequence(arr, olds, v)
				if err != nil {
					return err
				}
				if patched {
					continue
				}
			}
			// Arrays of tables stay as written until their content changes.
			if err := d.setIfChanged(p, old, v); err != nil {
				return err
			}

		default:
			if err := d.setIfChanged(p, old, v); err != nil {
				return err
			}
		}
	}

	for _, f := range prev {
		if _, ok := cur.Get(f.Key); !ok {
			d.Delete(append(slices.Clone(path), f.Key))
		}
	}
	return nil
}

func (d *Document) setIfChanged(path []string, old, cur any) error {
	a, err := Render(old)
	if err != nil {
		return err
	}
	b, err := Render(cur)
	if err != nil {
		return err
	}
	if a == b && d.Has(path) {
		return nil
	}
	return d.Set(path, cur)
}

// applySequence patches arr from prev to cur back to front. It reports false
// when arr no longer mirrors prev and must be replaced wholesale.
func applySequence(arr *Array, prev, cur []any) (bool, error) {
	if arr.Len() != len(prev) {
		return false, nil
	}

	a, err := renderAll(prev)
	if err != nil {
		return false, err
	}
	b, err := renderAll(cur)
	if err != nil {
		return false, err
	}

	ops := difflib.NewMatcherWithJunk(a, b, false, nil).GetOpCodes()
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		switch op.Tag {
		case 'd':
			for k := op.I2 - 1; k >= op.I1; k-- {
				arr.Remove(k)
			}
		case 'i':
			for k := op.J2 - 1; k >= op.J1; k-- {
				if err := arr.Insert(op.I1, cur[k]); err != nil {
					return false, err
				}
			}
		case 'r':
			common := min(op.I2-op.I1, op.J2-op.J1)
			for k := op.I2 - 1; k >= op.I1+common; k-- {
				arr.Remove(k)
			}
			for k := 0; k < common; k++ {
				if err := arr.Replace(op.I1+k, cur[op.J1+k]); err != nil {
					return false, err
				}
			}
			for k := op.J2 - 1; k >= op.J1+common; k-- {
				if err := arr.Insert(op.I1+common, cur[k]); err != nil {
					return false, err
				}
			}
		}
	}
	return true, nil
}

func renderAll(items []any) ([]string, error) {
	out := make([]string, len(items))
	for i, it := range items {
		s, err := Render(it)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}
