package runtable

import "fmt"

// Merge joins the columns of other onto t by time. Both tables must share
// exactly the same time index; otherwise ErrTimeIndexMismatch is returned
// and t is left untouched.
func (t *Table) Merge(other *Table) error {
	if err := sameIndex(t, other); err != nil {
		return err
	}

	for _, k := range other.keys {
		if t.Has(k) {
			return fmt.Errorf("merging column %s: %w", k, ErrDuplicateColumn)
		}
	}

	for _, k := range other.keys {
		t.keys = append(t.keys, k)
		t.cols[k] = other.cols[k]
	}

	return nil
}

func sameIndex(a, b *Table) error {
	if len(a.Times) != len(b.Times) {
		return fmt.Errorf("%w: %d rows vs %d rows", ErrTimeIndexMismatch, len(a.Times), len(b.Times))
	}

	for i := range a.Times {
		if !a.Times[i].Equal(b.Times[i]) {
			return fmt.Errorf("%w: row %d has %s vs %s", ErrTimeIndexMismatch, i, a.Times[i], b.Times[i])
		}
	}

	return nil
}
