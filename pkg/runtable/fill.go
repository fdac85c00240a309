package runtable

// FillGaps replaces nulls in every column, in place. Each null takes the
// nearest preceding observation; leading nulls then take the first
// observation after them. Columns with no observation stay null.
func FillGaps(t *Table) {
	for _, k := range t.keys {
		fillSeries(t.cols[k])
	}
}

func fillSeries(s Series) {
	first := -1

	for i := range s {
		if s[i].Valid {
			if first < 0 {
				first = i
			}

			continue
		}

		if i > 0 && s[i-1].Valid {
			s[i] = s[i-1]
		}
	}

	if first <= 0 {
		return
	}

	for i := 0; i < first; i++ {
		s[i] = s[first]
	}
}
