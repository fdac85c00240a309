package telemetry

// Partition groups measurements by run id. Order within a run follows the
// input order. The returned slice holds run ids in order of first appearance.
func Partition(ms []Measurement) (map[string][]Measurement, []string) {
	groups := make(map[string][]Measurement, 8)
	order := make([]string, 0, 8)

	for _, m := range ms {
		if _, ok := groups[m.RunID]; !ok {
			order = append(order, m.RunID)
		}

		groups[m.RunID] = append(groups[m.RunID], m)
	}

	return groups, order
}
