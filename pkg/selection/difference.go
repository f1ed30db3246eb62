// Package selection picks the identifiers a run acts on.
package selection

// Difference returns the elements of a that are not in b, in the order
// they first appear in a. Duplicates in a are collapsed.
func Difference(a, b []string) []string {
	exclude := make(map[string]struct{}, len(b))
	for _, s := range b {
		exclude[s] = struct{}{}
	}

	out := make([]string, 0, len(a))
	for _, s := range a {
		if _, ok := exclude[s]; ok {
			continue
		}
		exclude[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
