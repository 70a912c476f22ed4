package util

func ContainsStringInArray(s []string, e string) bool {
	for _, a := range s {
		if a == e {
			return true
		}
	}
	return false
}

// UniqueStrings returns the distinct values of s in first-seen order.
func UniqueStrings(s []string) []string {
	seen := make(map[string]bool, len(s))
	unique := make([]string, 0, len(s))
	for _, value := range s {
		if seen[value] {
			continue
		}
		seen[value] = true
		unique = append(unique, value)
	}
	return unique
}
