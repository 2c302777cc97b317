package slice

// Check if a string exists in a string slice
func Contains(slice []string, str string) bool {
	for _, item := range slice {
		if item == str {
			return true
		}
	}
	return false
}

// Dedup returns the non-empty items of slice in first-seen order.
func Dedup(slice []string) []string {
	if len(slice) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(slice))
	result := make([]string, 0, len(slice))
	for _, item := range slice {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		result = append(result, item)
	}
	return result
}

// Difference returns the items of a that are not in b, keeping a's order.
func Difference(a, b []string) []string {
	var result []string
	for _, item := range a {
		if !Contains(b, item) {
			result = append(result, item)
		}
	}
	return result
}
