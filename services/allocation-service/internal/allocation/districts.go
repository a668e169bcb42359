package allocation

// DistrictMap is the adjacency table of nearby districts. Districts without
// an entry have no neighbors.
type DistrictMap map[string][]string

// SearchSet returns the district plus its configured neighbors, deduplicated,
// with the home district first. An empty district yields nil, which the
// registry treats as "no locality constraint".
func (m DistrictMap) SearchSet(district string) []string {
	if district == "" {
		return nil
	}
	out := []string{district}
	seen := map[string]struct{}{district: {}}
	for _, n := range m[district] {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// DefaultDistricts covers the Punjab pilot region.
func DefaultDistricts() DistrictMap {
	return DistrictMap{
		"Patiala":         {"Fatehgarh Sahib", "Sangrur", "Mohali"},
		"Ludhiana":        {"Moga", "Jalandhar", "Sangrur"},
		"Amritsar":        {"Tarn Taran", "Gurdaspur"},
		"Jalandhar":       {"Ludhiana", "Kapurthala", "Hoshiarpur"},
		"Sangrur":         {"Patiala", "Ludhiana", "Barnala"},
		"Mohali":          {"Patiala", "Fatehgarh Sahib", "Rupnagar"},
		"Fatehgarh Sahib": {"Patiala", "Mohali", "Ludhiana"},
		"Bathinda":        {"Barnala", "Mansa", "Faridkot"},
		"Moga":            {"Ludhiana", "Faridkot", "Barnala"},
	}
}
