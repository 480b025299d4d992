package edi

// ExtractLoop partitions a flat segment sequence into repeating loops.
//
// Segments before the first segment whose tag is in startTags are skipped.
// The tag of that first segment becomes the loop's primary tag and every
// later occurrence of it opens a new group; all other segments are appended
// to the current group. Any tag in stopTags ends extraction, which is how
// callers stop before summary and trailer segments (CTT, SE ...).
func ExtractLoop(segments []Segment, startTags, stopTags []string) [][]Segment {
	var (
		loops   [][]Segment
		current []Segment
		primary string
	)
	for _, s := range segments {
		if contains(stopTags, s.Tag) {
			break
		}
		if primary == "" {
			if !contains(startTags, s.Tag) {
				continue
			}
			primary = s.Tag
		}
		if s.Tag == primary {
			if current != nil {
				loops = append(loops, current)
			}
			current = []Segment{s}
			continue
		}
		current = append(current, s)
	}
	if current != nil {
		loops = append(loops, current)
	}
	return loops
}

func contains(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
