package form

// DeriveBranches builds a branch table for a schema that did not declare one.
// Backends that lay out branching forms as "discriminator, then one section
// per option" leave the table implicit: each discriminator option is paired,
// in order, with the question run starting at the matching section header
// after the discriminator. Derivation is refused (nil) when the layout does
// not line up, which leaves every post-discriminator question visible for
// any major.
func DeriveBranches(s *Schema) map[string]Range {
	major := s.MajorIndex()
	if major < 0 {
		return nil
	}
	options := s.Questions[major].Options
	if len(options) == 0 {
		return nil
	}

	var starts []int
	for i := major + 1; i < s.Len(); i++ {
		if s.Questions[i].Kind == KindSectionHeader {
			starts = append(starts, i)
		}
	}
	if len(starts) != len(options) {
		return nil
	}

	branches := make(map[string]Range, len(options))
	for i, opt := range options {
		end := OpenEnd
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		branches[opt] = Range{Start: starts[i], End: end}
	}
	return branches
}
