package match

// newOutcome derives the present, absent and unidentified sets from matches.
// Present and absent follow student input order; unidentified follows pool order.
func newOutcome(strategy string, faces []Face, students []Student, matches []Match, rejections []Rejection) Outcome {
	matchedStudents := make(map[string]bool, len(matches))
	matchedFaces := make(map[string]bool, len(matches))
	for _, m := range matches {
		matchedStudents[m.StudentID] = true
		matchedFaces[m.FaceID] = true
	}

	out := Outcome{
		Strategy:     strategy,
		Matches:      matches,
		Rejections:   rejections,
		Present:      []string{},
		Absent:       []string{},
		Unidentified: []string{},
	}
	if out.Matches == nil {
		out.Matches = []Match{}
	}
	if out.Rejections == nil {
		out.Rejections = []Rejection{}
	}

	for _, s := range students {
		if matchedStudents[s.ID] {
			out.Present = append(out.Present, s.ID)
		} else {
			out.Absent = append(out.Absent, s.ID)
		}
	}
	for _, f := range faces {
		if !matchedFaces[f.ID] {
			out.Unidentified = append(out.Unidentified, f.ID)
		}
	}
	return out
}

// Run validates the students and runs s.
func Run(s Strategy, faces []Face, students []Student, th Thresholds) (Outcome, error) {
	if err := Validate(students); err != nil {
		return Outcome{}, err
	}
	return s.Match(faces, students, th), nil
}
