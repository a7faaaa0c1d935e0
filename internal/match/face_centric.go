package match

import (
	"fmt"
	"sort"

	"github.com/kozaktomas/rollcall/internal/embedding"
)

// FaceCentric lets every face pick its most similar student, then keeps the
// highest-confidence face per student.
type FaceCentric struct{}

// Name implements Strategy.
func (FaceCentric) Name() string { return "face-centric" }

// Match implements Strategy.
func (fc FaceCentric) Match(faces []Face, students []Student, th Thresholds) Outcome {
	var accepted []scored
	for fi := range faces {
		best, second, ok := rankStudents(fi, faces[fi], students)
		if !ok || best.sim < th.Similarity {
			continue
		}
		accepted = append(accepted, scored{candidate: best, second: second})
	}
	matches, rejections := keepBestPerStudent(accepted, faces, students)
	return newOutcome(fc.Name(), faces, students, matches, rejections)
}

// FaceCentricMargin is FaceCentric with the absolute floor and margin checks
// applied to each face before per-student resolution. It does not
// cross-validate.
type FaceCentricMargin struct{}

// Name implements Strategy.
func (FaceCentricMargin) Name() string { return "face-centric-margin" }

// Match implements Strategy.
func (fc FaceCentricMargin) Match(faces []Face, students []Student, th Thresholds) Outcome {
	var accepted []scored
	var rejections []Rejection

	for fi, f := range faces {
		best, second, ok := rankStudents(fi, f, students)
		if !ok {
			continue
		}
		margin := best.sim - second.sim

		rej := Rejection{
			StudentID:  students[best.student].ID,
			FaceID:     f.ID,
			Image:      f.Image,
			FaceIndex:  f.Index,
			Confidence: best.sim,
			Margin:     margin,
		}
		if second.student >= 0 {
			rej.SecondStudentID = students[second.student].ID
			rej.SecondConfidence = second.sim
		}

		switch {
		case best.sim < th.MinAbsolute:
			rej.Kind = BelowAbsolute
			rej.Reason = fmt.Sprintf("Confidence %.3f below absolute minimum %g", best.sim, th.MinAbsolute)
		case best.sim < th.Similarity:
			rej.Kind = BelowThreshold
			rej.Reason = fmt.Sprintf("Confidence %.3f below threshold %g", best.sim, th.Similarity)
		case second.student >= 0 && margin < th.Margin:
			rej.Kind = AmbiguousMatch
			rej.Reason = fmt.Sprintf("Margin %.3f below required %g (ambiguous: %s vs %s)",
				margin, th.Margin, rej.StudentID, rej.SecondStudentID)
		default:
			accepted = append(accepted, scored{candidate: best, second: second})
			continue
		}
		rejections = append(rejections, rej)
	}

	matches, lost := keepBestPerStudent(accepted, faces, students)
	return newOutcome(fc.Name(), faces, students, matches, append(rejections, lost...))
}

// scored is a face's best student together with the runner-up.
type scored struct {
	candidate
	second candidate
}

// rankStudents returns the two most similar students for face fi. The runner-up
// has student index -1 and similarity 0 when there is only one student.
func rankStudents(fi int, f Face, students []Student) (best, second candidate, ok bool) {
	best = candidate{face: fi, student: -1}
	second = candidate{face: fi, student: -1}
	for si, s := range students {
		sim := embedding.Cosine(f.Embedding, s.Embedding)
		c := candidate{face: fi, student: si, sim: sim}
		switch {
		case best.student < 0 || sim > best.sim:
			second, best = best, c
		case second.student < 0 || sim > second.sim:
			second = c
		}
	}
	if best.student < 0 {
		return best, second, false
	}
	if second.student < 0 {
		second.sim = 0
	}
	return best, second, true
}

// keepBestPerStudent resolves faces that picked the same student: the highest
// confidence wins, earlier faces win ties. Losing faces are reported as
// FaceAlreadyAssigned with the student as subject. Matches follow student order.
func keepBestPerStudent(accepted []scored, faces []Face, students []Student) ([]Match, []Rejection) {
	byStudent := make(map[int][]scored)
	for _, a := range accepted {
		byStudent[a.student] = append(byStudent[a.student], a)
	}

	var matches []Match
	var rejections []Rejection
	for si, s := range students {
		group := byStudent[si]
		if len(group) == 0 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].sim > group[j].sim
		})

		win := group[0]
		wf := faces[win.face]
		m := Match{
			StudentID:  s.ID,
			FaceID:     wf.ID,
			Image:      wf.Image,
			FaceIndex:  wf.Index,
			Confidence: win.sim,
			Margin:     win.sim - win.second.sim,
		}
		if win.second.student >= 0 {
			m.SecondConfidence = win.second.sim
		}
		matches = append(matches, m)

		for _, lose := range group[1:] {
			lf := faces[lose.face]
			rejections = append(rejections, Rejection{
				Kind:       FaceAlreadyAssigned,
				StudentID:  s.ID,
				FaceID:     lf.ID,
				Image:      lf.Image,
				FaceIndex:  lf.Index,
				Confidence: lose.sim,
				Margin:     lose.sim - lose.second.sim,
				Reason:     fmt.Sprintf("Student %s already matched to %s with higher confidence", s.ID, wf.ID),
			})
		}
	}
	return matches, rejections
}
