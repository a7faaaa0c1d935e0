package match

import (
	"fmt"
	"sort"

	"github.com/kozaktomas/rollcall/internal/embedding"
)

// StudentCentric is the canonical strategy. Students are resolved one at a time
// in input order; each picks its best unassigned face, and a face accepted by
// one student cannot be claimed by a later one.
type StudentCentric struct{}

// Name implements Strategy.
func (StudentCentric) Name() string { return Default }

// Match implements Strategy.
func (StudentCentric) Match(faces []Face, students []Student, th Thresholds) Outcome {
	assigned := make(map[int]bool, len(faces))
	var matches []Match
	var rejections []Rejection

	for si, s := range students {
		var cands []candidate
		for fi, f := range faces {
			sim := embedding.Cosine(s.Embedding, f.Embedding)
			if sim < th.MinAbsolute {
				continue
			}
			if assigned[fi] {
				rejections = append(rejections, Rejection{
					Kind:       FaceAlreadyAssigned,
					StudentID:  s.ID,
					FaceID:     f.ID,
					Image:      f.Image,
					FaceIndex:  f.Index,
					Confidence: sim,
					Reason:     fmt.Sprintf("Face %s already assigned to another student", f.ID),
				})
				continue
			}
			cands = append(cands, candidate{face: fi, student: si, sim: sim})
		}
		if len(cands) == 0 {
			continue
		}

		sort.SliceStable(cands, func(i, j int) bool {
			return cands[i].sim > cands[j].sim
		})

		best := cands[0]
		bf := faces[best.face]
		var second *candidate
		if len(cands) > 1 {
			second = &cands[1]
		}
		margin := best.sim
		var secondSim float64
		if second != nil {
			secondSim = second.sim
			margin -= secondSim
		}

		rej := Rejection{
			StudentID:        s.ID,
			FaceID:           bf.ID,
			Image:            bf.Image,
			FaceIndex:        bf.Index,
			Confidence:       best.sim,
			SecondConfidence: secondSim,
			Margin:           margin,
		}
		if second != nil {
			rej.SecondFaceID = faces[second.face].ID
		}

		if best.sim < th.Similarity {
			rej.Kind = BelowThreshold
			rej.Reason = fmt.Sprintf("Confidence %.3f below threshold %g", best.sim, th.Similarity)
			rejections = append(rejections, rej)
			continue
		}

		m := Match{
			StudentID:        s.ID,
			FaceID:           bf.ID,
			Image:            bf.Image,
			FaceIndex:        bf.Index,
			Confidence:       best.sim,
			Margin:           margin,
			SecondConfidence: secondSim,
		}

		if second != nil && margin < th.Margin {
			cross := embedding.Cosine(bf.Embedding, faces[second.face].Embedding)
			if cross < th.CrossValidation {
				rej.Kind = AmbiguousMatch
				rej.CrossSimilarity = cross
				rej.Reason = fmt.Sprintf("Margin %.3f below required %g (ambiguous: %s vs %s, cross-similarity %.3f)",
					margin, th.Margin, bf.ID, rej.SecondFaceID, cross)
				rejections = append(rejections, rej)
				continue
			}
			m.CrossValidated = true
			m.CrossSimilarity = cross
		}

		assigned[best.face] = true
		matches = append(matches, m)
	}

	return newOutcome(Default, faces, students, matches, rejections)
}
