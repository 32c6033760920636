package models

// BuildSections groups a flat answer list into sections and questions.
// Sections and questions appear in the order they are first seen; answers
// without a question, or whose question has no section, are skipped.
// The input is not modified.
func BuildSections(answers []Answer) []Section {
	var sections []Section
	sectionIdx := map[int64]int{}
	questionIdx := map[int64]map[int64]int{}

	for _, a := range answers {
		q := a.Question
		if q == nil || q.Section == nil {
			continue
		}
		sid := q.Section.ID

		si, ok := sectionIdx[sid]
		if !ok {
			s := *q.Section
			s.Questions = nil
			sections = append(sections, s)
			si = len(sections) - 1
			sectionIdx[sid] = si
			questionIdx[sid] = map[int64]int{}
		}

		qi, ok := questionIdx[sid][q.ID]
		if !ok {
			nq := *q
			nq.Section = nil
			nq.Answers = nil
			sections[si].Questions = append(sections[si].Questions, nq)
			qi = len(sections[si].Questions) - 1
			questionIdx[sid][q.ID] = qi
		}

		leaf := a
		leaf.Question = nil
		sections[si].Questions[qi].Answers = append(sections[si].Questions[qi].Answers, leaf)
	}
	return sections
}
