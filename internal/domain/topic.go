// Package domain contains the interview session, topic and conversation types.
package domain

// Topic is one scene/education-dimension pair with its core question and
// preset follow-up pool.
type Topic struct {
	Name         string   `json:"name" toml:"name"`
	Scene        string   `json:"scene" toml:"scene"`
	EduType      string   `json:"edu_type" toml:"edu_type"`
	CoreQuestion string   `json:"core_question" toml:"core_question"`
	Followups    []string `json:"followups" toml:"followups"`
}

// Clone returns a copy that does not share the follow-up slice.
func (t Topic) Clone() Topic {
	if t.Followups != nil {
		t.Followups = append([]string(nil), t.Followups...)
	}
	return t
}

// IsPreset reports whether text is one of the topic's preset follow-ups.
func (t Topic) IsPreset(text string) bool {
	for _, f := range t.Followups {
		if f == text {
			return true
		}
	}
	return false
}
