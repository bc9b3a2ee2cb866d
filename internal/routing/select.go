// Package routing moves backlog tasks into sections chosen by rule priority.
package routing

import (
	"sort"

	"github.com/pbaille/triage/internal/config"
)

// Candidate is one section a rule would send a task to.
type Candidate struct {
	SectionName     string `json:"section_name"`
	Priority        int    `json:"priority"`
	Label           string `json:"label"`
	Exists          bool   `json:"exists"`
	CreateIfMissing bool   `json:"create_if_missing"`
}

// Choice is the selected destination. SectionID is empty when the section
// has to be created.
type Choice struct {
	SectionName string `json:"section_name"`
	SectionID   string `json:"section_id,omitempty"`
	Create      bool   `json:"create"`
}

// Candidates lists the routing candidates for labels, lowest priority value
// first. Rules with equal priority keep their file order.
func Candidates(labels map[string]bool, rules []config.Rule, existing map[string]string) []Candidate {
	var out []Candidate
	for _, r := range rules {
		if r.MoveTo == "" || !labels[r.Label] {
			continue
		}
		_, ok := existing[r.MoveTo]
		out = append(out, Candidate{
			SectionName:     r.MoveTo,
			Priority:        r.RoutePriority(),
			Label:           r.Label,
			Exists:          ok,
			CreateIfMissing: r.CreateIfMissing,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// SelectSection picks the first candidate whose section exists or may be
// created. It reports false when no rule routes the labels anywhere usable.
func SelectSection(labels map[string]bool, rules []config.Rule, existing map[string]string) (*Choice, bool) {
	for _, c := range Candidates(labels, rules, existing) {
		if c.Exists {
			return &Choice{SectionName: c.SectionName, SectionID: existing[c.SectionName]}, true
		}
		if c.CreateIfMissing {
			return &Choice{SectionName: c.SectionName, Create: true}, true
		}
	}
	return nil, false
}
