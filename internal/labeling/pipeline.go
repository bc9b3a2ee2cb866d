package labeling

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pbaille/triage/internal/classifier"
	"github.com/pbaille/triage/internal/domain"
	"github.com/pbaille/triage/internal/links"
	"github.com/pbaille/triage/internal/logging"
)

const (
	domainConfidence  = 0.95
	manyLabelsTrigger = 3
)

// Options tunes consolidation.
type Options struct {
	// Labels below ConfidenceThreshold are dropped. The boundary is
	// inclusive: a label exactly at the threshold is kept.
	ConfidenceThreshold float64
	// With SoftMatching, suggested labels outside AvailableLabels are
	// reported instead of applied. Rule and domain labels always apply.
	SoftMatching    bool
	AvailableLabels []string
}

// Stats counts pipeline activity across tasks.
type Stats struct {
	TasksProcessed     int `json:"tasks_processed"`
	RulesUsed          int `json:"rules_used"`
	TaskSenseUsed      int `json:"tasksense_used"`
	GPTUsed            int `json:"gpt_used"`
	DomainsDetected    int `json:"domains_detected"`
	ConfidenceFiltered int `json:"confidence_filtered"`
	SoftMatched        int `json:"soft_matched"`
	LabelsSuggested    int `json:"labels_suggested"`
	FeedbackRequested  int `json:"feedback_requested"`
}

// Pipeline turns a task into a consolidated LabelingResult: chain labels,
// URL domain labels, confidence filtering, existing-label subtraction and
// feedback triggers. It does not write anything.
type Pipeline struct {
	chain  *Chain
	opts   Options
	logger *zap.Logger
	stats  Stats
}

// NewPipeline creates a pipeline over chain.
func NewPipeline(chain *Chain, opts Options, logger *zap.Logger) *Pipeline {
	return &Pipeline{chain: chain, opts: opts, logger: logging.OrNop(logger)}
}

// Stats returns the counters so far.
func (p *Pipeline) Stats() Stats { return p.stats }

// Run labels one task. Running it again on the updated task adds nothing.
func (p *Pipeline) Run(ctx context.Context, task domain.Task, mode string) *domain.LabelingResult {
	res := domain.NewLabelingResult(task)

	labels, prov := p.chain.Label(ctx, task, mode)
	res.AppliedRules = prov
	for _, ar := range prov {
		res.Confidence[ar.Label] = ar.Confidence
		if ar.Explanation != "" {
			res.Explanations[ar.Label] = ar.Explanation
		}
	}
	p.countSources(prov)

	p.detectDomains(task, res)

	candidates := domain.MergeLabels(labels, res.DomainLabels)
	p.consolidate(task, res, candidates)
	p.checkFeedback(res)

	p.stats.TasksProcessed++
	p.stats.LabelsSuggested += len(res.LabelsToAdd)
	return res
}

func (p *Pipeline) countSources(prov []domain.AppliedRule) {
	seen := map[domain.Source]bool{}
	for _, ar := range prov {
		seen[ar.Source] = true
	}
	if seen[domain.SourceRule] {
		p.stats.RulesUsed++
	}
	if seen[domain.SourceTaskSense] {
		p.stats.TaskSenseUsed++
	}
	if seen[domain.SourceGPT] {
		p.stats.GPTUsed++
	}
}

func (p *Pipeline) detectDomains(task domain.Task, res *domain.LabelingResult) {
	res.Links = links.ExtractAll(task.Content)
	for _, l := range res.Links {
		label, ok := links.DomainLabel(l.URL)
		if !ok {
			continue
		}
		if _, dup := res.Confidence[label]; !dup || res.Confidence[label] < domainConfidence {
			res.Confidence[label] = domainConfidence
		}
		if _, ok := res.Explanations[label]; !ok {
			res.Explanations[label] = fmt.Sprintf("Detected from URL: %s", l.URL)
		}
		res.DomainLabels = domain.MergeLabels(res.DomainLabels, []string{label})
	}
	p.stats.DomainsDetected += len(res.DomainLabels)
}

func (p *Pipeline) consolidate(task domain.Task, res *domain.LabelingResult, candidates []string) {
	available := make(map[string]bool, len(p.opts.AvailableLabels))
	for _, l := range p.opts.AvailableLabels {
		available[l] = true
	}
	sources := res.Sources()
	existing := task.LabelSet()

	for _, label := range candidates {
		conf, ok := res.Confidence[label]
		if !ok {
			conf = classifier.DefaultConfidence
			res.Confidence[label] = conf
		}
		if conf < p.opts.ConfidenceThreshold {
			res.LowConfidence = append(res.LowConfidence, label)
			p.stats.ConfidenceFiltered++
			p.logger.Debug("label below confidence threshold",
				zap.String("task_id", task.ID),
				zap.String("label", label),
				zap.Float64("confidence", conf),
			)
			continue
		}
		src := sources[label]
		suggested := src == domain.SourceTaskSense || src == domain.SourceGPT
		if p.opts.SoftMatching && suggested && len(available) > 0 && !available[label] {
			res.SoftMatched = append(res.SoftMatched, label)
			p.stats.SoftMatched++
			continue
		}
		if existing[label] {
			continue
		}
		res.LabelsToAdd = append(res.LabelsToAdd, label)
	}
}

func (p *Pipeline) checkFeedback(res *domain.LabelingResult) {
	var triggers []string
	if len(res.LowConfidence) > 0 {
		triggers = append(triggers, fmt.Sprintf("Low confidence labels: %v", res.LowConfidence))
	}
	if len(res.SoftMatched) > 0 {
		triggers = append(triggers, fmt.Sprintf("Soft matches: %v", res.SoftMatched))
	}
	if len(res.LabelsToAdd) == 0 && len(res.AppliedRules) == 0 && len(res.DomainLabels) == 0 {
		triggers = append(triggers, "No labels suggested")
	}
	if len(res.LabelsToAdd) > manyLabelsTrigger {
		triggers = append(triggers, fmt.Sprintf("Many labels suggested: %d", len(res.LabelsToAdd)))
	}
	if len(triggers) > 0 {
		res.FeedbackRequested = true
		res.FeedbackTriggers = triggers
		p.stats.FeedbackRequested++
	}
}
