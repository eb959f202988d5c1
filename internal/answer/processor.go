// Package answer scores answer depth and extracts topical keywords.
package answer

import "strings"

// DefaultDepthKeywords mark reflective, concrete answers.
var DefaultDepthKeywords = []string{
	"例子", "情景", "经历", "具体", "我学到", "我的感受", "影响", "计划", "应用",
	"反思", "目标", "回忆", "思考", "帮助", "自立", "支持", "收获",
}

// DefaultCommonKeywords are recorded on answers for later analysis.
var DefaultCommonKeywords = []string{
	"时间", "方法", "计划", "目标", "团队", "互动", "冲突", "经验", "学习", "情绪",
}

// DefaultMaxDepthScore caps ScoreDepth.
const DefaultMaxDepthScore = 3

// Processor evaluates answers with fixed keyword lists. It is safe for concurrent use.
type Processor struct {
	depthKeywords  []string
	commonKeywords []string
	maxDepth       int
}

// NewProcessor creates a Processor. Empty lists and a non-positive cap fall back to defaults.
func NewProcessor(depthKeywords, commonKeywords []string, maxDepth int) *Processor {
	if len(depthKeywords) == 0 {
		depthKeywords = DefaultDepthKeywords
	}
	if len(commonKeywords) == 0 {
		commonKeywords = DefaultCommonKeywords
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepthScore
	}
	return &Processor{
		depthKeywords:  lowerAll(depthKeywords),
		commonKeywords: lowerAll(commonKeywords),
		maxDepth:       maxDepth,
	}
}

// MaxDepth returns the depth score cap.
func (p *Processor) MaxDepth() int { return p.maxDepth }

// ScoreDepth counts the distinct depth keywords present in answer, clamped to MaxDepth.
func (p *Processor) ScoreDepth(answer string) int {
	if answer == "" {
		return 0
	}
	text := strings.ToLower(answer)
	score := 0
	for _, kw := range p.depthKeywords {
		if strings.Contains(text, kw) {
			score++
			if score == p.maxDepth {
				break
			}
		}
	}
	return score
}

// ExtractKeywords returns the common keywords present in answer, in list order.
func (p *Processor) ExtractKeywords(answer string) []string {
	if answer == "" {
		return nil
	}
	text := strings.ToLower(answer)
	var out []string
	for _, kw := range p.commonKeywords {
		if strings.Contains(text, kw) {
			out = append(out, kw)
		}
	}
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
