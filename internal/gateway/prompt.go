package gateway

import (
	"fmt"
	"strings"

	"github.com/ashureev/interviewd/internal/domain"
)

const systemPrompt = "只生成1个追问，简洁有针对性"

// contextEntries is how many trailing log entries are quoted in the prompt.
const contextEntries = 4

// BuildRequest renders the follow-up prompt for an answer.
func BuildRequest(answer string, topic domain.Topic, log []domain.ConversationEntry, maxRunes int) Request {
	var b strings.Builder
	fmt.Fprintf(&b, "用户回答了%s的问题，回答是：%s\n", topic.Name, answer)
	fmt.Fprintf(&b, "生成1个口语化追问（≤%d字），满足：\n", maxRunes)
	b.WriteString("1. 不重复原问题，不使用\"能结合具体经历说说吗？\"这类通用表述；\n")
	b.WriteString("2. 针对回答中的具体细节（如事件、动作、感受）深挖；\n")
	b.WriteString("3. 引导用户补充未提及的细节（如困难、他人反应、收获）。\n")
	b.WriteString("示例：\n")
	b.WriteString("- 回答\"小组作业主动统筹拿优秀\"→追问\"协调分工时队友有抵触吗？\"\n")
	b.WriteString("- 回答\"社区羽毛球赛和陌生人配合\"→追问\"配合失误时怎么沟通的？\"\n")

	if start := len(log) - contextEntries; len(log) > 0 {
		if start < 0 {
			start = 0
		}
		b.WriteString("最近的对话：\n")
		for _, e := range log[start:] {
			speaker := "访谈者"
			if e.Role() == domain.RoleUser {
				speaker = "受访者"
			}
			fmt.Fprintf(&b, "%s：%s\n", speaker, e.Content())
		}
	}

	return Request{
		System:      systemPrompt,
		Prompt:      strings.TrimSpace(b.String()),
		Topic:       topic.Name,
		Answer:      answer,
		MaxTokens:   50,
		Temperature: 0.7,
	}
}
