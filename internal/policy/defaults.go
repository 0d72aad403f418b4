package policy

import "github.com/eliteGoblin/focusd/ai_mon/internal/domain"

// DefaultAIWebsites are the built-in AI tool rules, in match order.
func DefaultAIWebsites() []domain.Rule {
	return []domain.Rule{
		{Name: "ChatGPT", Pattern: "*.openai.com/*"},
		{Name: "ChatGPT", Pattern: "*://chatgpt.com/*"},
		{Name: "Claude", Pattern: "*://claude.ai/*"},
		{Name: "Gemini", Pattern: "*://gemini.google.com/*"},
		{Name: "Copilot", Pattern: "*://copilot.microsoft.com/*"},
		{Name: "Perplexity", Pattern: "*://*perplexity.ai/*"},
		{Name: "Poe", Pattern: "*://poe.com/*"},
		{Name: "DeepSeek", Pattern: "*://chat.deepseek.com/*"},
		{Name: "QuillBot", Pattern: "*://quillbot.com/*"},
	}
}

// DefaultAcademicPlatforms are the built-in academic and submission platform rules.
func DefaultAcademicPlatforms() []domain.Rule {
	return []domain.Rule{
		{Name: "Canvas", Pattern: "*.canvas.instructure.com/*"},
		{Name: "Canvas", Pattern: "*.instructure.com/*"},
		{Name: "Blackboard", Pattern: "*.blackboard.com/*"},
		{Name: "Moodle", Pattern: "*moodle*"},
		{Name: "Gradescope", Pattern: "*://*gradescope.com/*"},
		{Name: "Turnitin", Pattern: "*.turnitin.com/*"},
		{Name: "Google Classroom", Pattern: "*://classroom.google.com/*"},
		{Name: "Brightspace", Pattern: "*.brightspace.com/*"},
	}
}

// DefaultKeywords are the built-in message classification lists.
func DefaultKeywords() Keywords {
	return Keywords{
		Red: []string{
			"write my essay",
			"write my assignment",
			"do my homework",
			"do my assignment",
			"complete my assignment",
			"answer key",
			"answers to the exam",
			"answers to the quiz",
			"answers to the test",
			"take my exam",
			"take my test",
			"solve this exam",
			"bypass turnitin",
			"avoid plagiarism detection",
			"rewrite so it is not detected",
			"undetectable",
		},
		Yellow: []string{
			"assignment",
			"homework",
			"essay",
			"quiz",
			"exam",
			"grade",
			"rubric",
			"submit",
			"paraphrase",
			"rewrite",
		},
		Green: []string{
			"explain",
			"what is",
			"how does",
			"why does",
			"help me understand",
			"example of",
			"summarize the concept",
			"study tips",
			"practice problem",
		},
	}
}
