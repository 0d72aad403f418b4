package policy

import "strings"

// defaultGradingKeywords indicate a grading or submission page.
var defaultGradingKeywords = []string{
	"submit", "grade", "grading", "assignment", "quiz", "test", "exam",
	"turn in", "upload", "assessment", "rubric", "score", "marking",
}

// DefaultGradingKeywords returns the built-in grading/submission page keywords.
func DefaultGradingKeywords() []string {
	out := make([]string, len(defaultGradingKeywords))
	copy(out, defaultGradingKeywords)
	return out
}

// ContainsGradingKeywords reports whether page text mentions any of keywords
// (case-insensitive). A nil keywords slice uses the built-in list.
func ContainsGradingKeywords(pageText string, keywords []string) bool {
	if keywords == nil {
		keywords = defaultGradingKeywords
	}
	lower := strings.ToLower(pageText)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
