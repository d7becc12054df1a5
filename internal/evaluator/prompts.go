// internal/evaluator/prompts.go
package evaluator

import (
	"fmt"
	"os"
	"strings"

	"github.com/xkilldash9x/shopscope/internal/framework"
)

// Greeting is printed once when a session starts.
const Greeting = "I am a research tool designed to help you evaluate digital experiences. How can I assist you today?"

const basePrompt = `You are a research tool to support the evaluation of digital e-commerce experiences. You will be given a framework with specific dimensions to evaluate each website, and a scoring guide that you can use as a standard for your assessment.

You are connected to a web browser and you will be given the screenshot of the website you are on. The links on the website will be highlighted in red in the screenshot. Always read what is in the screenshot. Don't guess link names.

You can go to a specific URL by answering with the following JSON format:
{"url": "url goes here"}

You can click links on the website by referencing the text inside of the link/button, or the element id listed under the screenshot, by answering in the following JSON format:
{"click": "Text in link"}

Once you are on a URL and feel confident in your answer for evaluating a certain dimension of the website, you can answer with a regular message.

Use google search by set a sub-page like 'https://google.com/search?q=search' if necessary. Prefer to use Google for simple queries. If the user provides a direct URL, go to that one. Do not make up links`

// actionListPrompt is appended to every prompt, including a custom one, since
// the dispatcher only understands these shapes.
func actionListPrompt() string {
	return fmt.Sprintf(`

When you have finished evaluating one dimension of the framework, record it with the following JSON format. The score must be a whole number from %[1]d to %[2]d. framework_row_index is the number in square brackets in the framework below. Add x, y, width and height (page pixels, measured on the screenshot) to capture the part of the page that supports your score:
{"score_ready": "true", "framework_row_index": 0, "score": 3, "scoring_notes": "Why you gave this score", "relevant_link": "URL of the page you scored", "x": 0, "y": 0, "width": 600, "height": 400}

If you need the user to do something, such as log in or solve a captcha, or you need their input to continue, answer with:
{"user_input_needed": "true"}

Messages that start with ERROR: describe an action of yours that failed. Correct it and try again.
Only the first page changing action (url or click) in a reply is carried out; anything after it that depends on the old page is dropped.`, framework.MinScore, framework.MaxScore)
}

// BuildSystemPrompt returns the system message for a session: the base
// instructions (or override when non-empty), the action formats and the
// framework rows.
func BuildSystemPrompt(override string, table *framework.Table) string {
	var b strings.Builder
	if strings.TrimSpace(override) != "" {
		b.WriteString(strings.TrimSpace(override))
	} else {
		b.WriteString(basePrompt)
	}
	b.WriteString(actionListPrompt())
	b.WriteString("\n\nFramework:")
	if table == nil || table.Len() == 0 {
		b.WriteString("\n(no rows)")
		return b.String()
	}
	for _, row := range table.Rows() {
		b.WriteString("\n")
		b.WriteString(formatRow(row))
	}
	return b.String()
}

func formatRow(row framework.Row) string {
	parts := make([]string, 0, 4)
	add := func(name, value string) {
		if v := collapseSpace(value); v != "" {
			parts = append(parts, name+": "+v)
		}
	}
	add("L1", row.L1)
	add("L2", row.L2)
	add("Description", row.Description)
	add("Scoring guide", row.ScoringGuide)
	return fmt.Sprintf("[%d] %s", row.Index, strings.Join(parts, " | "))
}

// LoadPromptOverride reads a custom base prompt. An empty path yields "".
func LoadPromptOverride(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read system prompt file %s: %w", path, err)
	}
	return string(data), nil
}
