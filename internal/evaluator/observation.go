// internal/evaluator/observation.go
package evaluator

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/shopscope/api/schemas"
)

// maxListedElements caps the element index appended to the caption.
const maxListedElements = 200

const observationCaption = `Here's the screenshot of the website you are on right now. ` +
	`Interactive elements are outlined in red. You can click on links with {"click": "Link text"}, ` +
	`or with the element id from the list below, like {"click": "vid-3"}. ` +
	`You can crawl to another URL with {"url": "https://..."} if this one is incorrect. ` +
	`If you find the answer to the user's question, you can respond normally.`

// BuildObservation turns the highlighted page capture and its element set into
// the multimodal user message the model reads on its next turn.
func BuildObservation(img schemas.Image, elements []schemas.Element) schemas.Message {
	return schemas.NewImageMessage(schemas.RoleUser, img, observationText(elements))
}

func observationText(elements []schemas.Element) string {
	var b strings.Builder
	b.WriteString(observationCaption)
	if len(elements) == 0 {
		b.WriteString("\n\nNo interactive elements were found on this page.")
		return b.String()
	}

	b.WriteString("\n\nInteractive elements:")
	for i, el := range elements {
		if i == maxListedElements {
			fmt.Fprintf(&b, "\n... and %d more", len(elements)-maxListedElements)
			break
		}
		label := el.Label
		if label == "" {
			label = "(no text)"
		}
		fmt.Fprintf(&b, "\n[%s] %s: %s", el.VID, el.Role, label)
	}
	return b.String()
}
