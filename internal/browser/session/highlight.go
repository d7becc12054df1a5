// internal/browser/session/highlight.go
package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shopscope/api/schemas"
)

const (
	highlightClass = "gpt-clickable"
	vidAttribute   = "data-vid"
	vidPrefix      = "vid-"
	maxLabelLength = 80
)

// RoleSelector pairs an element role with the CSS selector that finds it.
type RoleSelector struct {
	Role     string
	Selector string
}

// HighlightRoles lists the addressable roles in marking priority. An element
// matching more than one role keeps the first.
var HighlightRoles = []RoleSelector{
	{Role: "button", Selector: `button, input[type="button"], input[type="submit"], input[type="reset"], input[type="image"], summary, [role="button"]`},
	{Role: "link", Selector: `a[href], area[href], [role="link"]`},
	{Role: "textarea", Selector: `textarea, [role="textbox"]`},
	{Role: "treeitem", Selector: `[role="treeitem"]`},
}

// highlightScript clears every previous mark, then stamps visible elements of
// each role in order with the addressable class, a red outline and a
// sequential data-vid. It returns the marked elements.
var highlightScript = fmt.Sprintf(`(() => {
	const cls = %[1]s, attr = %[2]s, prefix = %[3]s, maxLabel = %[4]d;
	const roles = %[5]s;

	for (const el of document.querySelectorAll('.' + cls + ', [' + attr + ']')) {
		el.classList.remove(cls);
		el.style.removeProperty('outline');
		el.removeAttribute(attr);
	}

	const visible = (el) => {
		const rect = el.getBoundingClientRect();
		if (rect.width <= 0 || rect.height <= 0) return false;
		const style = window.getComputedStyle(el);
		return style.display !== 'none' && style.visibility !== 'hidden';
	};

	const label = (el) => {
		let text = (el.innerText || '').trim();
		if (!text) {
			text = el.getAttribute('aria-label') || el.value || el.getAttribute('title') ||
				el.getAttribute('placeholder') || el.getAttribute('alt') || '';
		}
		text = String(text).replace(/\s+/g, ' ').trim();
		return text.length > maxLabel ? text.slice(0, maxLabel) : text;
	};

	const marked = [];
	for (const r of roles) {
		for (const el of document.querySelectorAll(r.Selector)) {
			if (el.classList.contains(cls) || !visible(el)) continue;
			const vid = prefix + (marked.length + 1);
			el.classList.add(cls);
			el.style.setProperty('outline', '1px solid red');
			el.setAttribute(attr, vid);
			marked.push({vid: vid, role: r.Role, label: label(el), order: marked.length});
		}
	}
	return marked;
})()`, jsonEncode(highlightClass), jsonEncode(vidAttribute), jsonEncode(vidPrefix), maxLabelLength, jsonEncode(HighlightRoles))

// Highlight clears previous marks and marks the addressable elements of the
// current page. Calling it twice without a page change yields the same set.
func (s *Session) Highlight(ctx context.Context) ([]schemas.Element, error) {
	var elements []schemas.Element
	if err := s.evaluate(ctx, highlightScript, &elements); err != nil {
		return nil, fmt.Errorf("failed to highlight interactive elements: %w", err)
	}

	counts := make(map[string]int, len(HighlightRoles))
	for _, el := range elements {
		counts[el.Role]++
	}
	s.logger.Debug("Highlighted interactive elements.",
		zap.Int("total", len(elements)),
		zap.Int("button", counts["button"]),
		zap.Int("link", counts["link"]),
		zap.Int("textarea", counts["textarea"]),
		zap.Int("treeitem", counts["treeitem"]))
	return elements, nil
}

// IsVID reports whether target has the form of a synthetic element id.
func IsVID(target string) bool {
	rest, ok := strings.CutPrefix(strings.TrimSpace(target), vidPrefix)
	if !ok || rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
