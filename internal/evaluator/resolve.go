// internal/evaluator/resolve.go
package evaluator

import (
	"strings"

	"github.com/xkilldash9x/shopscope/api/schemas"
	"github.com/xkilldash9x/shopscope/internal/browser/session"
)

// ResolveTarget finds the element a click refers to. A target of the form
// vid-N names an element directly. Otherwise the target is a label, and the
// first element in highlight order (role priority, then document order) wins:
// an exact label match first, then a case-insensitive match, then a
// case-insensitive substring.
func ResolveTarget(elements []schemas.Element, target string) (schemas.Element, bool) {
	target = collapseSpace(target)
	if target == "" {
		return schemas.Element{}, false
	}

	if session.IsVID(target) {
		for _, el := range elements {
			if el.VID == target {
				return el, true
			}
		}
		return schemas.Element{}, false
	}

	passes := []func(label string) bool{
		func(label string) bool { return label == target },
		func(label string) bool { return strings.EqualFold(label, target) },
		func(label string) bool { return strings.Contains(strings.ToLower(label), strings.ToLower(target)) },
	}
	for _, match := range passes {
		for _, el := range elements {
			if match(collapseSpace(el.Label)) {
				return el, true
			}
		}
	}
	return schemas.Element{}, false
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
