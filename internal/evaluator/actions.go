// internal/evaluator/actions.go
package evaluator

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shopscope/api/schemas"
	"github.com/xkilldash9x/shopscope/internal/llmutil"
)

var regionKeys = [...]string{"x", "y", "width", "height"}

// ParseActions extracts every action embedded in a model reply, in order of
// appearance. Objects that name no known action are ignored.
func ParseActions(reply string, logger *zap.Logger) []Action {
	objects := llmutil.ExtractJSONObjects(reply, logger)
	actions := make([]Action, 0, len(objects))
	for _, obj := range objects {
		action, ok := decodeAction(obj)
		if !ok {
			logger.Debug("Ignoring JSON object with no recognized action.",
				zap.Int("offset", obj.Offset),
				zap.String("object", obj.Raw))
			continue
		}
		if action.DecodeErr != nil {
			logger.Warn("Action has unusable fields.",
				zap.String("kind", string(action.Kind)),
				zap.Int("offset", obj.Offset),
				zap.Error(action.DecodeErr))
		}
		actions = append(actions, action)
	}
	return actions
}

// decodeAction maps one object onto an action. A score or input request wins
// over url and click when an object carries several keys.
func decodeAction(obj llmutil.Object) (Action, bool) {
	f := obj.Fields
	a := Action{Offset: obj.Offset}

	switch {
	case isTrue(f[string(ActionScore)]):
		a.Kind = ActionScore
		a.DecodeErr = decodeScore(f, &a)
	case isTrue(f[string(ActionUserInput)]):
		a.Kind = ActionUserInput
	case hasKey(f, string(ActionClick)):
		a.Kind = ActionClick
		a.Target, a.DecodeErr = requireString(f, string(ActionClick))
	case hasKey(f, string(ActionURL)):
		a.Kind = ActionURL
		a.URL, a.DecodeErr = requireString(f, string(ActionURL))
	default:
		return Action{}, false
	}
	return a, true
}

func decodeScore(f map[string]interface{}, a *Action) error {
	idx, err := intField(f, "framework_row_index")
	if err != nil {
		return err
	}
	score, err := intField(f, "score")
	if err != nil {
		return err
	}
	a.RowIndex = idx
	a.Score = score
	a.ScoringNotes = stringField(f, "scoring_notes")
	a.RelevantLink = stringField(f, "relevant_link")

	region, err := regionFields(f)
	if err != nil {
		return err
	}
	a.Region = region
	return nil
}

// regionFields returns nil when no coordinate is given. A partial or
// non-positive region is an error.
func regionFields(f map[string]interface{}) (*schemas.Region, error) {
	var vals [len(regionKeys)]float64
	present := 0
	for i, k := range regionKeys {
		if !hasKey(f, k) {
			continue
		}
		v, err := numberValue(f[k])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		vals[i] = v
		present++
	}
	if present == 0 {
		return nil, nil
	}
	if present != len(regionKeys) {
		return nil, errors.New("evidence region needs all of x, y, width and height")
	}
	r := &schemas.Region{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}
	if !r.Valid() {
		return nil, fmt.Errorf("evidence region %+v must have a positive size and non-negative origin", *r)
	}
	return r, nil
}

func hasKey(f map[string]interface{}, key string) bool {
	v, ok := f[key]
	return ok && v != nil
}

// isTrue accepts the boolean true and the string "true".
func isTrue(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true")
	}
	return false
}

func requireString(f map[string]interface{}, key string) (string, error) {
	s, ok := f[key].(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%s must not be empty", key)
	}
	return s, nil
}

func stringField(f map[string]interface{}, key string) string {
	switch v := f[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// intField reads an integer that may arrive as a JSON number or a numeric string.
func intField(f map[string]interface{}, key string) (int, error) {
	if !hasKey(f, key) {
		return 0, fmt.Errorf("%s is missing", key)
	}
	v, err := numberValue(f[key])
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if v != math.Trunc(v) {
		return 0, fmt.Errorf("%s must be a whole number, got %v", key, v)
	}
	if math.Abs(v) > math.MaxInt32 {
		return 0, fmt.Errorf("%s is out of range, got %v", key, v)
	}
	return int(v), nil
}

func numberValue(v interface{}) (float64, error) {
	var s string
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case string:
		s = t
	case fmt.Stringer:
		// json.Number
		s = t.String()
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("expected a number, got %q", s)
	}
	return n, nil
}
