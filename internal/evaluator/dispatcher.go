// internal/evaluator/dispatcher.go
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shopscope/api/schemas"
	"github.com/xkilldash9x/shopscope/internal/browser/session"
	"github.com/xkilldash9x/shopscope/internal/framework"
	"github.com/xkilldash9x/shopscope/internal/observability"
	"github.com/xkilldash9x/shopscope/internal/terminal"
)

// Messages fed back to the model when an action fails.
const (
	msgClickFailed      = "ERROR: I was unable to click that element"
	msgNavigateFailed   = "ERROR: I was unable to navigate to %s: %v"
	msgCaptureFailed    = "ERROR: I loaded %s but was unable to capture the page: %v"
	msgRowOutOfRange    = "ERROR: framework_row_index %d is out of range (0-%d)"
	msgEmptyFramework   = "ERROR: framework_row_index %d is out of range, the framework has no rows"
	msgInvalidScore     = "ERROR: score %d for framework_row_index %d is invalid, scores must be whole numbers from %d to %d"
	msgInvalidAction    = "ERROR: your %s action could not be used: %v"
	msgEvidenceFailed   = "ERROR: I recorded the score for framework_row_index %d but was unable to capture the evidence region: %v"
	msgScoreRecorded    = "Score %d recorded for framework_row_index %d. Continue with the evaluation."
	msgStaleActions     = "NOTE: %d action(s) in your last reply came after the page changed and were not carried out. Send them again if they still apply to the new page."
	followUpPrompt      = "Anything to add before the evaluation continues? Press enter to let it carry on."
	scoreRecordedNotice = "Recorded score %d for framework row %d%s."
)

// Dispatcher carries out the actions of one model reply against the browser,
// the scoring table and the conversation. Actions run strictly in order and
// never concurrently.
type Dispatcher struct {
	browser   schemas.BrowserSession
	table     *framework.Table
	conv      *Conversation
	io        UserIO
	artifacts *Artifacts
	metrics   *observability.Metrics
	logger    *zap.Logger

	state    State
	elements []schemas.Element
}

// NewDispatcher wires a dispatcher to the session's collaborators. metrics may be nil.
func NewDispatcher(
	browser schemas.BrowserSession,
	table *framework.Table,
	conv *Conversation,
	io UserIO,
	artifacts *Artifacts,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		browser:   browser,
		table:     table,
		conv:      conv,
		io:        io,
		artifacts: artifacts,
		metrics:   metrics,
		logger:    logger.Named("dispatcher"),
		state:     StateAwaitingAction,
	}
}

// State returns the dispatcher's current state.
func (d *Dispatcher) State() State {
	return d.state
}

// Elements returns the addressable elements of the current page.
func (d *Dispatcher) Elements() []schemas.Element {
	return append([]schemas.Element(nil), d.elements...)
}

// Dispatch runs actions in order. Once a url or click succeeds, later actions
// that depend on the page are skipped, since they were written against the
// page that is now gone. Failures are reported to the model through the
// conversation; the returned error is reserved for a confirmed exit or a
// cancelled context.
func (d *Dispatcher) Dispatch(ctx context.Context, actions []Action) (DispatchResult, error) {
	var res DispatchResult
	pageChanged := false

	for _, a := range actions {
		if pageChanged && a.DependsOnPage() {
			d.logger.Info("Skipping action written against the previous page.",
				zap.String("kind", string(a.Kind)),
				zap.Int("offset", a.Offset))
			res.Outcomes = append(res.Outcomes, d.record(Outcome{Action: a, Status: StatusSkipped, ErrorCode: ErrCodeStaleAction}))
			continue
		}

		out, obs, err := d.execute(ctx, a)
		d.state = StateAwaitingAction
		res.Outcomes = append(res.Outcomes, d.record(out))
		if obs != nil {
			res.Observation = obs
		}
		if out.Status == StatusOK && a.ChangesPage() {
			pageChanged = true
		}
		if err != nil {
			return res, err
		}
	}

	if n := res.Skipped(); n > 0 {
		d.conv.AppendUser(fmt.Sprintf(msgStaleActions, n))
	}
	return res, nil
}

func (d *Dispatcher) execute(ctx context.Context, a Action) (Outcome, *schemas.Message, error) {
	if a.DecodeErr != nil {
		d.reportFailure(fmt.Sprintf(msgInvalidAction, a.Kind, a.DecodeErr))
		return Outcome{Action: a, Status: StatusFailed, ErrorCode: ErrCodeInvalidParameters, Err: a.DecodeErr}, nil, nil
	}

	switch a.Kind {
	case ActionURL:
		return d.navigate(ctx, a)
	case ActionClick:
		return d.click(ctx, a)
	case ActionScore:
		out, err := d.score(ctx, a)
		return out, nil, err
	case ActionUserInput:
		d.state = StateAwaitingUser
		if err := d.askUser(ctx); err != nil {
			return Outcome{Action: a, Status: StatusFailed, Err: err}, nil, err
		}
		return Outcome{Action: a, Status: StatusOK}, nil, nil
	default:
		err := fmt.Errorf("unknown action kind '%s'", a.Kind)
		return Outcome{Action: a, Status: StatusFailed, ErrorCode: ErrCodeInvalidParameters, Err: err}, nil, nil
	}
}

func (d *Dispatcher) navigate(ctx context.Context, a Action) (Outcome, *schemas.Message, error) {
	d.state = StateNavigating
	d.logger.Info("Navigating.", zap.String("url", a.URL))

	if err := d.browser.Navigate(ctx, a.URL); err != nil {
		if ctx.Err() != nil {
			return Outcome{Action: a, Status: StatusFailed, Err: err}, nil, ctx.Err()
		}
		d.elements = nil
		d.reportFailure(fmt.Sprintf(msgNavigateFailed, a.URL, err))
		return Outcome{Action: a, Status: StatusFailed, ErrorCode: browserErrorCode(err, ErrCodeNavigationError), Err: err}, nil, nil
	}

	obs, err := d.capturePage(ctx, shotPage, shotPageHighlighted)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Action: a, Status: StatusFailed, Err: err}, nil, ctx.Err()
		}
		d.reportFailure(fmt.Sprintf(msgCaptureFailed, a.URL, err))
		return Outcome{Action: a, Status: StatusFailed, ErrorCode: browserErrorCode(err, ErrCodeNavigationError), Err: err}, nil, nil
	}
	return Outcome{Action: a, Status: StatusOK}, obs, nil
}

func (d *Dispatcher) click(ctx context.Context, a Action) (Outcome, *schemas.Message, error) {
	d.state = StateClicking

	el, ok := ResolveTarget(d.elements, a.Target)
	if !ok {
		d.logger.Warn("Click target not found among highlighted elements.",
			zap.String("target", a.Target),
			zap.Int("elements", len(d.elements)))
		d.reportFailure(msgClickFailed)
		return Outcome{Action: a, Status: StatusFailed, ErrorCode: ErrCodeElementNotFound, Err: session.ErrElementNotFound}, nil, nil
	}

	d.logger.Info("Clicking element.",
		zap.String("target", a.Target),
		zap.String("vid", el.VID),
		zap.String("role", el.Role),
		zap.String("label", el.Label))
	if err := d.browser.Click(ctx, el.VID); err != nil {
		if ctx.Err() != nil {
			return Outcome{Action: a, Status: StatusFailed, Err: err}, nil, ctx.Err()
		}
		d.logger.Warn("Click failed.", zap.String("vid", el.VID), zap.Error(err))
		d.reportFailure(msgClickFailed)
		code := ErrCodeClickFailed
		if errors.Is(err, session.ErrElementNotFound) {
			code = ErrCodeElementNotFound
		}
		return Outcome{Action: a, Status: StatusFailed, ErrorCode: browserErrorCode(err, code), Err: err}, nil, nil
	}

	obs, err := d.capturePage(ctx, shotAfterClick, shotAfterClickHighlighted)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Action: a, Status: StatusFailed, Err: err}, nil, ctx.Err()
		}
		d.reportFailure(fmt.Sprintf(msgCaptureFailed, "the page after clicking "+el.VID, err))
		return Outcome{Action: a, Status: StatusFailed, ErrorCode: browserErrorCode(err, ErrCodeClickFailed), Err: err}, nil, nil
	}
	return Outcome{Action: a, Status: StatusOK}, obs, nil
}

// capturePage takes the plain capture, re-highlights, then takes the
// highlighted capture the model will see. The element set is replaced even
// when a later step fails, so a click never resolves against a stale page.
func (d *Dispatcher) capturePage(ctx context.Context, plainName, highlightedName string) (*schemas.Message, error) {
	d.elements = nil

	plain, err := d.browser.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	d.saveScreenshot(plainName, plain)

	elements, err := d.browser.Highlight(ctx)
	if err != nil {
		return nil, err
	}
	d.elements = elements

	highlighted, err := d.browser.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("highlighted screenshot failed: %w", err)
	}
	d.saveScreenshot(highlightedName, highlighted)

	obs := BuildObservation(highlighted, elements)
	return &obs, nil
}

func (d *Dispatcher) saveScreenshot(name string, img schemas.Image) {
	d.metrics.CountScreenshot()
	if d.artifacts == nil {
		return
	}
	if _, err := d.artifacts.SaveScreenshot(name, img); err != nil {
		d.logger.Warn("Failed to save screenshot.", zap.String("name", name), zap.Error(err))
	}
}

func (d *Dispatcher) score(ctx context.Context, a Action) (Outcome, error) {
	d.state = StateScoring

	if err := d.table.SetScore(a.RowIndex, a.Score, a.ScoringNotes, a.RelevantLink); err != nil {
		switch {
		case errors.Is(err, framework.ErrRowOutOfRange):
			if d.table.Len() == 0 {
				d.reportFailure(fmt.Sprintf(msgEmptyFramework, a.RowIndex))
			} else {
				d.reportFailure(fmt.Sprintf(msgRowOutOfRange, a.RowIndex, d.table.Len()-1))
			}
			return Outcome{Action: a, Status: StatusFailed, ErrorCode: ErrCodeRowOutOfRange, Err: err}, nil
		default:
			d.reportFailure(fmt.Sprintf(msgInvalidScore, a.Score, a.RowIndex, framework.MinScore, framework.MaxScore))
			return Outcome{Action: a, Status: StatusFailed, ErrorCode: ErrCodeInvalidParameters, Err: err}, nil
		}
	}
	d.metrics.CountScoredRow()
	d.logger.Info("Framework row scored.",
		zap.Int("framework_row_index", a.RowIndex),
		zap.Int("score", a.Score),
		zap.String("relevant_link", a.RelevantLink))

	out := Outcome{Action: a, Status: StatusOK}
	if a.Region != nil {
		if err := d.captureEvidence(ctx, a); err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			d.reportFailure(fmt.Sprintf(msgEvidenceFailed, a.RowIndex, err))
			out.ErrorCode = browserErrorCode(err, ErrCodeEvidenceFailed)
			out.Err = err
		}
	}

	label := ""
	if row, err := d.table.Row(a.RowIndex); err == nil && row.L2 != "" {
		label = " (" + row.L2 + ")"
	}
	d.io.Println(fmt.Sprintf(scoreRecordedNotice, a.Score, a.RowIndex, label))

	d.state = StateAwaitingUser
	d.io.Println(followUpPrompt)
	answer, err := d.io.Capture(ctx)
	if err != nil {
		return out, err
	}
	if terminal.IsNegative(answer) {
		d.conv.AppendUser(fmt.Sprintf(msgScoreRecorded, a.Score, a.RowIndex))
	} else {
		d.conv.AppendUser(answer)
	}
	return out, nil
}

func (d *Dispatcher) captureEvidence(ctx context.Context, a Action) error {
	img, err := d.browser.ClipScreenshot(ctx, *a.Region)
	if err != nil {
		return err
	}
	d.metrics.CountScreenshot()
	if d.artifacts == nil {
		return nil
	}
	path, err := d.artifacts.SaveEvidence(a.RowIndex, img)
	if err != nil {
		return err
	}
	d.logger.Info("Saved evidence screenshot.", zap.Int("framework_row_index", a.RowIndex), zap.String("path", path))
	return nil
}

// askUser blocks for one line and forwards it to the model.
func (d *Dispatcher) askUser(ctx context.Context) error {
	line, err := d.io.Capture(ctx)
	if err != nil {
		return err
	}
	d.conv.AppendUser(line)
	return nil
}

// reportFailure tells both the model and the person at the terminal.
func (d *Dispatcher) reportFailure(msg string) {
	d.io.Println(msg)
	d.conv.AppendUser(msg)
}

func (d *Dispatcher) record(out Outcome) Outcome {
	label := out.Status
	if out.ErrorCode != "" {
		label = strings.ToLower(string(out.ErrorCode))
	}
	d.metrics.CountAction(string(out.Action.Kind), label)

	fields := []zap.Field{
		zap.String("kind", string(out.Action.Kind)),
		zap.String("status", out.Status),
	}
	if out.ErrorCode != "" {
		fields = append(fields, zap.String("error_code", string(out.ErrorCode)))
	}
	if out.Err != nil {
		fields = append(fields, zap.Error(out.Err))
	}
	d.logger.Debug("Action finished.", fields...)
	return out
}

func browserErrorCode(err error, fallback ErrorCode) ErrorCode {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTimeoutError
	}
	return fallback
}
