// internal/evaluator/dispatcher_test.go
package evaluator_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/shopscope/api/schemas"
	"github.com/xkilldash9x/shopscope/internal/config"
	"github.com/xkilldash9x/shopscope/internal/evaluator"
	"github.com/xkilldash9x/shopscope/internal/framework"
	"github.com/xkilldash9x/shopscope/internal/mocks"
	"github.com/xkilldash9x/shopscope/internal/observability"
	"github.com/xkilldash9x/shopscope/internal/terminal"
)

type dispatchFixture struct {
	cfg        *config.Config
	browser    *mocks.MockBrowserSession
	table      *framework.Table
	conv       *evaluator.Conversation
	io         *mocks.ScriptedUserIO
	dispatcher *evaluator.Dispatcher
}

func newDispatchFixture(t *testing.T, rows int, input ...string) *dispatchFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	f := &dispatchFixture{
		cfg:     testConfig(t),
		browser: new(mocks.MockBrowserSession),
		table:   testTable(rows),
		conv:    evaluator.NewConversation("system"),
		io:      mocks.NewScriptedUserIO(terminal.ErrExitRequested, input...),
	}
	f.dispatcher = evaluator.NewDispatcher(f.browser, f.table, f.conv, f.io,
		evaluator.NewArtifacts(f.cfg.Evaluation(), logger), observability.NewMetrics(), logger)
	t.Cleanup(func() { f.browser.AssertExpectations(t) })
	return f
}

// loadStorefront navigates to a page that highlights the storefront elements.
func (f *dispatchFixture) loadStorefront(t *testing.T) {
	t.Helper()
	f.browser.On("Navigate", mock.Anything, "https://example.com").Return(nil).Once()
	expectPageCapture(f.browser, storefront)
	res, err := f.dispatcher.Dispatch(context.Background(), []evaluator.Action{{Kind: evaluator.ActionURL, URL: "https://example.com"}})
	require.NoError(t, err)
	require.NotNil(t, res.Observation)
}

func (f *dispatchFixture) userTexts() []string {
	var out []string
	for _, m := range f.conv.Messages() {
		if m.Role == schemas.RoleUser && !m.HasImage() {
			out = append(out, m.Text)
		}
	}
	return out
}

func TestDispatch_URL(t *testing.T) {
	f := newDispatchFixture(t, 4)
	f.loadStorefront(t)

	f.browser.AssertNumberOfCalls(t, "Screenshot", 2)
	f.browser.AssertNumberOfCalls(t, "Highlight", 1)
	assert.Equal(t, storefront, f.dispatcher.Elements())
	assert.Equal(t, evaluator.StateAwaitingAction, f.dispatcher.State())

	for name, want := range map[string][]byte{
		"screenshot.png":             plainShot.Data,
		"screenshot_highlighted.png": highlightedShot.Data,
	} {
		got, err := os.ReadFile(filepath.Join(f.cfg.Evaluation().ScreenshotDir, name))
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

func TestDispatch_URL_NavigationFailure(t *testing.T) {
	f := newDispatchFixture(t, 4)
	f.browser.On("Navigate", mock.Anything, "https://down.example").Return(errors.New("net::ERR_NAME_NOT_RESOLVED")).Once()

	res, err := f.dispatcher.Dispatch(context.Background(), []evaluator.Action{{Kind: evaluator.ActionURL, URL: "https://down.example"}})
	require.NoError(t, err, "navigation failures are recoverable")
	assert.Nil(t, res.Observation)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, evaluator.ErrCodeNavigationError, res.Outcomes[0].ErrorCode)
	assert.Equal(t, []string{"ERROR: I was unable to navigate to https://down.example: net::ERR_NAME_NOT_RESOLVED"}, f.userTexts())
	f.browser.AssertNotCalled(t, "Screenshot", mock.Anything)
}

func TestDispatch_ClickResolvesLabel(t *testing.T) {
	f := newDispatchFixture(t, 4)
	f.loadStorefront(t)

	f.browser.On("Click", mock.Anything, "vid-1").Return(nil).Once()
	f.browser.On("Screenshot", mock.Anything).Return(plainShot, nil).Once()
	f.browser.On("Highlight", mock.Anything).Return(storefront[:2], nil).Once()
	f.browser.On("Screenshot", mock.Anything).Return(highlightedShot, nil).Once()

	res, err := f.dispatcher.Dispatch(context.Background(), []evaluator.Action{{Kind: evaluator.ActionClick, Target: "Shop Now"}})
	require.NoError(t, err)
	require.NotNil(t, res.Observation)

	f.browser.AssertNumberOfCalls(t, "Click", 1)
	f.browser.AssertNotCalled(t, "Click", mock.Anything, "vid-2")
	f.browser.AssertNotCalled(t, "Click", mock.Anything, "vid-3")
	assert.Len(t, f.dispatcher.Elements(), 2, "element set is replaced after the click")

	_, err = os.Stat(filepath.Join(f.cfg.Evaluation().ScreenshotDir, "screenshot_highlighted_after_click.png"))
	assert.NoError(t, err)
}

func TestDispatch_ClickNonexistent(t *testing.T) {
	f := newDispatchFixture(t, 4)
	f.loadStorefront(t)
	before := f.conv.Len()

	res, err := f.dispatcher.Dispatch(context.Background(), []evaluator.Action{{Kind: evaluator.ActionClick, Target: "Nonexistent"}})
	require.NoError(t, err)
	assert.Nil(t, res.Observation)
	assert.Equal(t, evaluator.ErrCodeElementNotFound, res.Outcomes[0].ErrorCode)

	f.browser.AssertNotCalled(t, "Click", mock.Anything, mock.Anything)
	require.Equal(t, before+1, f.conv.Len())
	assert.Equal(t, "ERROR: I was unable to click that element", f.conv.Last().Text)
	assert.Equal(t, schemas.RoleUser, f.conv.Last().Role)
	assert.Contains(t, f.io.Printed(), "ERROR: I was unable to click that element")
}

func TestDispatch_ClickBrowserFailure(t *testing.T) {
	f := newDispatchFixture(t, 4)
	f.loadStorefront(t)
	f.browser.On("Click", mock.Anything, "vid-2").Return(errors.New("element detached")).Once()

	res, err := f.dispatcher.Dispatch(context.Background(), []evaluator.Action{{Kind: evaluator.ActionClick, Target: "vid-2"}})
	require.NoError(t, err)
	assert.Equal(t, evaluator.ErrCodeClickFailed, res.Outcomes[0].ErrorCode)
	assert.Equal(t, "ERROR: I was unable to click that element", f.conv.Last().Text)
}

func TestDispatch_ScoreUpdatesOnlyThatRow(t *testing.T) {
	f := newDispatchFixture(t, 4, "")
	before := f.table.Records()

	res, err := f.dispatcher.Dispatch(context.Background(), []evaluator.Action{{
		Kind: evaluator.ActionScore, RowIndex: 3, Score: 2, ScoringNotes: "ok", RelevantLink: "http://x/pdp",
	}})
	require.NoError(t, err)
	assert.Equal(t, evaluator.StatusOK, res.Outcomes[0].Status)

	want := before
	want[4][5], want[4][6], want[4][7] = "2", "ok", "http://x/pdp"
	if diff := cmp.Diff(want, f.table.Records()); diff != "" {
		t.Errorf("unexpected table (-want +got):\n%s", diff)
	}
	assert.Equal(t, "Score 2 recorded for framework_row_index 3. Continue with the evaluation.", f.conv.Last().Text)
	assert.Equal(t, 0, f.io.Remaining())
	f.browser.AssertNotCalled(t, "ClipScreenshot", mock.Anything, mock.Anything)
}

func TestDispatch_ScoreFollowUpIsForwarded(t *testing.T) {
	f := newDispatchFixture(t, 2, "Also check the mobile menu")

	_, err := f.dispatcher.Dispatch(context.Background(), []evaluator.Action{{Kind: evaluator.ActionScore, RowIndex: 1, Score: 4}})
	require.NoError(t, err)
	assert.Equal(t, "Also check the mobile menu", f.conv.Last().Text)
}

func TestDispatch_ScoreOutOfRange(t *testing.T) {
	f := newDispatchFixture(t, 10)
	before := f.table.Records()

	res, err := f.dispatcher.Dispatch(context.Background(), []evaluator.Action{{
		Kind: evaluator.ActionScore, RowIndex: 999, Score: 2, ScoringNotes: "ok", RelevantLink: "http://x/pdp",
	}})
	require.NoError(t, err)
	assert.Equal(t, evaluator.ErrCodeRowOutOfRange, res.Outcomes[0].ErrorCode)
	assert.ErrorIs(t, res.Outcomes[0].Err, framework.ErrRowOutOfRange)
	assert.Empty(t, cmp.Diff(before, f.table.Records()), "table must not change")
	assert.Equal(t, "ERROR: framework_row_index 999 is out of range (0-9)", f.conv.Last().Text)
}

func TestDispatch_ScoreInvalidValue(t *testing.T) {
	f := newDispatchFixture(t, 3)
	res, err := f.dispatcher.Dispatch(context.Background(), []evaluator.Action{{Kind: evaluator.ActionScore, RowIndex: 1, Score: 7}})
	require.NoError(t, err)
	assert.Equal(t, evaluator.ErrCodeInvalidParameters, res.Outcomes[0].ErrorCode)
	assert.Contains(t, f.conv.Last().Text, "score 7 for framework_row_index 1 is invalid")
	assert.Empty(t, f.table.Updated())
}

func TestDispatch_ScoreWithEvidence(t *testing.T) {
	f := newDispatchFixture(t, 3, "n", "no")
	region := schemas.Region{X: 0, Y: 100, Width: 400, Height: 300}
	f.browser.On("ClipScreenshot", mock.Anything, region).Return(evidenceShot, nil).Twice()

	score := evaluator.Action{Kind: evaluator.ActionScore, RowIndex: 2, Score: 3, Region: &region}
	_, err := f.dispatcher.Dispatch(context.Background(), []evaluator.Action{score})
	require.NoError(t, err)

	// A later score for the same row overwrites the evidence.
	score.Score = 4
	_, err = f.dispatcher.Dispatch(context.Background(), []evaluator.Action{score})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(f.cfg.Evaluation().EvidenceDir, "row-2.png"))
	require.NoError(t, err)
	assert.Equal(t, evidenceShot.Data, got)

	row, err := f.table.Row(2)
	require.NoError(t, err)
	assert.Equal(t, "4", row.Score)
}

func TestDispatch_ScoreEvidenceFailureKeepsScore(t *testing.T) {
	f := newDispatchFixture(t, 3, "")
	region := schemas.Region{X: 0, Y: 0, Width: 10, Height: 10}
	f.browser.On("ClipScreenshot", mock.Anything, region).Return(schemas.Image{}, errors.New("capture failed")).Once()

	res, err := f.dispatcher.Dispatch(context.Background(), []evaluator.Action{{Kind: evaluator.ActionScore, RowIndex: 0, Score: 1, Region: &region}})
	require.NoError(t, err)
	assert.Equal(t, evaluator.StatusOK, res.Outcomes[0].Status)
	assert.Equal(t, evaluator.ErrCodeEvidenceFailed, res.Outcomes[0].ErrorCode)
	assert.Contains(t, f.userTexts(), "ERROR: I recorded the score for framework_row_index 0 but was unable to capture the evidence region: capture failed")
	assert.Equal(t, []int{0}, f.table.Updated())
}

func TestDispatch_StaleActionsAfterNavigation(t *testing.T) {
	f := newDispatchFixture(t, 3, "")
	f.browser.On("Navigate", mock.Anything, "https://example.com").Return(nil).Once()
	expectPageCapture(f.browser, storefront)

	region := schemas.Region{X: 0, Y: 0, Width: 10, Height: 10}
	res, err := f.dispatcher.Dispatch(context.Background(), []evaluator.Action{
		{Kind: evaluator.ActionURL, URL: "https://example.com"},
		{Kind: evaluator.ActionClick, Target: "Shop Now"},
		{Kind: evaluator.ActionURL, URL: "https://example.com/other"},
		{Kind: evaluator.ActionScore, RowIndex: 0, Score: 2, Region: &region},
		{Kind: evaluator.ActionScore, RowIndex: 1, Score: 3},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Executed())
	assert.Equal(t, 3, res.Skipped())
	assert.Equal(t, evaluator.ErrCodeStaleAction, res.Outcomes[1].ErrorCode)
	f.browser.AssertNotCalled(t, "Click", mock.Anything, mock.Anything)
	f.browser.AssertNotCalled(t, "ClipScreenshot", mock.Anything, mock.Anything)
	f.browser.AssertNumberOfCalls(t, "Navigate", 1)
	assert.Equal(t, []int{1}, f.table.Updated())
	assert.Contains(t, f.conv.Last().Text, "3 action(s) in your last reply came after the page changed")
}

func TestDispatch_FailedNavigationDoesNotMakeLaterActionsStale(t *testing.T) {
	f := newDispatchFixture(t, 3)
	f.browser.On("Navigate", mock.Anything, "https://a.example").Return(errors.New("timeout")).Once()
	f.browser.On("Navigate", mock.Anything, "https://b.example").Return(nil).Once()
	expectPageCapture(f.browser, nil)

	res, err := f.dispatcher.Dispatch(context.Background(), []evaluator.Action{
		{Kind: evaluator.ActionURL, URL: "https://a.example"},
		{Kind: evaluator.ActionURL, URL: "https://b.example"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Executed())
	assert.NotNil(t, res.Observation)
}

func TestDispatch_UserInputNeeded(t *testing.T) {
	f := newDispatchFixture(t, 1, "I logged in for you")
	res, err := f.dispatcher.Dispatch(context.Background(), []evaluator.Action{{Kind: evaluator.ActionUserInput}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Executed())
	assert.Equal(t, "I logged in for you", f.conv.Last().Text)
}

func TestDispatch_ExitDuringUserInput(t *testing.T) {
	f := newDispatchFixture(t, 1)
	_, err := f.dispatcher.Dispatch(context.Background(), []evaluator.Action{
		{Kind: evaluator.ActionUserInput},
		{Kind: evaluator.ActionScore, RowIndex: 0, Score: 1},
	})
	assert.ErrorIs(t, err, terminal.ErrExitRequested)
	assert.Empty(t, f.table.Updated(), "actions after the exit do not run")
}

func TestDispatch_InvalidActionIsReported(t *testing.T) {
	f := newDispatchFixture(t, 1)
	actions := evaluator.ParseActions(`{"score_ready": "true", "score": 2}`, zaptest.NewLogger(t))

	res, err := f.dispatcher.Dispatch(context.Background(), actions)
	require.NoError(t, err)
	assert.Equal(t, evaluator.ErrCodeInvalidParameters, res.Outcomes[0].ErrorCode)
	assert.Equal(t, "ERROR: your score_ready action could not be used: framework_row_index is missing", f.conv.Last().Text)
}

func TestDispatch_CancelledContext(t *testing.T) {
	f := newDispatchFixture(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.browser.On("Navigate", mock.Anything, "https://example.com").Return(context.Canceled).Once()

	_, err := f.dispatcher.Dispatch(ctx, []evaluator.Action{{Kind: evaluator.ActionURL, URL: "https://example.com"}})
	assert.ErrorIs(t, err, context.Canceled)
}
