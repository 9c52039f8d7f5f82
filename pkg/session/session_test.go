package session_test

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/walteh/livetmpl/pkg/buffer"
	"github.com/walteh/livetmpl/pkg/choice"
	"github.com/walteh/livetmpl/pkg/diff"
	"github.com/walteh/livetmpl/pkg/expr"
	"github.com/walteh/livetmpl/pkg/macro"
	"github.com/walteh/livetmpl/pkg/postprocess"
	"github.com/walteh/livetmpl/pkg/session"
	"github.com/walteh/livetmpl/pkg/template"
)

func testContext(t *testing.T) context.Context {
	return zerolog.New(zerolog.NewTestWriter(t)).WithContext(context.Background())
}

func mustTemplate(t *testing.T, key, body string, vars ...template.Variable) *template.Template {
	t.Helper()
	p, err := expr.NewParser(macro.Builtins(), 0)
	require.NoError(t, err)
	tmpl := template.New(key, body)
	for _, v := range vars {
		tmpl.AddVariable(v)
	}
	require.NoError(t, tmpl.Parse(p))
	return tmpl
}

func forLoop(t *testing.T) *template.Template {
	return mustTemplate(t, "fori", "for (int $I$ = 0; $I$ < $N$; $I$++) {\n  $END$\n}",
		template.Variable{Name: "I", Default: `"i"`, AlwaysStop: true},
		template.Variable{Name: "N", AlwaysStop: true},
	)
}

func requireBuffer(t *testing.T, want string, host *buffer.Memory) {
	t.Helper()
	require.Empty(t, diff.Text(want, host.String()), "buffer mismatch")
}

type mockListener struct {
	mock.Mock
}

var _ session.Listener = (*mockListener)(nil)

func (m *mockListener) WaitingForInput(s *session.Session) { m.Called(s) }

func (m *mockListener) CurrentVariableChanged(s *session.Session, oldIndex, newIndex int) {
	m.Called(s, oldIndex, newIndex)
}

func (m *mockListener) BeforeFinished(s *session.Session, brokenOff bool) { m.Called(s, brokenOff) }

func (m *mockListener) TemplateFinished(s *session.Session, brokenOff bool) { m.Called(s, brokenOff) }

func (m *mockListener) TemplateCancelled(s *session.Session) { m.Called(s) }

func TestForLoopWalkthrough(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemory("")
	s := session.New(host, forLoop(t))
	require.NoError(t, s.Start(ctx))

	requireBuffer(t, "for (int <selection>i</selection><caret> = 0; i < ; i++) {\n  \n}", host)
	name, idx := s.CurrentVariable()
	assert.Equal(t, "I", name)
	assert.Equal(t, 0, idx)

	require.NoError(t, host.Type("idx"))
	requireBuffer(t, "for (int idx<caret> = 0; idx < ; idx++) {\n  \n}", host)

	s.NextTab(ctx)
	requireBuffer(t, "for (int idx = 0; idx < <caret>; idx++) {\n  \n}", host)

	require.NoError(t, host.Type("count"))
	s.NextTab(ctx)

	requireBuffer(t, "for (int idx = 0; idx < count; idx++) {\n  <caret>\n}", host)
	assert.Equal(t, session.Finished, s.State())
	assert.True(t, s.IsFinished())
	assert.NoError(t, s.Err())
	assert.Equal(t, 0, host.TrackedRanges())

	v, ok := s.VariableValue("I")
	require.True(t, ok)
	assert.Equal(t, "idx", v)
	v, ok = s.VariableValue("N")
	require.True(t, ok)
	assert.Equal(t, "count", v)
}

func TestPreviousTab(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemory("")
	s := session.New(host, forLoop(t))
	require.NoError(t, s.Start(ctx))

	require.NoError(t, host.Type("idx"))
	s.NextTab(ctx)
	s.PreviousTab(ctx)

	requireBuffer(t, "for (int <selection>idx</selection><caret> = 0; idx < ; idx++) {\n  \n}", host)
	name, idx := s.CurrentVariable()
	assert.Equal(t, "I", name)
	assert.Equal(t, 0, idx)

	// nothing before the first stop
	s.PreviousTab(ctx)
	_, idx = s.CurrentVariable()
	assert.Equal(t, 0, idx)
}

func TestGotoEnd(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemory("")

	var brokenOff []bool
	s := session.New(host, forLoop(t), session.WithListener(session.ListenerFuncs{
		OnFinished: func(_ *session.Session, b bool) { brokenOff = append(brokenOff, b) },
	}))
	require.NoError(t, s.Start(ctx))
	s.GotoEnd(ctx)

	requireBuffer(t, "for (int i = 0; i < ; i++) {\n  <caret>\n}", host)
	assert.Equal(t, session.Finished, s.State())
	assert.Equal(t, []bool{true}, brokenOff)
}

func TestReferenceChain(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemory("")
	tmpl := mustTemplate(t, "chain", "$A$ -> $B$",
		template.Variable{Name: "A", Expression: `"x"`, AlwaysStop: true},
		template.Variable{Name: "B", Expression: "A"},
	)

	l := &mockListener{}
	l.On("WaitingForInput", mock.Anything).Once()
	l.On("CurrentVariableChanged", mock.Anything, -1, 0).Once()
	l.On("BeforeFinished", mock.Anything, false).Once()
	l.On("CurrentVariableChanged", mock.Anything, 0, -1).Once()
	l.On("TemplateFinished", mock.Anything, false).Once()

	s := session.New(host, tmpl, session.WithListener(l))
	require.NoError(t, s.Start(ctx))
	requireBuffer(t, "<selection>x</selection><caret> -> x", host)

	v, _ := s.VariableValue("B")
	assert.Equal(t, "x", v)

	require.NoError(t, host.Type("y"))
	s.NextTab(ctx)

	requireBuffer(t, "y -> y<caret>", host)
	v, _ = s.VariableValue("B")
	assert.Equal(t, "y", v)

	l.AssertExpectations(t)
	l.AssertNotCalled(t, "TemplateCancelled", mock.Anything)
}

func TestEmptyMacroFallsBackToDefault(t *testing.T) {
	tests := []struct {
		name       string
		alwaysStop bool
		want       string
		state      session.State
	}{
		{name: "skipped", alwaysStop: false, want: "val fallback end<caret>", state: session.Finished},
		{name: "always stop", alwaysStop: true, want: "val <selection>fallback</selection><caret> end", state: session.Active},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext(t)
			host := buffer.NewMemory("")
			tmpl := mustTemplate(t, "fallback", "val $V$ end",
				template.Variable{Name: "V", Expression: "enum()", Default: `"fallback"`, AlwaysStop: tt.alwaysStop},
			)
			s := session.New(host, tmpl)
			require.NoError(t, s.Start(ctx))

			requireBuffer(t, tt.want, host)
			assert.Equal(t, tt.state, s.State())
		})
	}
}

func TestTabOrder(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemory("")
	tmpl := mustTemplate(t, "order", "$A$ $B$ $C$",
		template.Variable{Name: "A", Expression: `"a"`, AlwaysStop: true},
		template.Variable{Name: "B", Expression: `"b"`},
	)
	s := session.New(host, tmpl)
	require.NoError(t, s.Start(ctx))

	name, _ := s.CurrentVariable()
	assert.Equal(t, "A", name)

	s.NextTab(ctx)
	name, _ = s.CurrentVariable()
	assert.Equal(t, "C", name)
	requireBuffer(t, "a b <caret>", host)
}

func choiceTemplate(t *testing.T) *template.Template {
	return mustTemplate(t, "choice", "x = $V$;$END$",
		template.Variable{Name: "V", Expression: `enum("a", "b", "c")`},
	)
}

func TestChoice(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemory("")
	provider := &choice.Deferred{}
	s := session.New(host, choiceTemplate(t), session.WithChoiceProvider(provider))
	require.NoError(t, s.Start(ctx))

	assert.Equal(t, session.AwaitingChoice, s.State())
	requireBuffer(t, "x = <selection>a</selection><caret>;", host)

	req, ok := provider.Pending()
	require.True(t, ok)
	assert.Equal(t, "V", req.Variable)
	assert.Len(t, req.Candidates, 3)
	assert.Equal(t, 0, req.Preselected)

	s.NextTab(ctx)
	s.GotoEnd(ctx)
	assert.Equal(t, session.AwaitingChoice, s.State())
	requireBuffer(t, "x = <selection>a</selection><caret>;", host)

	require.True(t, provider.Pick(1))
	assert.Equal(t, session.Finished, s.State())
	requireBuffer(t, "x = b;<caret>", host)
}

func TestChoiceDismissed(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemory("")
	provider := &choice.Deferred{}
	s := session.New(host, choiceTemplate(t), session.WithChoiceProvider(provider))
	require.NoError(t, s.Start(ctx))

	require.True(t, provider.Dismiss())
	assert.Equal(t, session.Active, s.State())
	requireBuffer(t, "x = <selection>a</selection><caret>;", host)

	s.NextTab(ctx)
	requireBuffer(t, "x = a;<caret>", host)
}

func TestChoiceWithoutAdvance(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemory("")
	s := session.New(host, choiceTemplate(t),
		session.WithChoiceProvider(choice.Scripted{Values: map[string]string{"V": "c"}}),
		session.WithAdvanceOnChoice(false),
	)
	require.NoError(t, s.Start(ctx))

	assert.Equal(t, session.Active, s.State())
	v, _ := s.VariableValue("V")
	assert.Equal(t, "c", v)
}

func TestLateChoiceIsIgnored(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemory("")

	var resolve func(choice.Choice)
	provider := choice.ProviderFunc(func(_ context.Context, _ choice.Request, r func(choice.Choice)) {
		resolve = r
	})
	s := session.New(host, choiceTemplate(t), session.WithChoiceProvider(provider))
	require.NoError(t, s.Start(ctx))
	require.NotNil(t, resolve)

	resolve(choice.Choice{Index: 2})
	requireBuffer(t, "x = c;<caret>", host)

	resolve(choice.Choice{Index: 1})
	requireBuffer(t, "x = c;<caret>", host)
	assert.Equal(t, session.Finished, s.State())
}

func TestLiteralTemplate(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "no end", body: "hello world", want: "hello world<caret>"},
		{name: "end", body: "hello $END$world", want: "hello <caret>world"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext(t)
			host := buffer.NewMemory("")
			finished := 0
			s := session.New(host, mustTemplate(t, "lit", tt.body))
			s.Subscribe(session.ListenerFuncs{OnFinished: func(*session.Session, bool) { finished++ }})
			require.NoError(t, s.Start(ctx))

			requireBuffer(t, tt.want, host)
			assert.Equal(t, session.Finished, s.State())
			assert.Equal(t, 1, finished)
		})
	}
}

func TestEditOutsideSegmentCancels(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemoryWithCaret("// loop\n<caret>")
	cancelled := 0
	s := session.New(host, forLoop(t), session.WithListener(session.ListenerFuncs{
		OnCancelled: func(*session.Session) { cancelled++ },
	}))
	require.NoError(t, s.Start(ctx))

	require.NoError(t, host.InsertText(0, "x"))

	assert.Equal(t, session.Cancelled, s.State())
	assert.True(t, s.IsFinished())
	assert.NoError(t, s.Err())
	assert.Equal(t, 1, cancelled)
	assert.Equal(t, 0, host.TrackedRanges())
	assert.Equal(t, "x// loop\nfor (int i = 0; i < ; i++) {\n  \n}", host.Text())

	// no more writes once cancelled
	require.NoError(t, host.InsertText(len("x// loop\nfor (int "), "q"))
	assert.Equal(t, "x// loop\nfor (int qi = 0; i < ; i++) {\n  \n}", host.Text())
}

func TestUndoStartCancels(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemoryWithCaret("a <caret>b")
	cancelled := 0
	s := session.New(host, mustTemplate(t, "call", "foo($X$)"), session.WithListener(session.ListenerFuncs{
		OnCancelled: func(*session.Session) { cancelled++ },
	}))
	require.NoError(t, s.Start(ctx))
	requireBuffer(t, "a foo(<caret>)b", host)

	require.True(t, host.Undo())
	requireBuffer(t, "a <caret>b", host)
	assert.Equal(t, session.Cancelled, s.State())
	assert.Equal(t, 1, cancelled)
	assert.Equal(t, 0, host.TrackedRanges())
}

func TestCyclicReferencesCancel(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemory("")
	tmpl := mustTemplate(t, "cycle", "$A$ $B$",
		template.Variable{Name: "A", Expression: `concat(B, "x")`},
		template.Variable{Name: "B", Expression: `concat(A, "y")`},
	)
	s := session.New(host, tmpl)
	require.NoError(t, s.Start(ctx))

	assert.Equal(t, session.Cancelled, s.State())
	require.ErrorIs(t, s.Err(), session.ErrRecomputeDiverged)
	assert.Equal(t, 0, host.TrackedRanges())
}

func TestPredefinedValues(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemory("")
	s := session.New(host, forLoop(t), session.WithPredefined(map[string]string{"N": "10"}))
	require.NoError(t, s.Start(ctx))

	requireBuffer(t, "for (int <selection>i</selection><caret> = 0; i < 10; i++) {\n  \n}", host)

	// N has no expression, so it still asks for input with its predefined value
	s.NextTab(ctx)
	requireBuffer(t, "for (int i = 0; i < <selection>10</selection><caret>; i++) {\n  \n}", host)
	name, _ := s.CurrentVariable()
	assert.Equal(t, "N", name)

	require.NoError(t, host.Type("20"))
	s.NextTab(ctx)
	assert.Equal(t, session.Finished, s.State())
	requireBuffer(t, "for (int i = 0; i < 20; i++) {\n  <caret>\n}", host)

	v, ok := s.VariableValue("N")
	require.True(t, ok)
	assert.Equal(t, "20", v)
}

func TestPredefinedValueSkipsComputedStop(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemory("")
	tmpl := mustTemplate(t, "pre", "$A$ $B$",
		template.Variable{Name: "A", Expression: `"computed"`, AlwaysStop: true},
	)
	s := session.New(host, tmpl, session.WithPredefined(map[string]string{"A": "pre"}))
	require.NoError(t, s.Start(ctx))

	requireBuffer(t, "pre <caret>", host)
	name, _ := s.CurrentVariable()
	assert.Equal(t, "B", name)
}

func TestVariableProcessorVeto(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemory("")
	s := session.New(host, mustTemplate(t, "veto", "$A$ $B$"), session.WithVariableProcessor(func(_, value string) bool {
		return value != "stop"
	}))
	require.NoError(t, s.Start(ctx))

	require.NoError(t, host.Type("go"))
	assert.Equal(t, session.Active, s.State())
	require.NoError(t, host.Backspace())
	require.NoError(t, host.Backspace())

	require.NoError(t, host.Type("stop"))
	assert.Equal(t, session.Finished, s.State())
	assert.Equal(t, "stop ", host.Text())
	assert.Equal(t, 0, host.TrackedRanges())
}

func TestSelectionTemplate(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemory("\tfoo()")
	host.SetSelection(1, 6)
	host.MoveCaret(6)

	tmpl := mustTemplate(t, "surround", "if (x) {\n\t$SELECTION$\n}\n$END$")
	s := session.New(host, tmpl)
	require.NoError(t, s.Start(ctx))

	assert.Equal(t, session.Finished, s.State())
	requireBuffer(t, "\tif (x) {\n\t\tfoo()\n\t}\n<caret>", host)

	v, ok := s.VariableValue(template.Selection)
	require.True(t, ok)
	assert.Equal(t, "foo()", v)
}

func TestInlineTemplate(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemoryWithCaret("<caret>ab")
	tmpl := mustTemplate(t, "inline", "ab$X$", template.Variable{Name: "X", Expression: `"z"`})
	tmpl.Inline = true

	s := session.New(host, tmpl)
	require.NoError(t, s.Start(ctx))

	assert.Equal(t, session.Finished, s.State())
	requireBuffer(t, "<caret>abz", host)
}

func TestStartErrors(t *testing.T) {
	ctx := testContext(t)

	unparsed := template.New("raw", "$A$")
	notified := 0
	s := session.New(buffer.NewMemory(""), unparsed, session.WithListener(session.ListenerFuncs{
		OnCancelled: func(*session.Session) { notified++ },
		OnFinished:  func(*session.Session, bool) { notified++ },
	}))
	require.ErrorIs(t, s.Start(ctx), template.ErrNotParsed)
	assert.Equal(t, session.Cancelled, s.State())
	assert.Equal(t, 0, notified)

	s = session.New(buffer.NewMemory(""), mustTemplate(t, "lit", "x"))
	require.NoError(t, s.Start(ctx))
	require.ErrorIs(t, s.Start(ctx), session.ErrAlreadyStarted)
}

func TestListenerPanicDoesNotStopOthers(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemory("")
	s := session.New(host, mustTemplate(t, "lit", "x"))

	finished := 0
	s.Subscribe(session.ListenerFuncs{OnFinished: func(*session.Session, bool) { panic("boom") }})
	remove := s.Subscribe(session.ListenerFuncs{OnFinished: func(*session.Session, bool) { finished += 10 }})
	s.Subscribe(session.ListenerFuncs{OnFinished: func(*session.Session, bool) { finished++ }})
	remove()

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, 1, finished)
	assert.Equal(t, session.Finished, s.State())
}

type mapLibrary map[string]*template.Template

func (me mapLibrary) Lookup(key string) (*template.Template, bool) {
	t, ok := me[key]
	return t, ok
}

func TestManager(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemory("")
	m := session.NewManager(host)
	assert.Nil(t, m.Current())

	first, err := m.Start(ctx, mustTemplate(t, "bang", "$A$!"))
	require.NoError(t, err)
	assert.Same(t, first, m.Current())

	second, err := m.Start(ctx, mustTemplate(t, "brackets", "[$B$]"))
	require.NoError(t, err)
	assert.Equal(t, session.Cancelled, first.State())
	assert.Same(t, second, m.Current())
	requireBuffer(t, "[<caret>]!", host)

	second.Cancel(ctx)
	assert.Nil(t, m.Current())
}

func TestExpandAbbreviation(t *testing.T) {
	ctx := testContext(t)
	lib := mapLibrary{"fori": forLoop(t)}

	host := buffer.NewMemoryWithCaret("x := nope<caret>")
	s, ok, err := session.NewManager(host).ExpandAbbreviation(ctx, lib)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, s)

	host = buffer.NewMemoryWithCaret("x := fori<caret>")
	s, ok, err = session.NewManager(host).ExpandAbbreviation(ctx, lib)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.Active, s.State())
	assert.True(t, strings.HasPrefix(host.String(), "x := for (int <selection>i</selection><caret>"))
}

type replaceAll struct{ text string }

func (replaceAll) Name() string { return "replace-all" }

func (replaceAll) Applies(*template.Template) bool { return true }

func (me replaceAll) Process(_ context.Context, req postprocess.Request) error {
	return req.Host.ReplaceText(0, req.Host.Len(), me.text)
}

func TestPostProcessorDestroyingSegmentsCancels(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemory("")
	cancelled := 0
	s := session.New(host, mustTemplate(t, "call", "foo($X$)"),
		session.WithProcessors(replaceAll{text: "gone"}),
		session.WithListener(session.ListenerFuncs{
			OnCancelled: func(*session.Session) { cancelled++ },
		}),
	)
	require.NoError(t, s.Start(ctx))

	assert.Equal(t, session.Cancelled, s.State())
	require.ErrorIs(t, s.Err(), session.ErrSegmentsInvalid)
	assert.Equal(t, 1, cancelled)
	assert.Equal(t, "gone", host.Text())
	assert.Equal(t, 0, host.TrackedRanges())
}

type actionMacro struct {
	runs *int
}

func (actionMacro) Name() string { return "act" }

func (me actionMacro) Evaluate(context.Context, []expr.Result, expr.Context, expr.Mode) (expr.Result, error) {
	return expr.ActionResult{Display: "shown", Run: func(context.Context, expr.Target) error {
		*me.runs++
		return nil
	}}, nil
}

func TestActionResultsAndSkipOnStart(t *testing.T) {
	ctx := testContext(t)
	runs := 0

	reg := macro.Builtins()
	require.NoError(t, reg.Register(actionMacro{runs: &runs}))
	p, err := expr.NewParser(reg, 0)
	require.NoError(t, err)
	tmpl := template.New("act", "$FIRST$ $X$").
		AddVariable(template.Variable{Name: "FIRST", AlwaysStop: true, SkipOnStart: true}).
		AddVariable(template.Variable{Name: "X", Expression: "act()", AlwaysStop: true})
	require.NoError(t, tmpl.Parse(p))

	host := buffer.NewMemory("")
	s := session.New(host, tmpl)
	require.NoError(t, s.Start(ctx))

	// written once during the full recomputation, run again on focus
	requireBuffer(t, " <selection>shown</selection><caret>", host)
	name, _ := s.CurrentVariable()
	assert.Equal(t, "X", name)
	assert.Equal(t, 2, runs)

	// skip-on-start only applies to the first stop
	s.PreviousTab(ctx)
	name, _ = s.CurrentVariable()
	assert.Equal(t, "FIRST", name)
	requireBuffer(t, "<caret> shown", host)
	assert.Equal(t, 2, runs)
}

func TestQuickModeKeepsValues(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemory("")
	tmpl := mustTemplate(t, "keep", "$A$ $B$",
		template.Variable{Name: "A", AlwaysStop: true},
		template.Variable{Name: "B", Expression: "A", Default: `"dflt"`},
	)
	s := session.New(host, tmpl)
	require.NoError(t, s.Start(ctx))
	requireBuffer(t, "<caret> dflt", host)

	require.NoError(t, host.Type("y"))
	assert.Equal(t, "y y", host.Text())

	// while typing, an empty reference keeps the last value
	require.NoError(t, host.Backspace())
	assert.Equal(t, " y", host.Text())

	// the full recomputation on commit falls back to the default
	s.NextTab(ctx)
	assert.Equal(t, session.Finished, s.State())
	assert.Equal(t, " dflt", host.Text())
}

type dropSpaces struct{}

func (dropSpaces) Name() string { return "drop-spaces" }

func (dropSpaces) Applies(*template.Template) bool { return true }

func (dropSpaces) Process(_ context.Context, req postprocess.Request) error {
	text := req.Host.Text()
	for i := req.Range.End - 1; i >= req.Range.Start; i-- {
		if text[i] != ' ' {
			continue
		}
		if err := req.Host.ReplaceText(i, i+1, ""); err != nil {
			return err
		}
	}
	return nil
}

func TestEmptyValueNextToFocusedSegmentIsNotWritten(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemory("")
	tmpl := mustTemplate(t, "touching", "$A$ $B$",
		template.Variable{Name: "A", AlwaysStop: true},
		template.Variable{Name: "B", Expression: "A", Default: `"dflt"`},
	)
	s := session.New(host, tmpl, session.WithProcessors(dropSpaces{}))
	require.NoError(t, s.Start(ctx))

	// the processor removed the separator, so A and B now touch
	requireBuffer(t, "<caret>dflt", host)

	require.NoError(t, host.InsertText(0, "x"))
	assert.Equal(t, "xx", host.Text())
	require.NoError(t, host.DeleteText(0, 1))
	assert.Equal(t, "x", host.Text())

	s.NextTab(ctx)
	assert.Equal(t, session.Finished, s.State())
	assert.Equal(t, "x", host.Text())
	v, ok := s.VariableValue("B")
	require.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestUndoKeepsOccurrencesInSync(t *testing.T) {
	ctx := testContext(t)
	host := buffer.NewMemory("")
	s := session.New(host, forLoop(t))
	require.NoError(t, s.Start(ctx))

	step, ok := host.LastUndoStep()
	require.True(t, ok)
	assert.Equal(t, "expand fori", step.Name)

	require.NoError(t, host.Type("idx"))
	assert.Equal(t, "for (int idx = 0; idx < ; idx++) {\n  \n}", host.Text())

	step, ok = host.LastUndoStep()
	require.True(t, ok)
	assert.Equal(t, "edit", step.Name)
	assert.Equal(t, 3, step.Changes, "the typed text and both mirrored occurrences")

	require.True(t, host.Undo())
	assert.Equal(t, "for (int i = 0; i < ; i++) {\n  \n}", host.Text())
	assert.Equal(t, session.Active, s.State())
}
