package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"script-executor/internal/engine"
)

// fakeEngine splits on semicolons and understands a tiny command language:
//
//	print X  value X, shown in transcripts
//	let X    declaration with initializer X
//	tmp X    temporary expression with value X
//	decl     declaration without a value
//	bad      rejected unit
//	two      two declarations from one unit
//	boom     engine failure
type fakeEngine struct {
	evals  []string
	closed bool
}

func (f *fakeEngine) AnalyzeCompletion(src string) engine.Completion {
	i := strings.IndexByte(src, ';')
	if i < 0 {
		return engine.Completion{Remainder: src}
	}
	return engine.Completion{Complete: true, Unit: src[:i+1], Remainder: src[i+1:]}
}

func (f *fakeEngine) Eval(unit string) ([]engine.Event, error) {
	f.evals = append(f.evals, unit)
	cmd, arg, _ := strings.Cut(strings.TrimSuffix(unit, ";"), " ")
	switch cmd {
	case "print":
		return []engine.Event{{Source: unit, Value: arg, SubKind: engine.SubKindVarValue}}, nil
	case "let":
		return []engine.Event{{Source: unit, Value: arg, SubKind: engine.SubKindVarDeclInit}}, nil
	case "tmp":
		return []engine.Event{{Source: unit, Value: arg, SubKind: engine.SubKindTempExpression}}, nil
	case "decl":
		return []engine.Event{{Source: unit, SubKind: engine.SubKindFuncDecl}}, nil
	case "bad":
		return []engine.Event{{Source: unit, Status: engine.StatusRejected, Diagnostics: []string{"nope"}}}, nil
	case "two":
		return []engine.Event{
			{Source: unit, Value: "1", SubKind: engine.SubKindAssignment},
			{Source: unit, Value: "2", SubKind: engine.SubKindAssignment},
		}, nil
	case "boom":
		return nil, errors.New("interpreter crashed")
	}
	return nil, nil
}

func (f *fakeEngine) Close() error {
	f.closed = true
	return nil
}

type fakeFactory struct {
	engines []*fakeEngine
}

func (ff *fakeFactory) New() (engine.Engine, error) {
	e := &fakeEngine{}
	ff.engines = append(ff.engines, e)
	return e, nil
}

func newTestExecutor(opts ...Option) (*Executor, *fakeFactory) {
	ff := &fakeFactory{}
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	return New(ff.New, opts...), ff
}

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.txt")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_WellFormedScriptHasNoFailures(t *testing.T) {
	x, _ := newTestExecutor()
	script := writeScript(t, "print a;\nlet 1;\ntmp 2;\nprint b;\n")

	if err := x.Run(context.Background(), script); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec, ok := x.Get(script)
	if !ok {
		t.Fatal("Get: record missing")
	}
	if rec.Len() != 4 {
		t.Errorf("Len() = %d, want 4", rec.Len())
	}
	if n := rec.Count(Failure); n != 0 {
		t.Errorf("Count(Failure) = %d, want 0", n)
	}
}

func TestRun_LastUnitRejected(t *testing.T) {
	x, _ := newTestExecutor()
	script := writeScript(t, "print a;\nprint b;\nbad;")

	if err := x.Run(context.Background(), script); err != nil {
		t.Fatalf("Run: %v", err)
	}

	last, ok := x.LastOutcome()
	if !ok || last != Failure {
		t.Errorf("LastOutcome() = %v, %v; want failure, true", last, ok)
	}
}

func TestRun_ScriptNotFound(t *testing.T) {
	x, ff := newTestExecutor()
	script := filepath.Join(t.TempDir(), "doesNotExist")

	err := x.Run(context.Background(), script)
	if err == nil {
		t.Fatal("expected error for missing script")
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false, want true", err)
	}
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Op != "read_script" {
		t.Errorf("error = %v, want RunError with op read_script", err)
	}
	if _, ok := x.Get(script); ok {
		t.Error("Get returned a record for a script that failed to load")
	}
	if _, ok := x.LastOutcome(); ok {
		t.Error("LastOutcome set although nothing was evaluated")
	}
	if len(ff.engines) != 0 {
		t.Errorf("created %d engines, want 0", len(ff.engines))
	}
}

func TestRun_OneFailureAmongValidUnits(t *testing.T) {
	x, _ := newTestExecutor()
	script := writeScript(t, "print a;\nlet 1;\nbad;\ndecl;\nprint b;\n")

	if err := x.Run(context.Background(), script); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec, _ := x.Get(script)
	if n := rec.Count(Failure); n != 1 {
		t.Errorf("Count(Failure) = %d, want 1", n)
	}
	if n := rec.Count(Warning); n != 1 {
		t.Errorf("Count(Warning) = %d, want 1", n)
	}
	if last, _ := x.LastOutcome(); last != Success {
		t.Errorf("LastOutcome() = %v, want success", last)
	}
}

func TestRun_RerunReplacesRecord(t *testing.T) {
	x, ff := newTestExecutor()
	script := writeScript(t, "print a;\ntwo;\nbad;\n")

	if err := x.Run(context.Background(), script); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	first, _ := x.Get(script)

	if err := x.Run(context.Background(), script); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	second, _ := x.Get(script)

	if second.Len() != first.Len() || second.Len() != 4 {
		t.Errorf("Len() after rerun = %d, want %d", second.Len(), first.Len())
	}
	if second.ID == first.ID {
		t.Error("rerun kept the previous run ID")
	}
	if len(ff.engines) != 2 {
		t.Errorf("created %d engines, want one per run", len(ff.engines))
	}
	for i, e := range ff.engines {
		if !e.closed {
			t.Errorf("engine %d not closed", i)
		}
	}
	if got := x.Scripts(); !cmp.Equal(got, []string{script}) {
		t.Errorf("Scripts() = %v, want [%s]", got, script)
	}
}

func TestRun_SubmitsTrimmedUnits(t *testing.T) {
	x, ff := newTestExecutor()
	script := writeScript(t, "\n\nprint a;\n\n\nprint b;\n")

	if err := x.Run(context.Background(), script); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"print a;", "print b;"}
	if diff := cmp.Diff(want, ff.engines[0].evals); diff != "" {
		t.Errorf("submitted units mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_DropsIncompleteTrailingFragment(t *testing.T) {
	x, ff := newTestExecutor()
	script := writeScript(t, "print a;\nprint b\n")

	if err := x.Run(context.Background(), script); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec, _ := x.Get(script)
	if rec.Len() != 1 {
		t.Errorf("Len() = %d, want 1", rec.Len())
	}
	if rec.DiscardedBytes != len("print b") {
		t.Errorf("DiscardedBytes = %d, want %d", rec.DiscardedBytes, len("print b"))
	}
	if len(ff.engines[0].evals) != 1 {
		t.Errorf("evaluated %d units, want 1", len(ff.engines[0].evals))
	}
}

func TestRun_EngineFailureAbortsRun(t *testing.T) {
	x, _ := newTestExecutor()
	script := writeScript(t, "print a;\nboom;\nprint b;\n")

	err := x.Run(context.Background(), script)
	if !errors.Is(err, ErrEngineFailed) {
		t.Fatalf("Run error = %v, want ErrEngineFailed", err)
	}
	if _, ok := x.Get(script); ok {
		t.Error("record stored for an aborted run")
	}
}

func TestRun_SameTimestampOrderedBySequence(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	x, _ := newTestExecutor(WithClock(func() time.Time { return t0 }))
	script := writeScript(t, "two;\nprint 3;\ntwo;\n")

	if err := x.Run(context.Background(), script); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec, _ := x.Get(script)
	var values []string
	for _, e := range rec.Sorted() {
		values = append(values, e.Event.Value)
	}
	want := []string{"1", "2", "3", "1", "2"}
	if diff := cmp.Diff(want, values); diff != "" {
		t.Errorf("sorted values mismatch (-want +got):\n%s", diff)
	}

	if got, _ := x.Render(script); got != "1\n2\n3\n1\n2\n" {
		t.Errorf("Render() = %q, want %q", got, "1\n2\n3\n1\n2\n")
	}
}

func TestRun_NotifiesObserversInOrder(t *testing.T) {
	x, _ := newTestExecutor()

	var calls []string
	var changes [][2]Outcome
	x.Subscribe(ObserverFunc(func(c Change) error {
		calls = append(calls, "first")
		changes = append(changes, [2]Outcome{c.Previous, c.Current})
		return nil
	}))
	x.Subscribe(ObserverFunc(func(c Change) error {
		calls = append(calls, "second")
		return nil
	}))

	script := writeScript(t, "print a;\nbad;\ndecl;\n")
	if err := x.Run(context.Background(), script); err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantChanges := [][2]Outcome{
		{0, Success},
		{Success, Failure},
		{Failure, Warning},
	}
	if diff := cmp.Diff(wantChanges, changes); diff != "" {
		t.Errorf("changes mismatch (-want +got):\n%s", diff)
	}
	wantCalls := []string{"first", "second", "first", "second", "first", "second"}
	if diff := cmp.Diff(wantCalls, calls); diff != "" {
		t.Errorf("call order mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_ObserverFailureAbortsRun(t *testing.T) {
	x, ff := newTestExecutor()
	errStop := errors.New("stop")
	var later int

	x.Subscribe(ObserverFunc(func(c Change) error {
		if c.Current == Failure {
			return errStop
		}
		return nil
	}))
	x.Subscribe(ObserverFunc(func(c Change) error {
		later++
		return nil
	}))

	script := writeScript(t, "print a;\nbad;\nprint b;\n")
	err := x.Run(context.Background(), script)
	if !IsObserverFailure(err) || !errors.Is(err, errStop) {
		t.Fatalf("Run error = %v, want observer failure wrapping errStop", err)
	}
	if _, ok := x.Get(script); ok {
		t.Error("record stored for an aborted run")
	}
	if later != 1 {
		t.Errorf("second observer called %d times, want 1", later)
	}
	if n := len(ff.engines[0].evals); n != 2 {
		t.Errorf("evaluated %d units, want 2", n)
	}
	if last, _ := x.LastOutcome(); last != Failure {
		t.Errorf("LastOutcome() = %v, want failure", last)
	}
}

func TestLastOutcome_SpansRuns(t *testing.T) {
	x, _ := newTestExecutor()
	failing := writeScript(t, "bad;")
	passing := writeScript(t, "print ok;")

	if err := x.Run(context.Background(), failing); err != nil {
		t.Fatal(err)
	}
	if err := x.Run(context.Background(), passing); err != nil {
		t.Fatal(err)
	}

	if last, _ := x.LastOutcome(); last != Success {
		t.Errorf("LastOutcome() = %v, want success", last)
	}
	if _, ok := x.Get(failing); !ok {
		t.Error("record of the first script lost")
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{"declaration with initializer hidden", "let 5;", ""},
		{"temporary expression hidden", "tmp 7;", ""},
		{"values in order", "print hello;\nlet 5;\ntmp 7;\nprint world;", "hello\nworld\n"},
		{"failures and warnings skipped", "bad;\ndecl;\nprint x;", "x\n"},
		{"assignments shown", "two;", "1\n2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, _ := newTestExecutor()
			script := writeScript(t, tt.script)
			if err := x.Run(context.Background(), script); err != nil {
				t.Fatalf("Run: %v", err)
			}
			got, ok := x.Render(script)
			if !ok {
				t.Fatal("Render: no record")
			}
			if got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRender_UnknownScript(t *testing.T) {
	x, _ := newTestExecutor()
	if got, ok := x.Render("missing"); ok || got != "" {
		t.Errorf("Render(missing) = %q, %v; want \"\", false", got, ok)
	}
}

func TestTrimNewlines(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"\n\nx := 1\n", "x := 1"},
		{"  x\n", "  x"},
		{"\r\nx\r\n", "x"},
		{"\n\n", ""},
	}
	for _, tt := range tests {
		if got := TrimNewlines(tt.in); got != tt.want {
			t.Errorf("TrimNewlines(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
