package hooks

import (
	"errors"
	"net/http"
	"testing"

	"github.com/neomody77/avalon-sub001/plugin"
)

func newTestContext() *plugin.Context {
	r, _ := http.NewRequest(http.MethodGet, "/", nil)
	return plugin.NewContext(r)
}

func TestRunOrdersByPriorityThenRegistration(t *testing.T) {
	exec := NewExecutor()
	var order []string

	exec.Register(Binding{Phase: PreRoute, Priority: 10, PluginID: "b", FnID: "f", Fn: func(ctx *plugin.Context) (Action, error) {
		order = append(order, "b")
		return Continue, nil
	}})
	exec.Register(Binding{Phase: PreRoute, Priority: 5, PluginID: "a", FnID: "f", Fn: func(ctx *plugin.Context) (Action, error) {
		order = append(order, "a")
		return Continue, nil
	}})
	exec.Register(Binding{Phase: PreRoute, Priority: 5, PluginID: "a2", FnID: "f", Fn: func(ctx *plugin.Context) (Action, error) {
		order = append(order, "a2")
		return Continue, nil
	}})

	out := exec.Run(PreRoute, newTestContext())
	if out.ShortCircuited {
		t.Fatalf("expected no short-circuit")
	}
	want := []string{"a", "a2", "b"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestSkipPhaseStopsPhaseNotPipeline(t *testing.T) {
	exec := NewExecutor()
	var ran []string

	exec.Register(Binding{Phase: PreRoute, Priority: 1, PluginID: "first", FnID: "f", Fn: func(ctx *plugin.Context) (Action, error) {
		ran = append(ran, "first")
		return SkipPhase, nil
	}})
	exec.Register(Binding{Phase: PreRoute, Priority: 2, PluginID: "second", FnID: "f", Fn: func(ctx *plugin.Context) (Action, error) {
		ran = append(ran, "second")
		return Continue, nil
	}})

	out := exec.Run(PreRoute, newTestContext())
	if out.ShortCircuited {
		t.Fatalf("SkipPhase must not short-circuit the whole pipeline")
	}
	if len(ran) != 1 || ran[0] != "first" {
		t.Fatalf("expected only the first binding to run, got %v", ran)
	}
}

func TestShortCircuitStopsImmediately(t *testing.T) {
	exec := NewExecutor()
	called := false

	exec.Register(Binding{Phase: PreRoute, Priority: 1, PluginID: "p", FnID: "f", Fn: func(ctx *plugin.Context) (Action, error) {
		return ShortCircuit, nil
	}})
	exec.Register(Binding{Phase: PreRoute, Priority: 2, PluginID: "q", FnID: "f", Fn: func(ctx *plugin.Context) (Action, error) {
		called = true
		return Continue, nil
	}})

	out := exec.Run(PreRoute, newTestContext())
	if !out.ShortCircuited {
		t.Fatalf("expected ShortCircuited")
	}
	if called {
		t.Fatalf("bindings after a ShortCircuit must not run")
	}
}

func TestErrorOutsideLoggingShortCircuits(t *testing.T) {
	exec := NewExecutor()
	wantErr := errors.New("boom")

	exec.Register(Binding{Phase: PreUpstream, Priority: 1, PluginID: "failer", FnID: "f", Fn: func(ctx *plugin.Context) (Action, error) {
		return Continue, wantErr
	}})

	out := exec.Run(PreUpstream, newTestContext())
	if !out.ShortCircuited || out.Err != wantErr || out.FailedPlugin != "failer" {
		t.Fatalf("got %+v, want short-circuit with err=%v from failer", out, wantErr)
	}
}

func TestErrorDuringLoggingIsSwallowedByOutcome(t *testing.T) {
	exec := NewExecutor()
	wantErr := errors.New("log sink down")
	ranAfter := false

	exec.Register(Binding{Phase: Logging, Priority: 1, PluginID: "logger", FnID: "f", Fn: func(ctx *plugin.Context) (Action, error) {
		return Continue, wantErr
	}})
	exec.Register(Binding{Phase: Logging, Priority: 2, PluginID: "logger2", FnID: "f", Fn: func(ctx *plugin.Context) (Action, error) {
		ranAfter = true
		return Continue, nil
	}})

	out := exec.Run(Logging, newTestContext())
	if out.ShortCircuited {
		t.Fatalf("a Logging-phase error must not short-circuit the caller; it is surfaced via Outcome.Err for the caller to log")
	}
	if !ranAfter {
		t.Fatalf("a failing Logging hook must not prevent later Logging hooks from running")
	}
}
