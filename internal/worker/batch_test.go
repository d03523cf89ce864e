package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/outagelens/internal/model"
)

type mockRunner struct {
	mu    sync.Mutex
	calls []model.Provider
	fail  map[model.Provider]bool
	panic map[model.Provider]bool
}

func (m *mockRunner) Run(ctx context.Context, p model.Provider) *model.ProviderResult {
	m.mu.Lock()
	m.calls = append(m.calls, p)
	m.mu.Unlock()

	time.Sleep(5 * time.Millisecond)
	if m.panic[p] {
		panic("runner exploded")
	}
	res := &model.ProviderResult{Provider: p, RunID: "run-" + string(p)}
	if m.fail[p] {
		res.Error = errors.New("model load failed")
		res.Err = res.Error.Error()
	}
	return res
}

func TestProviderBatch_Run(t *testing.T) {
	runner := &mockRunner{}
	batch := NewProviderBatch(runner, 2, nil)

	providers := []model.Provider{model.ProviderRogers, model.ProviderBell, model.ProviderTelus}
	results := batch.Run(context.Background(), providers)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, p := range providers {
		if results[i].Provider != p {
			t.Errorf("results[%d] is %s, want %s", i, results[i].Provider, p)
		}
		if results[i].Failed() {
			t.Errorf("unexpected error for %s: %v", p, results[i].Error)
		}
	}
	if len(runner.calls) != 3 {
		t.Errorf("expected 3 runner calls, got %d", len(runner.calls))
	}
}

func TestProviderBatch_FailureIsolation(t *testing.T) {
	runner := &mockRunner{
		fail:  map[model.Provider]bool{model.ProviderBell: true},
		panic: map[model.Provider]bool{model.ProviderTelus: true},
	}
	batch := NewProviderBatch(runner, 3, nil)

	results := batch.Run(context.Background(),
		[]model.Provider{model.ProviderRogers, model.ProviderBell, model.ProviderTelus})

	if results[0].Failed() {
		t.Errorf("ROGERS should succeed, got %v", results[0].Error)
	}
	if !results[1].Failed() {
		t.Error("BELL should carry its own failure")
	}
	if !results[2].Failed() || results[2].Provider != model.ProviderTelus {
		t.Errorf("TELUS panic should become a failed result, got %+v", results[2])
	}
}

func TestProviderBatch_Empty(t *testing.T) {
	batch := NewProviderBatch(&mockRunner{}, 2, nil)
	if results := batch.Run(context.Background(), nil); len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}
}

func TestProviderBatch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch := NewProviderBatch(&mockRunner{}, 1, nil)
	results := batch.Run(ctx, []model.Provider{model.ProviderRogers, model.ProviderBell})
	if len(results) != 2 {
		t.Fatalf("expected a result per provider, got %d", len(results))
	}
	for _, r := range results {
		if !r.Failed() {
			t.Errorf("%s should fail under a cancelled context", r.Provider)
		}
	}
}
