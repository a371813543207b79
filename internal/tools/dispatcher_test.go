package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/speakdrill/speakdrill/pkg/provider/llm"
)

// testCapability is a configurable capability for dispatcher tests.
type testCapability struct {
	name string
	fn   func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

func (c *testCapability) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{Name: c.name, Parameters: map[string]any{"type": "object"}}
}

func (c *testCapability) Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return c.fn(ctx, args)
}

func TestExecute_RoutesByName(t *testing.T) {
	d := NewDispatcher()
	d.Register(&testCapability{name: "echo", fn: func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
		return args, nil
	}})

	got, err := d.Execute(context.Background(), "echo", json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(got) != `{"x":1}` {
		t.Errorf("payload = %s", got)
	}
}

func TestExecute_UnknownCapabilityFailsClosed(t *testing.T) {
	d := NewDispatcher()
	_, err := d.Execute(context.Background(), "does_not_exist", nil)
	if !errors.Is(err, ErrUnknownCapability) {
		t.Fatalf("err = %v, want ErrUnknownCapability", err)
	}
}

func TestExecute_CapabilityErrorIsWrapped(t *testing.T) {
	boom := errors.New("boom")
	d := NewDispatcher()
	d.Register(&testCapability{name: "explode", fn: func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, boom
	}})

	_, err := d.Execute(context.Background(), "explode", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	if !strings.Contains(err.Error(), "explode") {
		t.Errorf("error does not name the capability: %v", err)
	}
}

func TestExecuteSafe_ErrorBecomesPayload(t *testing.T) {
	d := NewDispatcher()
	d.Register(&testCapability{name: "explode", fn: func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("database unavailable")
	}})

	payload := d.ExecuteSafe(context.Background(), "explode", nil)
	var decoded map[string]string
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if !strings.Contains(decoded["error"], "database unavailable") {
		t.Errorf("payload = %s", payload)
	}

	// Unknown capabilities also surface as error payloads, never panics.
	payload = d.ExecuteSafe(context.Background(), "missing", nil)
	if err := json.Unmarshal(payload, &decoded); err != nil || decoded["error"] == "" {
		t.Errorf("unknown capability payload = %s", payload)
	}
}

func TestExecute_BurstRespectsConcurrencyCap(t *testing.T) {
	const (
		limit = 3
		burst = 12
	)

	var (
		inFlight atomic.Int32
		peak     atomic.Int32
	)
	release := make(chan struct{})

	d := NewDispatcher(WithMaxConcurrent(limit))
	d.Register(&testCapability{name: "slow", fn: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		inFlight.Add(-1)
		return json.RawMessage(`{}`), nil
	}})

	var wg sync.WaitGroup
	results := make(chan error, burst)
	for i := 0; i < burst; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Execute(context.Background(), "slow", nil)
			results <- err
		}()
	}

	// Give the burst time to pile up against the semaphore.
	time.Sleep(50 * time.Millisecond)
	if p := peak.Load(); p > limit {
		t.Errorf("peak concurrency = %d, want <= %d", p, limit)
	}
	close(release)
	wg.Wait()

	close(results)
	answered := 0
	for err := range results {
		if err != nil {
			t.Errorf("call failed: %v", err)
		}
		answered++
	}
	if answered != burst {
		t.Errorf("answered = %d, want %d", answered, burst)
	}
	if p := peak.Load(); p > limit {
		t.Errorf("peak concurrency = %d, want <= %d", p, limit)
	}
}

func TestExecute_CancelledWhileQueued(t *testing.T) {
	d := NewDispatcher(WithMaxConcurrent(1))
	block := make(chan struct{})
	d.Register(&testCapability{name: "slow", fn: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		<-block
		return json.RawMessage(`{}`), nil
	}})

	// Occupy the only slot.
	go func() { _, _ = d.Execute(context.Background(), "slow", nil) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := d.Execute(ctx, "slow", nil)
		errCh <- err
	}()
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued call did not observe cancellation")
	}
	close(block)
}

func TestDefinitions_ListsAllCapabilities(t *testing.T) {
	d := NewDispatcher()
	d.Register(&testCapability{name: "a", fn: nil})
	d.Register(&testCapability{name: "b", fn: nil})

	defs := d.Definitions()
	if len(defs) != 2 {
		t.Fatalf("len(defs) = %d, want 2", len(defs))
	}
	names := map[string]bool{}
	for _, def := range defs {
		names[def.Name] = true
	}
	if !names["a"] || !names["b"] {
		t.Errorf("definitions = %v", names)
	}
}
