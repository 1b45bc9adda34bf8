package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowAll struct{}

func (allowAll) AllowedOperation(string, string) bool { return true }

type allowSet map[string]map[string]bool

func (s allowSet) AllowedOperation(agent, op string) bool { return s[agent][op] }

func echoProvider() *ProviderFunc {
	return &ProviderFunc{
		ProviderName: "echo",
		Specs: []OperationSpec{{
			Name:        "echo",
			Description: "Echo the input back",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"text": map[string]any{"type": "string"}},
				"required":   []any{"text"},
			},
		}},
		Fn: func(_ context.Context, _ string, args map[string]any) (any, error) {
			return args["text"], nil
		},
	}
}

func TestBridge_Invoke(t *testing.T) {
	b := New(allowAll{})
	require.NoError(t, b.RegisterProvider(echoProvider()))

	res, err := b.Invoke(context.Background(), "any", Request{
		Operation: "echo",
		Arguments: map[string]any{"text": "hello"},
	}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Payload)
	assert.Equal(t, "echo", res.Provider)
}

func TestBridge_PermissionDenied(t *testing.T) {
	perms := allowSet{"builder": {"build_check": true}}
	b := New(perms)
	require.NoError(t, b.RegisterProvider(echoProvider()))

	_, err := b.Invoke(context.Background(), "builder", Request{Operation: "echo"}, time.Second)
	var pe *core.PermissionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "builder", pe.Agent)
	assert.Equal(t, "echo", pe.Operation)
}

func TestBridge_UnknownOperation(t *testing.T) {
	b := New(allowAll{})

	_, err := b.Invoke(context.Background(), "any", Request{Operation: "nope"}, time.Second)
	var nf *core.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "operation", nf.Kind)
}

func TestBridge_ArgumentValidation(t *testing.T) {
	b := New(allowAll{})
	require.NoError(t, b.RegisterProvider(echoProvider()))

	_, err := b.Invoke(context.Background(), "any", Request{
		Operation: "echo",
		Arguments: map[string]any{},
	}, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required field is missing")
}

func TestBridge_TimeoutIsBounded(t *testing.T) {
	hang := &ProviderFunc{
		ProviderName: "hang",
		Specs:        []OperationSpec{{Name: "hang"}},
		Fn: func(ctx context.Context, _ string, _ map[string]any) (any, error) {
			<-ctx.Done() // never responds on its own
			return nil, ctx.Err()
		},
	}
	b := New(allowAll{})
	require.NoError(t, b.RegisterProvider(hang))

	start := time.Now()
	_, err := b.Invoke(context.Background(), "any", Request{Operation: "hang"}, 100*time.Millisecond)
	elapsed := time.Since(start)

	var te *core.TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "hang", te.Operation)
	assert.Less(t, elapsed, time.Second, "timeout must fire within bounded wall-clock time")
}

func TestBridge_CallerCancellationIsNotATimeout(t *testing.T) {
	hang := &ProviderFunc{
		ProviderName: "hang",
		Specs:        []OperationSpec{{Name: "hang"}},
		Fn: func(ctx context.Context, _ string, _ map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	b := New(allowAll{})
	require.NoError(t, b.RegisterProvider(hang))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := b.Invoke(ctx, "any", Request{Operation: "hang"}, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	var te *core.TimeoutError
	assert.False(t, errors.As(err, &te))
}

func TestBridge_BackendErrorCarriesDiagnosticVerbatim(t *testing.T) {
	boom := errors.New("compiler exited with status 2: undefined symbol frobnicate")
	failing := &ProviderFunc{
		ProviderName: "buildd",
		Specs:        []OperationSpec{{Name: "build_check"}},
		Fn: func(context.Context, string, map[string]any) (any, error) {
			return nil, boom
		},
	}
	b := New(allowAll{})
	require.NoError(t, b.RegisterProvider(failing))

	_, err := b.Invoke(context.Background(), "any", Request{Operation: "build_check"}, time.Second)
	var be *core.BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, boom.Error(), be.Diagnostic)
	assert.Equal(t, "buildd", be.Provider)
	require.ErrorIs(t, err, boom)
}

func TestBridge_DuplicateOperation(t *testing.T) {
	b := New(allowAll{})
	require.NoError(t, b.RegisterProvider(echoProvider()))

	err := b.RegisterProvider(echoProvider())
	var dup *core.DuplicateNameError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "echo", dup.Name)
}

func TestBridge_StatefulProviderSerializes(t *testing.T) {
	var mu sync.Mutex
	active, maxActive := 0, 0

	stateful := &ProviderFunc{
		ProviderName: "stateful",
		Specs:        []OperationSpec{{Name: "op_a"}, {Name: "op_b"}},
		Fn: func(context.Context, string, map[string]any) (any, error) {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return "ok", nil
		},
	}
	b := New(allowAll{})
	require.NoError(t, b.RegisterProvider(stateful, func(o *ProviderOptions) { o.Stateful = true }))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		op := "op_a"
		if i%2 == 1 {
			op = "op_b"
		}
		go func(op string) {
			defer wg.Done()
			_, err := b.Invoke(context.Background(), "any", Request{Operation: op}, time.Second)
			assert.NoError(t, err)
		}(op)
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "stateful provider invocations must be serialized")
}

func TestBridge_ConcurrentProvidersDoNotBlockEachOther(t *testing.T) {
	slow := &ProviderFunc{
		ProviderName: "slow",
		Specs:        []OperationSpec{{Name: "slow_op"}},
		Fn: func(ctx context.Context, _ string, _ map[string]any) (any, error) {
			select {
			case <-time.After(200 * time.Millisecond):
				return "slow", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	b := New(allowAll{})
	require.NoError(t, b.RegisterProvider(slow, func(o *ProviderOptions) { o.Stateful = true }))
	require.NoError(t, b.RegisterProvider(echoProvider()))

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = b.Invoke(context.Background(), "any", Request{Operation: "slow_op"}, time.Second)
	}()
	<-started

	start := time.Now()
	res, err := b.Invoke(context.Background(), "any", Request{
		Operation: "echo",
		Arguments: map[string]any{"text": "fast"},
	}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "fast", res.Payload)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestSpecFromStruct(t *testing.T) {
	type buildArgs struct {
		Target  string `json:"target" description:"Build target"`
		Verbose bool   `json:"verbose,omitempty"`
	}
	spec := SpecFromStruct("build_check", "Run an isolated build check", buildArgs{})
	assert.Equal(t, "build_check", spec.Name)

	props, ok := spec.Parameters["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "target")
	assert.Contains(t, props, "verbose")

	required, ok := spec.Parameters["required"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"target"}, required)
}
