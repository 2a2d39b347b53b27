package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

type fakeTool struct {
	name    string
	params  map[string]interface{}
	execute func(ctx context.Context, args map[string]interface{}) (*Result, error)
}

func (f *fakeTool) Name() string                        { return f.name }
func (f *fakeTool) Description() string                 { return "fake" }
func (f *fakeTool) Parameters() map[string]interface{}  { return f.params }
func (f *fakeTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	return f.execute(ctx, args)
}

func echoParams() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text":  map[string]interface{}{"type": "string"},
			"count": map[string]interface{}{"type": "integer"},
		},
		"required": []string{"text"},
	}
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{
		name:   "echo",
		params: echoParams(),
		execute: func(_ context.Context, args map[string]interface{}) (*Result, error) {
			return NewResult(stringArg(args, "text")), nil
		},
	})

	res := r.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi"})
	if res.IsError || res.ForLLM != "hi" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry()
	res := r.Execute(context.Background(), "nope", nil)
	if !res.IsError || !strings.Contains(res.ForLLM, "unknown tool") {
		t.Fatalf("want unknown tool error, got %+v", res)
	}
}

func TestRegistryValidation(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{
		name:   "echo",
		params: echoParams(),
		execute: func(_ context.Context, _ map[string]interface{}) (*Result, error) {
			return NewResult("ok"), nil
		},
	})

	tests := []struct {
		name    string
		args    map[string]interface{}
		wantErr string
	}{
		{"missing required", map[string]interface{}{}, "missing required"},
		{"wrong type", map[string]interface{}{"text": 42}, "expected string"},
		{"wrong int type", map[string]interface{}{"text": "x", "count": "three"}, "expected integer"},
		{"float for integer ok", map[string]interface{}{"text": "x", "count": float64(3)}, ""},
		{"unknown arg passes", map[string]interface{}{"text": "x", "extra": true}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Execute(context.Background(), "echo", tt.args)
			if tt.wantErr == "" {
				if res.IsError {
					t.Fatalf("unexpected error: %s", res.ForLLM)
				}
				return
			}
			if !res.IsError || !strings.Contains(res.ForLLM, tt.wantErr) {
				t.Fatalf("want error containing %q, got %+v", tt.wantErr, res)
			}
		})
	}
}

func TestRegistryTimeout(t *testing.T) {
	r := NewRegistry()
	r.timeout = 20 * time.Millisecond
	r.Register(&fakeTool{
		name:   "slow",
		params: map[string]interface{}{"type": "object"},
		execute: func(ctx context.Context, _ map[string]interface{}) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	res := r.Execute(context.Background(), "slow", nil)
	if !res.IsError {
		t.Fatal("want timeout error result")
	}
}

func TestRegistryErrorBecomesResult(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{
		name:   "boom",
		params: map[string]interface{}{"type": "object"},
		execute: func(_ context.Context, _ map[string]interface{}) (*Result, error) {
			return nil, context.Canceled
		},
	})

	res := r.Execute(context.Background(), "boom", nil)
	if !res.IsError || res.Err == nil {
		t.Fatalf("want wrapped error result, got %+v", res)
	}
}

func TestDefinitionsRespectAllowSet(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"a", "b", "c"} {
		r.Register(&fakeTool{name: name, params: map[string]interface{}{"type": "object"}})
	}

	all := r.Definitions(nil)
	if len(all) != 3 {
		t.Fatalf("want 3 definitions, got %d", len(all))
	}

	some := r.Definitions(map[string]bool{"b": true})
	if len(some) != 1 || some[0].Function.Name != "b" {
		t.Fatalf("want only b, got %+v", some)
	}
}

func TestResolveAllowed(t *testing.T) {
	all := []string{"read_file", "write_file", "exec"}

	tests := []struct {
		name    string
		allowed []string
		denied  []string
		want    []string
	}{
		{"empty allow means all", nil, nil, []string{"read_file", "write_file", "exec"}},
		{"allow intersects registered", []string{"read_file", "ghost"}, nil, []string{"read_file"}},
		{"deny removes", nil, []string{"exec"}, []string{"read_file", "write_file"}},
		{"deny wins over allow", []string{"exec"}, []string{"exec"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveAllowed(all, tt.allowed, tt.denied)
			if len(got) != len(tt.want) {
				t.Fatalf("want %v, got %v", tt.want, got)
			}
			for _, name := range tt.want {
				if !got[name] {
					t.Errorf("missing %s in %v", name, got)
				}
			}
		})
	}
}
