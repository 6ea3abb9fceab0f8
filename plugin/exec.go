package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// ExecRequest is the single message a sandbox child reads from stdin.
type ExecRequest struct {
	Name        string         `json:"name"`
	Source      string         `json:"source"`
	Trigger     string         `json:"trigger,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	CompileOnly bool           `json:"compile_only,omitempty"`
	TimeoutMs   int64          `json:"timeout_ms"`
	MemoryBytes uint64         `json:"memory_bytes,omitempty"`
	CPUSeconds  uint64         `json:"cpu_seconds,omitempty"`
}

// ExecReply is the single message a sandbox child writes to stdout.
type ExecReply struct {
	Effect *Effect `json:"effect,omitempty"`
	Error  string  `json:"error,omitempty"`
	// Compile is set when Error came from compiling the source.
	Compile bool `json:"compile,omitempty"`
}

// ServeExec runs the child side of process isolation: read one request,
// apply resource limits, compile and run the plugin, write one reply.
// Plugin failures are reported in the reply; a returned error means the
// exchange itself failed.
func ServeExec(ctx context.Context, in io.Reader, out io.Writer) error {
	var req ExecRequest
	if err := json.NewDecoder(io.LimitReader(in, DefaultMaxSourceBytes*4)).Decode(&req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}

	if err := applyLimits(req.MemoryBytes, req.CPUSeconds); err != nil {
		return fmt.Errorf("apply limits: %w", err)
	}

	return json.NewEncoder(out).Encode(runExec(ctx, req))
}

func runExec(ctx context.Context, req ExecRequest) ExecReply {
	h, err := NewYaegiCompiler().Compile(req.Name, req.Source)
	if err != nil {
		return ExecReply{Error: err.Error(), Compile: true}
	}
	if req.CompileOnly {
		return ExecReply{}
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	eff, err := h.Handle(callCtx, req.Trigger, req.Data)
	if err != nil {
		return ExecReply{Error: err.Error()}
	}
	return ExecReply{Effect: eff}
}

var errEmptyReply = errors.New("sandbox produced no reply")
