package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/neurallink/logging"
)

// Isolation wrappers for ProcessCompiler.
const (
	IsolationNone   = "none"
	IsolationBwrap  = "bwrap"
	IsolationDocker = "docker"
)

const maxReplyBytes = 64 << 10

// ProcessOptions configures ProcessCompiler.
type ProcessOptions struct {
	// Command starts the sandbox child. Defaults to this executable with
	// the "plugin-exec" subcommand.
	Command []string
	// Env is the complete child environment; empty means none.
	Env []string
	// Isolation wraps Command: none, bwrap or docker.
	Isolation string
	// DockerImage runs with its entrypoint set to the neurallink binary.
	DockerImage string
	Timeout     time.Duration
	MemoryBytes uint64
	CPUSeconds  uint64
	Logger      logging.Logger
}

// ProcessCompiler runs each plugin invocation in a fresh child process that
// exchanges exactly one ExecRequest/ExecReply over stdin/stdout.
type ProcessCompiler struct {
	opts    ProcessOptions
	checker *YaegiCompiler
}

// NewProcessCompiler creates a ProcessCompiler.
func NewProcessCompiler(optFns ...func(o *ProcessOptions)) (*ProcessCompiler, error) {
	opts := ProcessOptions{
		Isolation:   IsolationNone,
		DockerImage: "neurallink:latest",
		Timeout:     DefaultTimeout,
		MemoryBytes: 512 << 20,
		CPUSeconds:  2,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if len(opts.Command) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		opts.Command = []string{exe, "plugin-exec"}
	}

	switch opts.Isolation {
	case IsolationNone, IsolationBwrap, IsolationDocker:
	default:
		return nil, fmt.Errorf("unknown isolation %q", opts.Isolation)
	}

	return &ProcessCompiler{opts: opts, checker: NewYaegiCompiler()}, nil
}

// Compile checks imports locally, then has a child compile the source so no
// plugin code is evaluated in this process.
func (c *ProcessCompiler) Compile(name, source string) (Handler, error) {
	if _, err := c.checker.Check(name, source); err != nil {
		return nil, err
	}

	reply, err := c.run(context.Background(), ExecRequest{Name: name, Source: source, CompileOnly: true})
	if err != nil {
		return nil, &CompileError{Plugin: name, Err: err}
	}
	if reply.Error != "" {
		return nil, &CompileError{Plugin: name, Err: errors.New(reply.Error)}
	}

	return &processHandler{compiler: c, name: name, source: source}, nil
}

type processHandler struct {
	compiler *ProcessCompiler
	name     string
	source   string
}

func (h *processHandler) Handle(ctx context.Context, trigger string, data map[string]any) (*Effect, error) {
	reply, err := h.compiler.run(ctx, ExecRequest{
		Name:    h.name,
		Source:  h.source,
		Trigger: trigger,
		Data:    data,
	})
	if err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, errors.New(reply.Error)
	}
	return reply.Effect, nil
}

// run spawns one child and performs the exchange under the wall-clock timeout.
func (c *ProcessCompiler) run(ctx context.Context, req ExecRequest) (ExecReply, error) {
	req.TimeoutMs = c.opts.Timeout.Milliseconds()
	req.MemoryBytes = c.opts.MemoryBytes
	req.CPUSeconds = c.opts.CPUSeconds

	payload, err := json.Marshal(req)
	if err != nil {
		return ExecReply{}, fmt.Errorf("encode request: %w", err)
	}

	// the child gets a little slack to report its own timeout first
	runCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout+time.Second)
	defer cancel()

	argv := c.argv()
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Env = c.opts.Env
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	runErr := cmd.Run()
	c.opts.Logger.Debug("plugin.process.exit", "plugin", req.Name, "duration", time.Since(start), "isolation", c.opts.Isolation)

	if runCtx.Err() != nil {
		return ExecReply{}, fmt.Errorf("sandbox timed out after %s: %w", c.opts.Timeout, runCtx.Err())
	}
	if runErr != nil {
		return ExecReply{}, fmt.Errorf("sandbox failed: %w: %s", runErr, tail(stderr.String(), 512))
	}
	if stdout.Len() > maxReplyBytes {
		return ExecReply{}, fmt.Errorf("sandbox reply exceeds %d bytes", maxReplyBytes)
	}
	if stdout.Len() == 0 {
		return ExecReply{}, errEmptyReply
	}

	var reply ExecReply
	if err := json.Unmarshal(stdout.Bytes(), &reply); err != nil {
		return ExecReply{}, fmt.Errorf("decode reply: %w", err)
	}
	return reply, nil
}

// argv builds the child command line for the configured isolation.
func (c *ProcessCompiler) argv() []string {
	switch c.opts.Isolation {
	case IsolationBwrap:
		args := []string{
			"bwrap",
			"--unshare-all",
			"--die-with-parent",
			"--new-session",
			"--ro-bind", "/", "/",
			"--dev", "/dev",
			"--proc", "/proc",
			"--tmpfs", "/tmp",
			"--",
		}
		return append(args, c.opts.Command...)
	case IsolationDocker:
		args := []string{
			"docker", "run", "--rm", "-i",
			"--network=none",
			"--read-only",
			"--pids-limit", "64",
			"--memory", strconv.FormatUint(c.opts.MemoryBytes, 10),
			"--cpus", "0.5",
			c.opts.DockerImage,
		}
		return append(args, c.opts.Command[1:]...)
	default:
		return append([]string(nil), c.opts.Command...)
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
