// Command agentflow runs the Cursor agent CLI on a sequence of prompts
// (batch mode) or interactively (daemon mode), rendering its stream-json
// output and carrying the agent session from turn to turn.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"agentflow/internal/agent"
	"agentflow/internal/config"
	"agentflow/internal/logging"
	"agentflow/internal/session"
	"agentflow/internal/stream"
	"agentflow/internal/trace"
)

// Version is set at build time.
var Version = "dev"

const (
	installHint    = "install with: curl https://cursor.com/install -fsS | bash"
	credentialHint = "get a key from the Cursor dashboard and set CURSOR_API_KEY in the environment or the --dir .env file"
	promptHint     = "create coding_prompt.txt in the --dir directory or set prompt_file in agentflow.toml"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// flags holds the parsed command-line options.
type flags struct {
	resume     string
	noFormat   bool
	noColor    bool
	configPath string
	dir        string
	pty        bool
	model      string
	timeout    time.Duration
	verbose    bool
}

// run executes the root command and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	code := 0
	cmd := newRootCommand(stdin, stdout, stderr, &code)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return code
}

func newRootCommand(stdin io.Reader, stdout, stderr io.Writer, code *int) *cobra.Command {
	var f flags

	root := &cobra.Command{
		Use:   "agentflow [prompts...]",
		Short: "Drive the Cursor agent CLI in batch or interactive mode",
		Long: "Runs the coding agent on each prompt in order, resuming the same agent session\n" +
			"between prompts. With no prompts, starts an interactive loop that accepts\n" +
			"/quit, /session and /reset.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		RunE: func(cmd *cobra.Command, prompts []string) error {
			c, err := execute(cmd, f, prompts, stdin, stdout, stderr)
			if err != nil {
				return err
			}
			*code = c
			return nil
		},
	}
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.SetOut(stdout)
	root.SetErr(stderr)

	fs := root.Flags()
	fs.StringVar(&f.resume, "resume", "", "resume a previous agent session by ID")
	fs.BoolVar(&f.noFormat, "no-format", false, "print raw stream-json lines instead of formatted output")
	fs.BoolVar(&f.noColor, "no-color", false, "disable colored output")
	fs.StringVar(&f.configPath, "config", "", "path to agentflow.toml (default: <dir>/agentflow.toml if present)")
	fs.StringVar(&f.dir, "dir", ".", "tool directory holding .env and coding_prompt.txt")
	fs.BoolVar(&f.pty, "pty", false, "run the agent on a pseudo-terminal")
	fs.StringVar(&f.model, "model", "", "model passed to the agent")
	fs.DurationVar(&f.timeout, "timeout", 0, "kill a turn that runs longer than this (0 = no limit)")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logging")

	return root
}

// execute wires the components together and runs one mode to completion.
func execute(cmd *cobra.Command, f flags, prompts []string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	ctx := cmd.Context()

	cfg, err := config.Load(f.dir, f.configPath)
	if err != nil {
		switch {
		case errors.Is(err, config.ErrMissingCredential):
			return 1, fmt.Errorf("%w (%s)", err, credentialHint)
		case errors.Is(err, config.ErrMissingPromptFile):
			return 1, fmt.Errorf("%w (%s)", err, promptHint)
		}
		return 1, fmt.Errorf("load config: %w", err)
	}
	applyFlags(cmd, f, cfg)

	logger := logging.New(stderr, logging.WithLevel(cfg.LogLevel))
	logger.Debug("config loaded",
		"dir", cfg.Dir,
		"project_root", cfg.ProjectRoot,
		"transport", string(cfg.Transport),
		"timeout", cfg.TurnTimeout,
	)

	binary, err := agent.Resolve(cfg.Agent, exec.LookPath)
	if err != nil {
		if errors.Is(err, agent.ErrAgentNotFound) {
			return 1, fmt.Errorf("%w (%s)", err, installHint)
		}
		return 1, err
	}

	tracer, err := trace.New(ctx)
	if err != nil {
		return 1, fmt.Errorf("initialize tracing: %w", err)
	}
	defer shutdownTracer(tracer, logger)

	styles := stream.DefaultStyles(stdout)
	if f.noColor {
		styles = stream.PlainStyles()
	}

	readerOpts := []stream.ReaderOption{
		stream.WithStyles(styles),
		stream.WithLogger(logger),
	}
	if tracer.Enabled() {
		readerOpts = append(readerOpts, stream.WithToolObserver(tracer))
	}
	if f.noFormat {
		readerOpts = append(readerOpts, stream.WithRawOutput())
	}
	reader := stream.NewReader(stdout, readerOpts...)

	runner, err := agent.New(reader,
		agent.WithBinary(binary),
		agent.WithArgs(cfg.AgentArgs...),
		agent.WithModel(cfg.Model),
		agent.WithWorkDir(cfg.ProjectRoot),
		agent.WithEnv(cfg.ChildEnv()),
		agent.WithTimeout(cfg.TurnTimeout),
		agent.WithTransport(cfg.Transport),
		agent.WithLogger(logger),
	)
	if err != nil {
		return 1, err
	}

	ctrl := session.New(runner, cfg.SystemPrompt,
		session.WithResume(f.resume),
		session.WithStyles(styles),
		session.WithOutput(stdout),
		session.WithErrorOutput(stderr),
		session.WithLogger(logger),
		session.WithTracer(tracer),
	)

	if len(prompts) == 0 {
		return ctrl.RunDaemon(ctx, stdin), nil
	}
	return ctrl.RunBatch(ctx, prompts), nil
}

// applyFlags lets explicitly set flags override the loaded config.
func applyFlags(cmd *cobra.Command, f flags, cfg *config.Config) {
	fs := cmd.Flags()
	if fs.Changed("model") {
		cfg.Model = f.model
	}
	if fs.Changed("timeout") {
		cfg.TurnTimeout = f.timeout
	}
	if f.pty {
		cfg.Transport = agent.TransportPTY
	}
	if f.verbose {
		cfg.LogLevel = log.DebugLevel
	}
}

func shutdownTracer(tracer *trace.Tracer, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := tracer.Shutdown(ctx); err != nil {
		logger.Warn("flush traces", "err", err)
	}
}
