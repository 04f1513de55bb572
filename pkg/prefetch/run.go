package prefetch

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"al.essio.dev/pkg/shellescape"
	"golang.org/x/sync/errgroup"

	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcperr"
)

const maxOutputTail = 2048

// Runner executes one argument vector and returns its combined output.
type Runner interface {
	Run(ctx context.Context, argv []string) ([]byte, error)
}

// ExecRunner runs commands as child processes without a shell.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, argv []string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("prefetch: empty command")
	}
	return exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
}

// Options configure a Prefetcher.
type Options struct {
	// Runner defaults to ExecRunner.
	Runner Runner
	Logger *slog.Logger
}

// RunOptions control one batch.
type RunOptions struct {
	// Parallel starts every install at once; otherwise they run in order.
	Parallel bool
	// DryRun reports the commands without executing them.
	DryRun bool
	// Timeout bounds each install. Zero means no limit beyond ctx.
	Timeout time.Duration
}

// Result is the outcome for one package.
type Result struct {
	Ref      PackageRef    `json:"ref"`
	Command  string        `json:"command"`
	OK       bool          `json:"ok"`
	Skipped  bool          `json:"skipped,omitempty"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Summary aggregates a batch. Total counts attempted installs; validation
// rejections are reported separately.
type Summary struct {
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Results   []Result    `json:"results"`
	Rejected  []Rejection `json:"rejected,omitempty"`
}

// Prefetcher runs install commands.
type Prefetcher struct {
	runner Runner
	logger *slog.Logger
}

func New(opts Options) *Prefetcher {
	p := &Prefetcher{runner: opts.Runner, logger: opts.Logger}
	if p.runner == nil {
		p.runner = ExecRunner{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Run installs refs. One failing install never stops the others.
func (p *Prefetcher) Run(ctx context.Context, refs []PackageRef, opts RunOptions) *Summary {
	results := make([]Result, len(refs))
	if opts.Parallel {
		var g errgroup.Group
		for i, ref := range refs {
			g.Go(func() error {
				results[i] = p.install(ctx, ref, opts)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, ref := range refs {
			results[i] = p.install(ctx, ref, opts)
		}
	}

	sum := &Summary{Total: len(refs), Results: results}
	for _, r := range results {
		if r.OK {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
	}
	return sum
}

func (p *Prefetcher) install(ctx context.Context, ref PackageRef, opts RunOptions) Result {
	res := Result{Ref: ref, Command: shellescape.QuoteCommand(ref.InstallCommand)}
	// Refs built by hand bypass Extract, so validate again here.
	if err := ValidatePackage(ref.Package); err != nil {
		res.Error = err.Error()
		return res
	}
	if opts.DryRun {
		res.OK, res.Skipped = true, true
		return res
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	p.logger.Info("installing package", "server", ref.ServerName, "package", ref.Package, "command", res.Command)
	start := time.Now()
	out, err := p.runner.Run(ctx, ref.InstallCommand)
	res.Duration = time.Since(start)
	res.Output = tail(out)
	if err != nil {
		if ctx.Err() != nil {
			err = mcperr.Wrap(mcperr.KindTimeout, err, "install %s", ref.Package)
		}
		res.Error = err.Error()
		p.logger.Warn("package install failed", "server", ref.ServerName, "package", ref.Package, "error", err)
		return res
	}
	res.OK = true
	return res
}

func tail(out []byte) string {
	if len(out) > maxOutputTail {
		out = out[len(out)-maxOutputTail:]
	}
	return string(out)
}
