package solver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"med-delivery-routing/internal/domain"
	"med-delivery-routing/internal/platform/logging"
	"med-delivery-routing/internal/platform/obs"
	"med-delivery-routing/internal/ports"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// DefaultGrace is added to the search budget before the solver process is killed.
const DefaultGrace = 10 * time.Second

// HGSExecSolver runs an external Hybrid Genetic Search binary on a Solomon instance file.
//
// The binary is invoked as `<binary> <instance> <solution> -t <seconds>` and is
// expected to write Route/Cost lines to the solution file (stdout is used when
// the file is left empty).
type HGSExecSolver struct {
	binary string
	grace  time.Duration
	logger *slog.Logger
}

var _ ports.Solver = (*HGSExecSolver)(nil)

func NewHGSExecSolver(binary string, grace time.Duration, logger *slog.Logger) (*HGSExecSolver, error) {
	if binary == "" {
		return nil, errors.New("hgs solver: binary path is empty")
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &HGSExecSolver{
		binary: binary,
		grace:  grace,
		logger: logging.OrDiscard(logger).With("component", "hgs"),
	}, nil
}

func (s *HGSExecSolver) Solve(
	ctx context.Context,
	inst *domain.ProblemInstance,
	budget time.Duration,
) (_ ports.SolverResult, err error) {
	defer obs.Time(ctx, "hgs.Solve")(&err)

	text, err := EncodeSolomon(inst)
	if err != nil {
		return ports.SolverResult{}, err
	}

	dir, err := os.MkdirTemp("", "hgs-*")
	if err != nil {
		return ports.SolverResult{}, fmt.Errorf("hgs solve: create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	instancePath := filepath.Join(dir, "instance.txt")
	solutionPath := filepath.Join(dir, "instance.sol")
	if err := os.WriteFile(instancePath, []byte(text), 0o600); err != nil {
		return ports.SolverResult{}, fmt.Errorf("hgs solve: write instance: %w", err)
	}

	secs := int(math.Ceil(budget.Seconds()))
	if secs < 1 {
		secs = 1
	}

	runCtx, cancel := context.WithTimeout(ctx, budget+s.grace)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, s.binary, instancePath, solutionPath, "-t", strconv.Itoa(secs))
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	s.logger.Debug("starting solver", "req_id", obs.RequestID(ctx), "customers", inst.Size(), "budget_s", secs)

	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return ports.SolverResult{}, fmt.Errorf("hgs solve: %w", runCtx.Err())
		}
		return ports.SolverResult{}, fmt.Errorf("hgs solve: run %s: %w: %s", s.binary, err, tail(stderr.Bytes()))
	}

	out, err := os.ReadFile(solutionPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return ports.SolverResult{}, fmt.Errorf("hgs solve: read solution: %w", err)
	}
	if len(bytes.TrimSpace(out)) == 0 {
		out = stdout.Bytes()
	}

	routes, cost, err := ParseSolution(string(out))
	if err != nil {
		return ports.SolverResult{}, fmt.Errorf("hgs solve: %w", err)
	}

	return ports.SolverResult{Routes: routes, Cost: cost}, nil
}

func tail(b []byte) string {
	const limit = 512
	b = bytes.TrimSpace(b)
	if len(b) > limit {
		b = b[len(b)-limit:]
	}
	return string(b)
}
