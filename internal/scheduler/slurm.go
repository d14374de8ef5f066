package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/slotfeed/internal/config"
)

const squeueHeader = "JOBID"

// Slurm drives sbatch and squeue.
type Slurm struct {
	cfg           config.SlurmConfig
	user          string
	statusTimeout time.Duration
	run           Runner
}

// SlurmOption customizes a Slurm adapter.
type SlurmOption func(*Slurm)

// WithRunner overrides how commands are executed.
func WithRunner(r Runner) SlurmOption {
	return func(s *Slurm) {
		if r != nil {
			s.run = r
		}
	}
}

// WithUser restricts status queries to one user's jobs.
func WithUser(user string) SlurmOption {
	return func(s *Slurm) {
		s.user = strings.TrimSpace(user)
	}
}

// WithStatusTimeout bounds each status query. Zero disables the bound.
func WithStatusTimeout(d time.Duration) SlurmOption {
	return func(s *Slurm) {
		s.statusTimeout = d
	}
}

// NewSlurm builds an adapter from the slurm section of a run config.
func NewSlurm(cfg config.SlurmConfig, opts ...SlurmOption) *Slurm {
	s := &Slurm{cfg: cfg, run: ExecRunner}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListActive runs squeue for the given states. The JOBID header must be
// present; a silent or headerless reply is treated as a failed query rather
// than an empty cluster.
func (s *Slurm) ListActive(ctx context.Context, states []string) (map[JobID]struct{}, error) {
	if s.statusTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.statusTimeout)
		defer cancel()
	}
	args := []string{"-o", "%i", "-t", strings.Join(states, ",")}
	if s.user != "" {
		args = append(args, "-u", s.user)
	}
	out, err := s.run(ctx, s.cfg.Squeue, args...)
	if err != nil {
		return nil, &UnavailableError{Op: "squeue", Err: err}
	}
	return parseSqueue(out)
}

func parseSqueue(out string) (map[JobID]struct{}, error) {
	lines := strings.Split(out, "\n")
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	if start == len(lines) {
		return nil, &UnavailableError{Op: "squeue", Err: fmt.Errorf("empty output")}
	}
	if strings.TrimSpace(lines[start]) != squeueHeader {
		return nil, &UnavailableError{Op: "squeue", Err: fmt.Errorf("unexpected header %q", strings.TrimSpace(lines[start]))}
	}
	active := make(map[JobID]struct{})
	for _, line := range lines[start+1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		id, err := ParseJobID(line)
		if err != nil {
			return nil, &UnavailableError{Op: "squeue", Err: err}
		}
		active[id] = struct{}{}
	}
	return active, nil
}

// Submit runs sbatch --parsable for the slot.
func (s *Slurm) Submit(ctx context.Context, spec SlotSpec) (JobID, error) {
	out, err := s.run(ctx, s.cfg.Sbatch, s.submitArgs(spec)...)
	if err != nil {
		return "", fmt.Errorf("scheduler: submit slot %d: %w", spec.Slot, err)
	}
	return parseSbatch(out)
}

func (s *Slurm) submitArgs(spec SlotSpec) []string {
	name := spec.JobName
	if s.cfg.JobName != "" {
		name = fmt.Sprintf("%s_%d", s.cfg.JobName, spec.Slot)
	}
	args := []string{"-p", s.cfg.Partition}
	if spec.Tasks > 1 {
		args = append(args,
			"-N", strconv.Itoa(s.cfg.Nodes),
			"-n", strconv.Itoa(spec.Tasks),
			"--ntasks-per-node="+strconv.Itoa(s.cfg.TasksPerNode),
		)
	} else {
		args = append(args, "-n", "1")
	}
	if s.cfg.Exclusive {
		args = append(args, "--exclusive")
	}
	args = append(args, "--parsable", "-t", s.cfg.TimeLimit)
	if name != "" {
		args = append(args, "-J", name)
	}
	if spec.Tasks <= 1 {
		args = append(args, "--export=ALL,QUEUE_FILE="+spec.QueueFile)
	}
	args = append(args, s.cfg.ExtraArgs...)
	args = append(args, s.cfg.Worker)
	if spec.Tasks > 1 {
		args = append(args, spec.QueueFile, strconv.Itoa(spec.Tasks))
	}
	return args
}

// parseSbatch reads "<id>[;cluster]" as printed by --parsable.
func parseSbatch(out string) (JobID, error) {
	token := strings.TrimSpace(out)
	if token == "" {
		return "", ErrNoJobID
	}
	if i := strings.IndexByte(token, ';'); i >= 0 {
		token = token[:i]
	}
	if _, err := strconv.ParseUint(token, 10, 64); err != nil {
		return "", fmt.Errorf("%w: %q", ErrNoJobID, strings.TrimSpace(out))
	}
	return JobID(token), nil
}
