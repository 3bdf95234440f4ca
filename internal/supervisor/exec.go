package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/craftstudio/craftstudio/internal/logging"
	"github.com/craftstudio/craftstudio/internal/utils"
	"github.com/craftstudio/craftstudio/internal/workerconfig"
)

// ExecConfig configures an ExecSupervisor
type ExecConfig struct {
	// StopTimeout is how long a worker gets to exit after SIGINT
	StopTimeout time.Duration
	// Env is appended to the shell's environment for every worker
	Env []string
	// SkipPortProbe disables the check that the control port is free
	SkipPortProbe bool
}

// process is a worker the supervisor knows about. cmd is nil for workers
// adopted from a pid file, which were started by an earlier shell run.
type process struct {
	info ProcessInfo
	proc *os.Process
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *process) adopted() bool {
	return p.cmd == nil
}

func (p *process) exited() bool {
	if p.adopted() {
		return !processAlive(p.info.PID)
	}
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExecSupervisor runs workers as child processes of the shell
type ExecSupervisor struct {
	cfg    ExecConfig
	logger *logging.Logger

	mu    sync.Mutex
	procs map[int]*process

	wg sync.WaitGroup
}

// NewExecSupervisor creates an ExecSupervisor
func NewExecSupervisor(cfg ExecConfig, logger *logging.Logger) *ExecSupervisor {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = utils.DefaultStopTimeout
	}
	if logger == nil {
		logger = logging.Global()
	}
	return &ExecSupervisor{
		cfg:    cfg,
		logger: logger.Component("supervisor"),
		procs:  make(map[int]*process),
	}
}

// PIDFilePath returns the pid file location for a data dir
func PIDFilePath(dataDir string) string {
	return filepath.Join(dataDir, utils.WorkerPIDFile)
}

// Args builds the worker command line for a descriptor
func Args(desc Descriptor) []string {
	args := []string{"--data-dir", desc.DataDir}
	if desc.ControlPort > 0 {
		args = append(args, "--control-port", strconv.Itoa(desc.ControlPort))
	}
	if desc.SocketPath != "" {
		args = append(args, "--socket", desc.SocketPath)
	}
	if desc.ListenAddr != "" {
		args = append(args, "--listen", desc.ListenAddr)
	}
	if len(desc.Capabilities) > 0 {
		args = append(args, "--capabilities", strings.Join(desc.Capabilities, ","))
	}
	return args
}

// List returns the live workers, oldest first by pid
func (s *ExecSupervisor) List(ctx context.Context) ([]ProcessInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ProcessInfo, 0, len(s.procs))
	for pid, p := range s.procs {
		if p.exited() {
			if p.adopted() {
				delete(s.procs, pid)
			}
			continue
		}
		out = append(out, p.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

// Adopt registers a worker recorded in dataDir's pid file if it is still
// alive. It reports whether a worker was adopted.
func (s *ExecSupervisor) Adopt(dataDir string) (ProcessInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adoptLocked(dataDir)
}

func (s *ExecSupervisor) adoptLocked(dataDir string) (ProcessInfo, bool) {
	info, err := readPIDFile(dataDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Ignoring unreadable pid file", "data_dir", dataDir, "error", err)
		}
		return ProcessInfo{}, false
	}
	if existing, ok := s.procs[info.PID]; ok {
		return existing.info, true
	}
	if !processAlive(info.PID) {
		_ = os.Remove(PIDFilePath(dataDir))
		s.logger.Debug("Removed stale pid file", "data_dir", dataDir, "pid", info.PID)
		return ProcessInfo{}, false
	}

	proc, err := os.FindProcess(info.PID)
	if err != nil {
		return ProcessInfo{}, false
	}
	info.DataDir = dataDir
	s.procs[info.PID] = &process{info: info, proc: proc}
	s.logger.Info("Adopted running worker", "pid", info.PID, "control_port", info.ControlPort, "data_dir", dataDir)
	return info, true
}

// Start launches a worker. It returns ErrAlreadyRunning, together with the
// running worker's info when known, if the control port or data dir is
// already in use.
func (s *ExecSupervisor) Start(ctx context.Context, desc Descriptor) (ProcessInfo, error) {
	if err := desc.Validate(); err != nil {
		return ProcessInfo{}, err
	}
	if err := ctx.Err(); err != nil {
		return ProcessInfo{}, err
	}
	dataDir := filepath.Clean(desc.DataDir)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.procs {
		if p.exited() {
			continue
		}
		if (desc.ControlPort > 0 && p.info.ControlPort == desc.ControlPort) || filepath.Clean(p.info.DataDir) == dataDir {
			return p.info, ErrAlreadyRunning
		}
	}

	if info, ok := s.adoptLocked(dataDir); ok {
		return info, ErrAlreadyRunning
	}

	if desc.ControlPort > 0 && !s.cfg.SkipPortProbe && !portFree(desc.ControlPort) {
		return ProcessInfo{ControlPort: desc.ControlPort}, fmt.Errorf("control port %d in use: %w", desc.ControlPort, ErrAlreadyRunning)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return ProcessInfo{}, fmt.Errorf("failed to create data dir: %w", err)
	}

	cmd := exec.Command(desc.BinaryPath, Args(desc)...)
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Dir = dataDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return ProcessInfo{}, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return ProcessInfo{}, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return ProcessInfo{}, fmt.Errorf("failed to start worker: %w", err)
	}

	info := ProcessInfo{
		PID:         cmd.Process.Pid,
		ControlPort: desc.ControlPort,
		DataDir:     dataDir,
		StartedAt:   time.Now(),
	}
	p := &process{info: info, proc: cmd.Process, cmd: cmd, done: make(chan struct{})}
	s.procs[info.PID] = p

	if err := writePIDFile(dataDir, info); err != nil {
		s.logger.Warn("Failed to write pid file", "data_dir", dataDir, "error", err)
	}

	s.logger.Info("Worker started",
		"pid", info.PID,
		"control_port", info.ControlPort,
		"data_dir", dataDir,
		"command", cmd.String())

	s.reap(p, stdout, stderr)
	return info, nil
}

// reap streams the worker's output into the log and cleans up after exit
func (s *ExecSupervisor) reap(p *process, stdout, stderr io.ReadCloser) {
	log := s.logger.With("pid", p.info.PID)

	var readers sync.WaitGroup
	readers.Add(2)
	pipe := func(r io.ReadCloser, emit func(string, ...interface{}), msg string) {
		defer readers.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			emit(msg, "output", scanner.Text())
		}
	}
	go pipe(stdout, log.Info, "Worker stdout")
	go pipe(stderr, log.Warn, "Worker stderr")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		readers.Wait()
		err := p.cmd.Wait()

		s.mu.Lock()
		if cur, ok := s.procs[p.info.PID]; ok && cur == p {
			delete(s.procs, p.info.PID)
		}
		s.mu.Unlock()

		if rec, rerr := readPIDFile(p.info.DataDir); rerr == nil && rec.PID == p.info.PID {
			_ = os.Remove(PIDFilePath(p.info.DataDir))
		}

		if err != nil {
			log.Info("Worker exited", "error", err)
		} else {
			log.Info("Worker exited")
		}
		close(p.done)
	}()
}

// Stop sends SIGINT and escalates to SIGKILL after the stop timeout
func (s *ExecSupervisor) Stop(ctx context.Context, pid int) error {
	s.mu.Lock()
	p, ok := s.procs[pid]
	s.mu.Unlock()
	if !ok || p.exited() {
		return fmt.Errorf("pid %d: %w", pid, ErrNotFound)
	}

	log := s.logger.With("pid", pid)
	log.Info("Stopping worker", "control_port", p.info.ControlPort)

	if err := interrupt(p.proc); err != nil {
		log.Warn("Failed to interrupt worker", "error", err)
	}

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-s.exitOf(ctx, p):
		log.Info("Worker stopped")
		s.forget(p)
		return nil
	case <-timer.C:
		log.Warn("Worker did not exit in time, killing")
	case <-ctx.Done():
		log.Warn("Stop cancelled, killing worker")
	}

	if err := p.proc.Kill(); err != nil && !p.exited() {
		return fmt.Errorf("failed to kill worker %d: %w", pid, err)
	}
	<-s.exitOf(context.Background(), p)
	s.forget(p)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// exitOf returns a channel closed when p has exited
func (s *ExecSupervisor) exitOf(ctx context.Context, p *process) <-chan struct{} {
	if !p.adopted() {
		return p.done
	}
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for processAlive(p.info.PID) {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return ch
}

func (s *ExecSupervisor) forget(p *process) {
	if !p.adopted() {
		return
	}
	s.mu.Lock()
	delete(s.procs, p.info.PID)
	s.mu.Unlock()
	_ = os.Remove(PIDFilePath(p.info.DataDir))
}

// Shutdown stops every worker this supervisor launched. Adopted workers
// are left running.
func (s *ExecSupervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	var pids []int
	for pid, p := range s.procs {
		if !p.adopted() {
			pids = append(pids, pid)
		}
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(pids))
	for i, pid := range pids {
		wg.Add(1)
		go func(i, pid int) {
			defer wg.Done()
			if err := s.Stop(ctx, pid); err != nil && !errors.Is(err, ErrNotFound) {
				errs[i] = err
			}
		}(i, pid)
	}
	wg.Wait()
	s.wg.Wait()
	return errors.Join(errs...)
}

// portFree reports whether the loopback control port can be bound
func portFree(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

func readPIDFile(dataDir string) (ProcessInfo, error) {
	var info ProcessInfo
	data, err := os.ReadFile(PIDFilePath(dataDir))
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("failed to parse pid file: %w", err)
	}
	if info.PID <= 0 {
		return info, fmt.Errorf("invalid pid %d in pid file", info.PID)
	}
	return info, nil
}

func writePIDFile(dataDir string, info ProcessInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return workerconfig.WriteFileAtomic(PIDFilePath(dataDir), append(data, '\n'), 0o644)
}
