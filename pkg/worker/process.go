package worker

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Process is a running worker seen through its control pipe pair
type Process struct {
	Pid int

	in   io.WriteCloser
	out  io.ReadCloser
	fd   int
	kill func() error
}

// NewProcess wraps an already started worker. The driver writes commands
// to in and reads replies from out. kill may be nil.
func NewProcess(pid int, in io.WriteCloser, out io.ReadCloser, kill func() error) *Process {
	p := &Process{Pid: pid, in: in, out: out, fd: -1, kill: kill}
	if f, ok := out.(interface{ Fd() uintptr }); ok {
		p.fd = int(f.Fd())
	}
	return p
}

// Fd returns the descriptor to poll for replies, or -1 when out is not a file
func (p *Process) Fd() int {
	return p.fd
}

// Writer returns the command side of the pipe pair
func (p *Process) Writer() io.Writer {
	return p.in
}

// Reader returns the reply side of the pipe pair
func (p *Process) Reader() io.Reader {
	return p.out
}

// CloseInput closes the command pipe so the worker sees end of input
func (p *Process) CloseInput() error {
	if p.in == nil {
		return nil
	}
	err := p.in.Close()
	p.in = nil
	return err
}

// Detach closes both pipes and leaves the worker to exit on its own
func (p *Process) Detach() error {
	p.kill = nil
	return p.Close()
}

// Close kills the worker and closes both pipes
func (p *Process) Close() error {
	var errs []error
	if p.kill != nil {
		if err := p.kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, err)
		}
		p.kill = nil
	}
	if err := p.CloseInput(); err != nil {
		errs = append(errs, err)
	}
	if p.out != nil {
		if err := p.out.Close(); err != nil {
			errs = append(errs, err)
		}
		p.out = nil
	}
	return errors.Join(errs...)
}

// Spawner starts worker processes
type Spawner interface {
	Spawn(name string) (*Process, error)
}

// SpawnFunc adapts a function to Spawner
type SpawnFunc func(name string) (*Process, error)

// Spawn calls f
func (f SpawnFunc) Spawn(name string) (*Process, error) {
	return f(name)
}

// ExecSpawner runs Command with the worker name appended as last argument,
// wiring its stdin and stdout to a fresh pipe pair.
type ExecSpawner struct {
	Command []string
	Env     []string
	Stderr  io.Writer
}

// Spawn starts one worker
func (s *ExecSpawner) Spawn(name string) (*Process, error) {
	if len(s.Command) == 0 {
		return nil, fmt.Errorf("no command configured for %s", name)
	}

	cmdR, cmdW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create command pipe: %w", err)
	}
	replyR, replyW, err := os.Pipe()
	if err != nil {
		cmdR.Close()
		cmdW.Close()
		return nil, fmt.Errorf("failed to create reply pipe: %w", err)
	}

	args := append(append([]string{}, s.Command[1:]...), name)
	cmd := exec.Command(s.Command[0], args...)
	cmd.Stdin = cmdR
	cmd.Stdout = replyW
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}

	if err := cmd.Start(); err != nil {
		cmdR.Close()
		cmdW.Close()
		replyR.Close()
		replyW.Close()
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	// the child owns these ends now
	cmdR.Close()
	replyW.Close()

	go cmd.Wait()

	return NewProcess(cmd.Process.Pid, cmdW, replyR, cmd.Process.Kill), nil
}
