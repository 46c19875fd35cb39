package vod

import (
	"bufio"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// how long can a single probe take
const probeTimeout = 30 * time.Second

// how long can a single encoder run before it is considered stuck
const encodeTimeout = 6 * time.Hour

// how long after SIGTERM before the process is killed for good
const killGracePeriod = 5 * time.Second

// processCtx wraps a running external command. Stdout is exposed line by line,
// stderr is forwarded to the logger so operators see what ffmpeg complains
// about.
type processCtx struct {
	logger zerolog.Logger
	cmd    *exec.Cmd

	lines chan string
	done  chan struct{}

	exitCode int
	killOnce sync.Once
}

// startProcess spawns the command and starts consuming its output. The process
// is killed once the deadline elapses.
func startProcess(logger zerolog.Logger, binary string, args []string, deadline time.Duration) (*processCtx, error) {
	p := &processCtx{
		logger: logger,
		cmd:    exec.Command(binary, args...),
		lines:  make(chan string, 1),
		done:   make(chan struct{}),
	}

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := p.cmd.Start(); err != nil {
		return nil, err
	}

	watchdog := time.AfterFunc(deadline, func() {
		p.logger.Warn().Msg("process deadline reached, killing")
		p.Kill()
	})

	wg := sync.WaitGroup{}
	wg.Add(2)

	// handle stdout
	go func() {
		defer wg.Done()

		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			p.lines <- scanner.Text()
		}

		if err := scanner.Err(); err != nil {
			p.logger.Err(err).Msg("error while reading process stdout")
		}
	}()

	// handle stderr
	go func() {
		defer wg.Done()

		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			p.logger.Warn().Msg(strings.TrimSpace(scanner.Text()))
		}
	}()

	// await exit
	go func() {
		wg.Wait()

		err := p.cmd.Wait()
		watchdog.Stop()

		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				p.exitCode = exitErr.ExitCode()
			} else {
				p.exitCode = -1
			}
		}

		close(p.lines)
		close(p.done)
	}()

	return p, nil
}

func (p *processCtx) Segments() <-chan string {
	return p.lines
}

func (p *processCtx) Done() <-chan struct{} {
	return p.done
}

func (p *processCtx) ExitCode() int {
	return p.exitCode
}

// Kill asks the process to terminate and escalates to SIGKILL if it does not
// exit within the grace period.
func (p *processCtx) Kill() {
	p.killOnce.Do(func() {
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			return
		}

		force := time.AfterFunc(killGracePeriod, func() {
			_ = p.cmd.Process.Kill()
		})

		go func() {
			<-p.done
			force.Stop()
		}()
	})
}
