package bridge

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapio"

	"mcpbridge-go/internal/config"
	"mcpbridge-go/internal/logs"
	"mcpbridge-go/internal/registry"
)

// stopGracePeriod is how long a bridge process gets to exit after SIGTERM
// before it is killed.
const stopGracePeriod = 5 * time.Second

// Process is a handle on a launched bridge worker.
type Process interface {
	PID() int
	Stop(ctx context.Context) error
}

// Launcher spawns bridge worker processes.
type Launcher interface {
	Launch(ctx context.Context, rec *registry.TranslationRecord) (Process, error)
}

// execLauncher launches the configured bridge worker binary, one process per
// bridge, with the target service described through environment variables.
type execLauncher struct {
	command string
	args    []string
	logCfg  *config.LogConfig
	logger  *zap.Logger
}

// NewExecLauncher creates the default os/exec based launcher.
func NewExecLauncher(cfg *config.Config, logger *zap.Logger) Launcher {
	return &execLauncher{
		command: cfg.BridgeCommand,
		args:    cfg.BridgeArgs,
		logCfg:  cfg.Logging,
		logger:  logger.Named("launcher"),
	}
}

func (l *execLauncher) Launch(ctx context.Context, rec *registry.TranslationRecord) (Process, error) {
	cmd := exec.Command(l.command, l.args...)
	cmd.Env = append(os.Environ(),
		"OPENAPI_BASE_URL="+rec.Service.BaseURL,
		"OPENAPI_SPEC_URL="+rec.Service.SpecURL,
		"BRIDGE_PORT="+strconv.Itoa(rec.Port),
		"BRIDGE_ID="+rec.ID,
	)

	bridgeLogger, err := logs.CreateBridgeLogger(l.logCfg, rec.ID)
	if err != nil {
		l.logger.Warn("Failed to create bridge log file, discarding process output",
			zap.String("bridge", rec.ID), zap.Error(err))
		bridgeLogger = zap.NewNop()
	}
	logWriter := &zapio.Writer{Log: bridgeLogger, Level: zap.InfoLevel}
	cmd.Stdout = logWriter
	cmd.Stderr = logWriter

	if err := cmd.Start(); err != nil {
		_ = logWriter.Close()
		return nil, fmt.Errorf("failed to start %s: %w", l.command, err)
	}

	proc := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		proc.waitErr = cmd.Wait()
		_ = logWriter.Close()
		close(proc.done)
	}()

	l.logger.Info("Launched bridge process",
		zap.String("bridge", rec.ID),
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("port", rec.Port))
	return proc, nil
}

type execProcess struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
}

func (p *execProcess) PID() int {
	return p.cmd.Process.Pid
}

// Stop asks the process to exit and kills it when the grace period runs out.
func (p *execProcess) Stop(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone, or a platform without SIGTERM delivery.
		_ = p.cmd.Process.Kill()
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(stopGracePeriod):
	case <-ctx.Done():
	}

	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to kill pid %d: %w", p.cmd.Process.Pid, err)
	}
	<-p.done
	return nil
}
