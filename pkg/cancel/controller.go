// Package cancel implements cooperative cancellation for a crank run: a
// stop-file watcher plus OS signal handling, with registered callbacks run
// exactly once when cancellation fires.
package cancel

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Controller watches for cancellation conditions and fans them out to
// registered callbacks.
type Controller struct {
	stopFile       string
	stopCh         chan struct{}
	stopped        bool
	reason         string
	mutex          sync.RWMutex
	callbacks      []func()
	pollInterval   time.Duration
	signalHandlers bool
}

// Config configures a Controller.
type Config struct {
	// StopFile is the path watched for the presence of a cancellation marker.
	StopFile string

	// PollInterval bounds how often StopFile is checked.
	PollInterval time.Duration

	// EnableSignalHandlers additionally cancels on SIGINT/SIGTERM.
	EnableSignalHandlers bool
}

// New creates a new cancel controller.
func New(cfg Config) *Controller {
	if cfg.StopFile == "" {
		cfg.StopFile = "/tmp/flywheel-emergency-stop"
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 1 * time.Second
	}

	return &Controller{
		stopFile:       cfg.StopFile,
		stopCh:         make(chan struct{}),
		callbacks:      make([]func(), 0),
		pollInterval:   cfg.PollInterval,
		signalHandlers: cfg.EnableSignalHandlers,
	}
}

// Start begins monitoring for cancellation conditions in the background.
func (c *Controller) Start(ctx context.Context) {
	go c.watchStopFile(ctx)

	if c.signalHandlers {
		go c.watchSignals(ctx)
	}
}

func (c *Controller) watchStopFile(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.checkStopFile() {
				c.trigger("stop file detected at " + c.stopFile)
				return
			}
		}
	}
}

func (c *Controller) watchSignals(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		signal.Stop(sigCh)
	case sig := <-sigCh:
		c.trigger(fmt.Sprintf("signal: %v", sig))
		signal.Stop(sigCh)
	}
}

func (c *Controller) checkStopFile() bool {
	_, err := os.Stat(c.stopFile)
	return err == nil
}

// trigger fires cancellation exactly once and runs all registered callbacks.
func (c *Controller) trigger(reason string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.stopped {
		return
	}

	c.stopped = true
	c.reason = reason
	close(c.stopCh)

	for _, callback := range c.callbacks {
		callback()
	}
}

// Cancel manually triggers cancellation, e.g. on a fatal non-local error.
func (c *Controller) Cancel(reason string) {
	c.trigger(reason)
}

// Cancelled reports whether cancellation has been triggered.
func (c *Controller) Cancelled() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.stopped
}

// Reason returns the reason cancellation was triggered, or "" if not yet cancelled.
func (c *Controller) Reason() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.reason
}

// Done returns a channel that closes when cancellation is triggered.
func (c *Controller) Done() <-chan struct{} {
	return c.stopCh
}

// OnCancel registers a callback run when cancellation is triggered. Safe to
// call before or after Start.
func (c *Controller) OnCancel(callback func()) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.callbacks = append(c.callbacks, callback)
}

// CreateStopFile creates the cancellation marker file, e.g. from an
// out-of-band operator action.
func (c *Controller) CreateStopFile() error {
	f, err := os.Create(c.stopFile)
	if err != nil {
		return fmt.Errorf("failed to create stop file: %w", err)
	}
	defer f.Close()

	_, err = f.WriteString(fmt.Sprintf("cancellation requested at %s\n", time.Now().Format(time.RFC3339)))
	if err != nil {
		return fmt.Errorf("failed to write stop file: %w", err)
	}
	return nil
}

// RemoveStopFile removes the cancellation marker file, ignoring a missing file.
func (c *Controller) RemoveStopFile() error {
	err := os.Remove(c.stopFile)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stop file: %w", err)
	}
	return nil
}

// StopFilePath returns the path watched for cancellation.
func (c *Controller) StopFilePath() string {
	return c.stopFile
}
