package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// capturedOutput keeps a bounded in-memory tail of service output and
// optionally forwards every write to a log file. The file is what
// logfile hints scan for port announcements.
type capturedOutput struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	maxBytes int
	forward  io.Writer
}

func (co *capturedOutput) Write(p []byte) (n int, err error) {
	co.mu.Lock()
	defer co.mu.Unlock()
	// Trim from front if buffer exceeds max
	if co.buf.Len()+len(p) > co.maxBytes {
		data := co.buf.Bytes()
		keep := co.maxBytes / 2
		if len(data) > keep {
			data = data[len(data)-keep:]
		}
		co.buf.Reset()
		co.buf.Write(data)
	}
	co.buf.Write(p)
	if co.forward != nil {
		co.forward.Write(p)
	}
	return len(p), nil
}

func (co *capturedOutput) String() string {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.buf.String()
}

// ServiceManager manages services (dev server, etc.)
type ServiceManager struct {
	projectRoot string
	services    []ServiceConfig
	processes   map[string]*exec.Cmd
	outputs     map[string]*capturedOutput
	logFiles    map[string]*os.File
	httpClient  *http.Client
	logger      *RunLogger
}

// NewServiceManager creates a new service manager. logger may be nil
// when no run is in progress (doctor, check).
func NewServiceManager(projectRoot string, services []ServiceConfig, logger *RunLogger) *ServiceManager {
	return &ServiceManager{
		projectRoot: projectRoot,
		services:    services,
		processes:   make(map[string]*exec.Cmd),
		outputs:     make(map[string]*capturedOutput),
		logFiles:    make(map[string]*os.File),
		httpClient:  &http.Client{Timeout: 2 * time.Second},
		logger:      logger,
	}
}

// EnsureRunning ensures all services are running and ready
func (sm *ServiceManager) EnsureRunning() error {
	for _, svc := range sm.services {
		if err := sm.ensureServiceRunning(svc); err != nil {
			return fmt.Errorf("service %s: %w", svc.Name, err)
		}
	}
	return nil
}

// RestartForRun restarts services that have restartBeforeRun=true
func (sm *ServiceManager) RestartForRun() error {
	for _, svc := range sm.services {
		if svc.RestartBeforeRun {
			fmt.Printf("Restarting service: %s\n", svc.Name)
			err := sm.restartService(svc)
			if sm.logger != nil {
				sm.logger.ServiceRestart(svc.Name, err == nil)
			}
			if err != nil {
				return fmt.Errorf("failed to restart %s: %w", svc.Name, err)
			}
		}
	}
	return nil
}

// StopAll stops all managed services. Safe to call multiple times (idempotent).
func (sm *ServiceManager) StopAll() {
	if sm.processes == nil {
		return // Already stopped
	}
	for name, cmd := range sm.processes {
		if cmd.Process != nil {
			fmt.Printf("Stopping service: %s\n", name)
			if sm.logger != nil {
				sm.logger.ServiceStop(name)
			}
			// Signal the process group so child processes are also terminated
			syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)

			// Wait briefly, then force kill the group
			done := make(chan error, 1)
			go func() { done <- cmd.Wait() }()

			select {
			case <-done:
				// Process exited
			case <-time.After(5 * time.Second):
				syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
		}
	}
	for _, f := range sm.logFiles {
		f.Close()
	}
	sm.logFiles = make(map[string]*os.File)
	sm.processes = nil // Mark as stopped
}

// ensureServiceRunning ensures a single service is running
func (sm *ServiceManager) ensureServiceRunning(svc ServiceConfig) error {
	// Check if already ready
	if svc.Ready != "" && sm.isReady(svc.Ready) {
		return nil
	}

	// Start if we have a start command
	if svc.Start != "" {
		if err := sm.startService(svc); err != nil {
			return err
		}
	}

	// Without a ready URL, target resolution is the gate.
	if svc.Ready == "" {
		return nil
	}
	return sm.waitForReady(svc)
}

// startService starts a service
func (sm *ServiceManager) startService(svc ServiceConfig) error {
	// Stop if already running
	if cmd, exists := sm.processes[svc.Name]; exists && cmd.Process != nil {
		syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		time.Sleep(time.Second)
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		cmd.Wait()
	}

	// Start the service with output capture
	cmd := exec.Command("sh", "-c", svc.Start)
	cmd.Dir = sm.projectRoot
	co := &capturedOutput{maxBytes: 256 * 1024}

	if svc.LogFile != "" {
		if f, err := sm.openLogFile(svc); err != nil {
			fmt.Printf("Warning: cannot write %s: %v\n", svc.LogFile, err)
		} else {
			co.forward = f
			sm.logFiles[svc.Name] = f
		}
	}

	sm.outputs[svc.Name] = co
	cmd.Stdout = co
	cmd.Stderr = co

	// Set process group so we can kill all children
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	sm.processes[svc.Name] = cmd
	fmt.Printf("Started service: %s (PID %d)\n", svc.Name, cmd.Process.Pid)
	if sm.logger != nil {
		sm.logger.ServiceStart(svc.Name, svc.Start)
	}

	return nil
}

// openLogFile truncates and reopens the service log so port scans only
// ever see output from the current process.
func (sm *ServiceManager) openLogFile(svc ServiceConfig) (*os.File, error) {
	if old, ok := sm.logFiles[svc.Name]; ok {
		old.Close()
		delete(sm.logFiles, svc.Name)
	}
	path := svc.LogFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(sm.projectRoot, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

// restartService restarts a service
func (sm *ServiceManager) restartService(svc ServiceConfig) error {
	// Stop if running
	if cmd, exists := sm.processes[svc.Name]; exists && cmd.Process != nil {
		// Kill the process group
		syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		time.Sleep(time.Second)
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		cmd.Wait()
		delete(sm.processes, svc.Name)
	}

	// Wait a moment for ports to be released
	time.Sleep(time.Second)

	// Start fresh
	if svc.Start != "" {
		if err := sm.startService(svc); err != nil {
			return err
		}
		if svc.Ready == "" {
			return nil
		}
		return sm.waitForReady(svc)
	}

	return nil
}

// waitForReady waits for a service to be ready
func (sm *ServiceManager) waitForReady(svc ServiceConfig) error {
	timeout := time.Duration(svc.ReadyTimeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for ready (%s)", svc.Ready)
		case <-ticker.C:
			if sm.isReady(svc.Ready) {
				fmt.Printf("Service ready: %s\n", svc.Name)
				if sm.logger != nil {
					sm.logger.ServiceReady(svc.Name, svc.Ready, time.Since(start).Nanoseconds())
				}
				return nil
			}
		}
	}
}

// isReady checks if a URL is responding
func (sm *ServiceManager) isReady(url string) bool {
	resp, err := sm.httpClient.Get(url)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// HasServices returns true if there are services configured
func (sm *ServiceManager) HasServices() bool {
	return len(sm.services) > 0
}

// CheckServiceHealth checks if all started services are still responding.
func (sm *ServiceManager) CheckServiceHealth() []string {
	var issues []string
	for _, svc := range sm.services {
		if svc.Ready == "" {
			continue
		}
		if _, started := sm.processes[svc.Name]; started {
			if !sm.isReady(svc.Ready) {
				issues = append(issues, fmt.Sprintf("service '%s' not responding at %s", svc.Name, svc.Ready))
			}
		}
	}
	return issues
}

// GetRecentOutput returns the last maxLines lines of captured output for a service.
func (sm *ServiceManager) GetRecentOutput(name string, maxLines int) string {
	co, ok := sm.outputs[name]
	if !ok {
		return ""
	}
	output := co.String()
	lines := strings.Split(output, "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, "\n")
}
