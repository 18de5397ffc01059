package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of log event
type EventType string

const (
	EventRunStart       EventType = "run_start"
	EventRunEnd         EventType = "run_end"
	EventScenarioStart  EventType = "scenario_start"
	EventScenarioEnd    EventType = "scenario_end"
	EventResolveStart   EventType = "resolve_start"
	EventResolveEnd     EventType = "resolve_end"
	EventSessionOpen    EventType = "session_open"
	EventReadyWait      EventType = "ready_wait"
	EventReadyOK        EventType = "ready_ok"
	EventStepStart      EventType = "step_start"
	EventStepEnd        EventType = "step_end"
	EventStateChange    EventType = "state_change"
	EventCapture        EventType = "capture"
	EventServiceStart   EventType = "service_start"
	EventServiceReady   EventType = "service_ready"
	EventServiceRestart EventType = "service_restart"
	EventServiceStop    EventType = "service_stop"
	EventWarning        EventType = "warning"
	EventError          EventType = "error"
)

// Event represents a single log event
type Event struct {
	Timestamp time.Time              `json:"ts"`
	Type      EventType              `json:"type"`
	Scenario  string                 `json:"scenario,omitempty"`
	Step      int                    `json:"step,omitempty"`
	Duration  *int64                 `json:"duration,omitempty"` // nanoseconds
	Success   *bool                  `json:"success,omitempty"`
	Message   string                 `json:"msg,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// RunLogger handles logging for a single vigil run. Scenarios run
// concurrently, so every event names its scenario explicitly and the
// encoder is guarded by a mutex.
type RunLogger struct {
	file      *os.File
	encoder   *json.Encoder
	mu        sync.Mutex
	runNumber int
	runID     string
	startTime time.Time
	enabled   bool
	config    *LoggingConfig
}

// LoggingConfig configures the logging system
type LoggingConfig struct {
	Enabled           bool `json:"enabled"`
	MaxRuns           int  `json:"maxRuns"`
	ConsoleTimestamps bool `json:"consoleTimestamps"`
	ConsoleDurations  bool `json:"consoleDurations"`
}

// DefaultLoggingConfig returns sensible defaults
func DefaultLoggingConfig() *LoggingConfig {
	return &LoggingConfig{
		Enabled:           true,
		MaxRuns:           10,
		ConsoleTimestamps: true,
		ConsoleDurations:  true,
	}
}

// NewRunLogger creates a new logger for a run
func NewRunLogger(projectRoot string, config *LoggingConfig) (*RunLogger, error) {
	if config == nil {
		config = DefaultLoggingConfig()
	}

	logger := &RunLogger{
		runID:     uuid.New().String(),
		startTime: time.Now(),
		enabled:   config.Enabled,
		config:    config,
	}

	if !config.Enabled {
		return logger, nil
	}

	logsDir := LogsDir(projectRoot)
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	// Determine run number
	runNumber := nextRunNumber(logsDir)
	logger.runNumber = runNumber

	// Rotate old runs
	if config.MaxRuns > 0 {
		rotateOldRuns(logsDir, config.MaxRuns)
	}

	// Create log file
	logPath := filepath.Join(logsDir, fmt.Sprintf("run-%03d.jsonl", runNumber))
	file, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger.file = file
	logger.encoder = json.NewEncoder(file)

	return logger, nil
}

// Close closes the log file
func (l *RunLogger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// RunNumber returns the current run number
func (l *RunLogger) RunNumber() int {
	return l.runNumber
}

// RunID returns the unique id of this run
func (l *RunLogger) RunID() string {
	return l.runID
}

// LogPath returns the path to the current log file
func (l *RunLogger) LogPath() string {
	if l.file != nil {
		return l.file.Name()
	}
	return ""
}

// logEvent is an internal helper that writes an event with all fields
func (l *RunLogger) logEvent(event Event) {
	if !l.enabled || l.file == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	l.encoder.Encode(event)
}

// Convenience methods for specific event types

// RunStart logs the start of a run
func (l *RunLogger) RunStart(scenarioCount, parallel int) {
	l.logEvent(Event{
		Type: EventRunStart,
		Data: map[string]interface{}{
			"scenarios":  scenarioCount,
			"parallel":   parallel,
			"run_number": l.runNumber,
			"run_id":     l.runID,
		},
	})
}

// RunEnd logs the end of a run
func (l *RunLogger) RunEnd(success bool, summary string) {
	duration := time.Since(l.startTime).Nanoseconds()
	l.logEvent(Event{
		Type:     EventRunEnd,
		Duration: &duration,
		Success:  &success,
		Message:  summary,
	})
}

// ScenarioStart logs the start of a scenario
func (l *RunLogger) ScenarioStart(scenario string, stepCount int) {
	l.logEvent(Event{
		Type:     EventScenarioStart,
		Scenario: scenario,
		Data: map[string]interface{}{
			"steps": stepCount,
		},
	})
}

// ScenarioEnd logs the end of a scenario
func (l *RunLogger) ScenarioEnd(scenario, status string, durationNs int64, failedStep string) {
	success := status == string(ScenarioPassed)
	data := map[string]interface{}{
		"status": status,
	}
	if failedStep != "" {
		data["failed_step"] = failedStep
	}
	l.logEvent(Event{
		Type:     EventScenarioEnd,
		Scenario: scenario,
		Duration: &durationNs,
		Success:  &success,
		Data:     data,
	})
}

// ResolveStart logs the start of target resolution
func (l *RunLogger) ResolveStart(scenario string, hintCount int) {
	l.logEvent(Event{
		Type:     EventResolveStart,
		Scenario: scenario,
		Data: map[string]interface{}{
			"hints": hintCount,
		},
	})
}

// ResolveEnd logs the outcome of target resolution
func (l *RunLogger) ResolveEnd(scenario, endpoint string, durationNs int64, err error) {
	success := err == nil
	data := map[string]interface{}{}
	if endpoint != "" {
		data["endpoint"] = endpoint
	}
	if err != nil {
		data["error"] = err.Error()
	}
	l.logEvent(Event{
		Type:     EventResolveEnd,
		Scenario: scenario,
		Duration: &durationNs,
		Success:  &success,
		Data:     data,
	})
}

// SessionOpen logs a browser session opening
func (l *RunLogger) SessionOpen(scenario, endpoint string) {
	l.logEvent(Event{
		Type:     EventSessionOpen,
		Scenario: scenario,
		Data: map[string]interface{}{
			"endpoint": endpoint,
		},
	})
}

// ReadyWait logs the start of the readiness gate
func (l *RunLogger) ReadyWait(scenario string) {
	l.logEvent(Event{
		Type:     EventReadyWait,
		Scenario: scenario,
	})
}

// ReadyOK logs the readiness gate opening
func (l *RunLogger) ReadyOK(scenario string, durationNs int64) {
	l.logEvent(Event{
		Type:     EventReadyOK,
		Scenario: scenario,
		Duration: &durationNs,
	})
}

// StepStart logs the start of a step
func (l *RunLogger) StepStart(scenario string, step int, name, action string) {
	l.logEvent(Event{
		Type:     EventStepStart,
		Scenario: scenario,
		Step:     step,
		Data: map[string]interface{}{
			"name":   name,
			"action": action,
		},
	})
}

// StepEnd logs the end of a step
func (l *RunLogger) StepEnd(scenario string, step int, name string, success bool, durationNs int64, detail string) {
	l.logEvent(Event{
		Type:     EventStepEnd,
		Scenario: scenario,
		Step:     step,
		Duration: &durationNs,
		Success:  &success,
		Message:  detail,
		Data: map[string]interface{}{
			"name": name,
		},
	})
}

// StateChange logs a runner state transition
func (l *RunLogger) StateChange(scenario, from, to string) {
	l.logEvent(Event{
		Type:     EventStateChange,
		Scenario: scenario,
		Data: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	})
}

// Capture logs an artifact being written
func (l *RunLogger) Capture(scenario, kind, path string) {
	l.logEvent(Event{
		Type:     EventCapture,
		Scenario: scenario,
		Data: map[string]interface{}{
			"kind": kind,
			"path": path,
		},
	})
}

// ServiceStart logs a service start
func (l *RunLogger) ServiceStart(name, cmd string) {
	l.logEvent(Event{
		Type: EventServiceStart,
		Data: map[string]interface{}{
			"name": name,
			"cmd":  cmd,
		},
	})
}

// ServiceReady logs a service becoming ready
func (l *RunLogger) ServiceReady(name, url string, durationNs int64) {
	l.logEvent(Event{
		Type:     EventServiceReady,
		Duration: &durationNs,
		Data: map[string]interface{}{
			"name": name,
			"url":  url,
		},
	})
}

// ServiceRestart logs a service restart
func (l *RunLogger) ServiceRestart(name string, success bool) {
	l.logEvent(Event{
		Type:    EventServiceRestart,
		Success: &success,
		Data: map[string]interface{}{
			"name": name,
		},
	})
}

// ServiceStop logs a service being stopped
func (l *RunLogger) ServiceStop(name string) {
	l.logEvent(Event{
		Type: EventServiceStop,
		Data: map[string]interface{}{
			"name": name,
		},
	})
}

// Warning logs a warning message
func (l *RunLogger) Warning(msg string) {
	l.logEvent(Event{
		Type:    EventWarning,
		Message: msg,
	})
}

// Error logs an error message
func (l *RunLogger) Error(msg string, err error) {
	data := make(map[string]interface{})
	if err != nil {
		data["error"] = err.Error()
	}
	l.logEvent(Event{
		Type:    EventError,
		Message: msg,
		Data:    data,
	})
}

// Console output helpers with timestamps

// LogPrint prints a timestamped message to stdout
func (l *RunLogger) LogPrint(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if l.config != nil && l.config.ConsoleTimestamps {
		timestamp := time.Now().Format("15:04:05")
		fmt.Printf("[%s] %s", timestamp, msg)
	} else {
		fmt.Print(msg)
	}
}

// LogPrintln prints a timestamped message with newline to stdout
func (l *RunLogger) LogPrintln(args ...interface{}) {
	msg := fmt.Sprint(args...)
	if l.config != nil && l.config.ConsoleTimestamps {
		timestamp := time.Now().Format("15:04:05")
		fmt.Printf("[%s] %s\n", timestamp, msg)
	} else {
		fmt.Println(msg)
	}
}

// FormatDuration formats a duration for display
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.0fms", float64(d.Milliseconds()))
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	if seconds == 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}

// Helper functions

// nextRunNumber determines the next run number based on existing logs
func nextRunNumber(logsDir string) int {
	entries, err := os.ReadDir(logsDir)
	if err != nil {
		return 1
	}

	maxRun := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "run-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		// Extract number from run-XXX.jsonl
		numStr := strings.TrimPrefix(name, "run-")
		numStr = strings.TrimSuffix(numStr, ".jsonl")
		if num, err := strconv.Atoi(numStr); err == nil && num > maxRun {
			maxRun = num
		}
	}

	return maxRun + 1
}

// rotateOldRuns deletes runs beyond maxRuns (keeps most recent)
func rotateOldRuns(logsDir string, maxRuns int) {
	entries, err := os.ReadDir(logsDir)
	if err != nil {
		return
	}

	var runFiles []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, "run-") && strings.HasSuffix(name, ".jsonl") {
			runFiles = append(runFiles, name)
		}
	}

	if len(runFiles) <= maxRuns {
		return
	}

	// Sort by run number (ascending)
	sort.Slice(runFiles, func(i, j int) bool {
		numI := extractRunNumber(runFiles[i])
		numJ := extractRunNumber(runFiles[j])
		return numI < numJ
	})

	// Delete oldest files
	toDelete := len(runFiles) - maxRuns
	for i := 0; i < toDelete; i++ {
		os.Remove(filepath.Join(logsDir, runFiles[i]))
	}
}

// extractRunNumber extracts the run number from a filename like "run-001.jsonl"
func extractRunNumber(filename string) int {
	numStr := strings.TrimPrefix(filename, "run-")
	numStr = strings.TrimSuffix(numStr, ".jsonl")
	num, _ := strconv.Atoi(numStr)
	return num
}

// LogsDir returns the path to the logs directory
func LogsDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".vigil", "logs")
}

// ListRuns returns all run log files for a project
func ListRuns(projectRoot string) ([]RunSummary, error) {
	logsDir := LogsDir(projectRoot)
	entries, err := os.ReadDir(logsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var runs []RunSummary
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "run-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}

		runNum := extractRunNumber(name)
		logPath := filepath.Join(logsDir, name)

		info, err := entry.Info()
		if err != nil {
			continue
		}

		summary := RunSummary{
			RunNumber: runNum,
			LogPath:   logPath,
			FileSize:  info.Size(),
			ModTime:   info.ModTime(),
		}

		// Try to read first and last events for summary
		if first, last := readFirstLastEvents(logPath); first != nil {
			summary.StartTime = first.Timestamp
			if last != nil && last.Type == EventRunEnd {
				summary.EndTime = &last.Timestamp
				summary.Success = last.Success
				summary.Summary = last.Message
			}
		}

		runs = append(runs, summary)
	}

	// Sort by run number descending (most recent first)
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].RunNumber > runs[j].RunNumber
	})

	return runs, nil
}

// RunSummary contains summary info about a run
type RunSummary struct {
	RunNumber int
	LogPath   string
	FileSize  int64
	ModTime   time.Time
	StartTime time.Time
	EndTime   *time.Time
	Success   *bool
	Summary   string
}

// readFirstLastEvents reads the first and last events from a log file
func readFirstLastEvents(logPath string) (*Event, *Event) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, nil
	}
	defer file.Close()

	var first, last *Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}

		if first == nil {
			first = &event
		}
		last = &event
	}

	return first, last
}

// ReadEvents reads events from a log file with optional filtering
func ReadEvents(logPath string, filter *EventFilter) ([]Event, error) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ReadEventsFromReader(file, filter)
}

// ReadEventsFromReader reads events from an io.Reader with optional filtering
func ReadEventsFromReader(r io.Reader, filter *EventFilter) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}

		if filter != nil && !filter.Match(&event) {
			continue
		}

		events = append(events, event)
	}

	return events, scanner.Err()
}

// EventFilter filters events when reading logs
type EventFilter struct {
	EventType EventType
	Scenario  string
	Offset    int
	Limit     int
}

// Match returns true if the event matches the filter
func (f *EventFilter) Match(event *Event) bool {
	if f.EventType != "" && event.Type != f.EventType {
		return false
	}
	if f.Scenario != "" && event.Scenario != f.Scenario {
		return false
	}
	return true
}

// GetRunSummary generates a detailed summary of a run
func GetRunSummary(logPath string) (*DetailedRunSummary, error) {
	events, err := ReadEvents(logPath, nil)
	if err != nil {
		return nil, err
	}

	summary := &DetailedRunSummary{
		Scenarios: make(map[string]*ScenarioSummary),
	}

	scenarioStarts := make(map[string]time.Time)

	for _, event := range events {
		switch event.Type {
		case EventRunStart:
			summary.StartTime = event.Timestamp
			if data := event.Data; data != nil {
				if n, ok := data["run_number"].(float64); ok {
					summary.RunNumber = int(n)
				}
				if id, ok := data["run_id"].(string); ok {
					summary.RunID = id
				}
			}

		case EventRunEnd:
			summary.EndTime = &event.Timestamp
			summary.Success = event.Success
			summary.Result = event.Message

		case EventScenarioStart:
			scenarioStarts[event.Scenario] = event.Timestamp
			if _, exists := summary.Scenarios[event.Scenario]; !exists {
				summary.Scenarios[event.Scenario] = &ScenarioSummary{
					Name: event.Scenario,
				}
			}

		case EventScenarioEnd:
			s, exists := summary.Scenarios[event.Scenario]
			if !exists {
				s = &ScenarioSummary{Name: event.Scenario}
				summary.Scenarios[event.Scenario] = s
			}
			if start, ok := scenarioStarts[event.Scenario]; ok {
				d := event.Timestamp.Sub(start)
				s.Duration = &d
			}
			s.Success = event.Success
			if event.Data != nil {
				if st, ok := event.Data["status"].(string); ok {
					s.Status = st
				}
				if fs, ok := event.Data["failed_step"].(string); ok {
					s.FailedStep = fs
				}
			}

		case EventStepEnd:
			if s, exists := summary.Scenarios[event.Scenario]; exists {
				s.Steps++
			}

		case EventCapture:
			summary.Artifacts++

		case EventWarning:
			summary.Warnings++

		case EventError:
			summary.Errors++
		}
	}

	// Calculate total duration
	if summary.EndTime != nil {
		d := summary.EndTime.Sub(summary.StartTime)
		summary.Duration = &d
	}

	return summary, nil
}

// DetailedRunSummary contains detailed information about a run
type DetailedRunSummary struct {
	RunNumber int
	RunID     string
	StartTime time.Time
	EndTime   *time.Time
	Duration  *time.Duration
	Success   *bool
	Result    string
	Scenarios map[string]*ScenarioSummary
	Artifacts int
	Warnings  int
	Errors    int
}

// ScenarioSummary contains summary info about a scenario's execution
type ScenarioSummary struct {
	Name       string
	Status     string
	FailedStep string
	Duration   *time.Duration
	Steps      int
	Success    *bool
}
