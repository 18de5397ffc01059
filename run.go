package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
)

// runSuite executes the given scenarios end to end: lock, services,
// browser sessions, summary. Returns whether every scenario passed;
// the error covers operational failures, not scenario verdicts.
func runSuite(cfg *ResolvedConfig, scenarios []*Scenario, jsonOut bool) (bool, error) {
	// Create cleanup coordinator early for signal handling
	cleanup := NewCleanupCoordinator()

	// Initialize logger
	logger, err := NewRunLogger(cfg.ProjectRoot, cfg.Config.Logging)
	if err != nil {
		return false, fmt.Errorf("failed to initialize logger: %w", err)
	}
	cleanup.SetLogger(logger)
	defer logger.Close()

	// Acquire lock
	lock := NewLockFile(cfg.ProjectRoot)
	if err := lock.Acquire(logger.RunID(), len(scenarios)); err != nil {
		return false, err
	}
	cleanup.SetLock(lock)
	defer lock.Release()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\nInterrupted. Cleaning up and exiting...")
		cleanup.Cleanup()
		os.Exit(130)
	}()

	// Start configured services so the target has something to resolve
	svcMgr := NewServiceManager(cfg.ProjectRoot, cfg.Config.Services, logger)
	if svcMgr.HasServices() {
		cleanup.SetServiceManager(svcMgr)
		defer svcMgr.StopAll()
		if err := svcMgr.EnsureRunning(); err != nil {
			return false, fmt.Errorf("failed to start services: %w", err)
		}
		if err := svcMgr.RestartForRun(); err != nil {
			logger.Warning(fmt.Sprintf("service restart failed: %v", err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Config.RunTimeoutDuration())
	defer cancel()
	cleanup.SetCancel(cancel)

	logger.RunStart(len(scenarios), cfg.Config.Parallel)
	logger.LogPrint("vigil run #%d: %d scenario(s), parallel=%d", logger.RunNumber(), len(scenarios), cfg.Config.Parallel)

	suite := NewSuite(cfg, logger)
	results := suite.Run(ctx, scenarios)

	// Persist machine-readable results next to the logs
	resultsPath := filepath.Join(cfg.ProjectRoot, ".vigil", "results.json")
	if err := AtomicWriteJSON(resultsPath, results); err != nil {
		logger.Warning(fmt.Sprintf("failed to write results.json: %v", err))
	}

	ok := AllPassed(results)
	logger.RunEnd(ok, fmt.Sprintf("%d/%d scenarios passed", CountPassed(results), len(results)))

	if jsonOut {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return ok, fmt.Errorf("failed to marshal results: %w", err)
		}
		fmt.Println(string(data))
		return ok, nil
	}

	PrintSummary(results)

	// When nothing resolved, the dev server's own output is usually
	// the answer. Surface its tail.
	if svcMgr.HasServices() {
		for i := range results {
			if results[i].ErrorKind != "ResolutionError" {
				continue
			}
			for _, svc := range cfg.Config.Services {
				if out := svcMgr.GetRecentOutput(svc.Name, 15); out != "" {
					fmt.Printf("\nRecent output from '%s':\n%s\n", svc.Name, out)
				}
			}
			break
		}
	}

	return ok, nil
}
