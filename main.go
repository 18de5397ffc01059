package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		showHelp()
		os.Exit(0)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd != "upgrade" {
		startUpdateCheck()
		defer printUpdateNotice()
	}

	switch cmd {
	case "-h", "--help", "help":
		showHelp()
	case "-v", "--version", "version":
		fmt.Printf("vigil v%s\n", version)
	case "init":
		cmdInit(args)
	case "run":
		cmdRun(args)
	case "check":
		cmdCheck(args)
	case "validate":
		cmdValidate(args)
	case "list":
		cmdList(args)
	case "logs":
		cmdLogs(args)
	case "doctor":
		cmdDoctor(args)
	case "upgrade":
		cmdUpgrade(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprintln(os.Stderr, "Run 'vigil --help' for usage.")
		os.Exit(1)
	}
}

func showHelp() {
	fmt.Printf(`vigil v%s - Browser-driven UI verification

Usage: vigil <command> [options]

Commands:
  init [--force]       Initialize vigil (creates vigil.config.json + verify/)
  run [scenario...]    Run scenarios against the live app
  check                Resolve the target endpoint without running anything
  validate [file...]   Validate scenario files
  list                 List discovered scenarios
  logs                 View run logs (--list, --summary, --follow, etc.)
  doctor               Check vigil environment
  upgrade              Upgrade vigil to the latest version

Options:
  -h, --help           Show this help message
  -v, --version        Show version number

Examples:
  vigil init                    # Initialize vigil in current project
  vigil run                     # Run every scenario in verify/
  vigil run login checkout      # Run specific scenarios by name
  vigil run --parallel 4        # Run up to 4 scenarios at once
  vigil check                   # Find the dev server, print its URL
  vigil logs --summary          # Quick summary of the latest run

File Structure:
  vigil.config.json             # Project configuration (required)
  verify/                       # Scenario files (*.yaml)
  .vigil/
    artifacts/login/            # Screenshots, DOM and console dumps
    logs/run-001.jsonl          # Structured run logs
`, version)
}
