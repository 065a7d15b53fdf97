package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/config"
)

const version = "0.3.0"

// stdin is swapped in tests.
var stdin io.Reader = os.Stdin

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
//
// Exit codes:
//
//	0 = success
//	1 = runtime failure
//	2 = usage error
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	switch args[1] {
	case "decrypt":
		return runDecryptCmd(args[2:], stdout, stderr)
	case "reconcile":
		return runReconcileCmd(cfg, args[2:], stdout, stderr)
	case "simulate-call":
		return runSimulateCallCmd(cfg, args[2:], stdout, stderr)
	case "emulator":
		return runEmulatorCmd(cfg, args[2:], stdout, stderr)
	case "doctor":
		return runDoctorCmd(cfg, stdout)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "gpw %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "gpw - notification registration and call-session diagnostics")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  gpw <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	printCommand(w, "decrypt", "Decode a push envelope (--file, --secret, --device)")
	printCommand(w, "reconcile", "Run one registration reconciliation (--auth, --push, --voip)")
	printCommand(w, "simulate-call", "Feed a VoIP push to the call reporter (--call-id, --name)")
	printCommand(w, "emulator", "Serve the token functions over the configured store (--addr)")
	printCommand(w, "doctor", "Check configuration and backend connectivity")
	printCommand(w, "version", "Print the version")
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %-16s %s\n", name, desc)
}
