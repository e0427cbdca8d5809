package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// version is stamped at release time via -ldflags "-X main.version=...".
var version = "0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is swapped out in tests so Run can be exercised without
// binding ports.
var startServer = runServer

// Run dispatches the subcommand. Exported so tests can drive the CLI without
// spawning a process.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		startServer()
		return 0
	}

	switch cmd := args[1]; cmd {
	case "server", "serve":
		startServer()
		return 0
	case "init-db":
		return runInitDB(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "version", "--version":
		fmt.Fprintf(stdout, "halyard %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		// Bare flags mean "serve with these flags" (systemd units, docker
		// CMD lines).
		if strings.HasPrefix(cmd, "-") {
			startServer()
			return 0
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		printUsage(stderr)
		return 2
	}
}

// Terminal color escapes for usage output.
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorGreen = "\033[32m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

// usageSections drives printUsage; adding a subcommand means adding a row.
var usageSections = []struct {
	title    string
	commands [][2]string
}{
	{"SERVER", [][2]string{
		{"serve", "Run the provisioning server (default)"},
		{"health", "Probe a running server over HTTP"},
	}},
	{"DATABASE", [][2]string{
		{"init-db", "Create the PostgreSQL schema (--db)"},
	}},
	{"UTILITIES", [][2]string{
		{"version", "Show version information"},
		{"help", "Show this help"},
	}},
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sHalyard %s%s\n", ColorBold+ColorBlue, version, ColorReset)
	fmt.Fprintf(w, "%sOutbound SCIM provisioning.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  halyard <command> [flags]")
	fmt.Fprintln(w, "")

	for _, section := range usageSections {
		fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, section.title, ColorReset)
		for _, cmd := range section.commands {
			fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, cmd[0], ColorReset, cmd[1])
		}
	}
	fmt.Fprintln(w, "")
}

// runHealthCmd asks the sidecar health listener whether the server is up.
func runHealthCmd(out, errOut io.Writer) int {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://localhost:" + healthPort + "/health")
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	fmt.Fprintln(out, "OK")
	return 0
}
