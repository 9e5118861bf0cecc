// ghadapter runs a command that prints a JSON object, such as reftest -json,
// and exposes its top level keys as GitHub Actions step outputs. The command's
// exit code is passed through.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sort"
	"strings"

	"golang.org/x/xerrors"
)

const delimiter = "GHADAPTER_EOF"

func writeOutputs(w io.Writer, result map[string]interface{}) error {
	keys := make([]string, 0, len(result))
	for key := range result {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := fmt.Sprint(result[key])
		if result[key] == nil {
			value = ""
		}
		var err error
		if strings.Contains(value, "\n") {
			_, err = fmt.Fprintf(w, "%s<<%s\n%s\n%s\n", key, delimiter, strings.TrimSuffix(value, "\n"), delimiter)
		} else {
			_, err = fmt.Fprintf(w, "%s=%s\n", key, value)
		}
		if err != nil {
			return xerrors.Errorf("failed to write output %s: %w", key, err)
		}
	}
	return nil
}

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: ghadapter <command> [args...]")
	}

	cmd := exec.Command(os.Args[1], os.Args[2:]...)
	cmd.Stdin = os.Stdin
	cmd.Stderr = os.Stderr

	exitCode := 0
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			log.Fatalf("Failed to run %s: %v", os.Args[1], err)
		}
		exitCode = exitErr.ExitCode()
	}
	_, _ = os.Stdout.Write(output)

	var result map[string]interface{}
	if err := json.Unmarshal(output, &result); err != nil {
		log.Printf("Failed to parse output as JSON: %v", err)
		os.Exit(exitCode)
	}

	if githubOutput := os.Getenv("GITHUB_OUTPUT"); githubOutput != "" {
		f, err := os.OpenFile(githubOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatalf("Failed to open GITHUB_OUTPUT: %v", err)
		}
		if err := writeOutputs(f, result); err != nil {
			_ = f.Close()
			log.Fatalf("Failed to write outputs: %v", err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("Failed to close GITHUB_OUTPUT: %v", err)
		}
	}

	os.Exit(exitCode)
}
