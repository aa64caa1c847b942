// Command depscheck fails when a simulation-core package imports a transport,
// storage or process-level package. The core must run unchanged on the
// loopback bus, a relay connection or a game engine's own networking.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

type packageInfo struct {
	ImportPath string
	Imports    []string
}

var corePackages = []string{
	"./internal/session/...",
	"./internal/health/...",
	"./internal/combat/...",
	"./internal/projectile/...",
	"./internal/match/...",
	"./internal/draft/...",
	"./internal/messaging/...",
	"./internal/net/proto/...",
	"./internal/arena/...",
}

var forbidden = []string{
	"arena-duel/server/internal/net/ws",
	"arena-duel/server/internal/store",
	"arena-duel/server/internal/app",
	"arena-duel/server/internal/config",
	"github.com/gorilla/websocket",
	"modernc.org/sqlite",
	"net/http",
}

func main() {
	args := append([]string{"list", "-json"}, corePackages...)
	cmd := exec.Command("go", args...)
	cmd.Env = os.Environ()
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Stderr.Write(exitErr.Stderr)
		}
		fmt.Fprintf(os.Stderr, "depscheck: failed to list packages: %v\n", err)
		os.Exit(1)
	}

	violations, err := check(bytes.NewReader(output))
	if err != nil {
		fmt.Fprintf(os.Stderr, "depscheck: %v\n", err)
		os.Exit(1)
	}

	if len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "depscheck: found forbidden imports:")
		for _, violation := range violations {
			fmt.Fprintf(os.Stderr, "  %s\n", violation)
		}
		os.Exit(1)
	}
}

func check(r io.Reader) ([]string, error) {
	decoder := json.NewDecoder(r)
	var violations []string
	for {
		var pkg packageInfo
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode package info: %w", err)
		}
		// The root package is the relay itself.
		if pkg.ImportPath == "arena-duel/server" {
			continue
		}
		for _, imp := range pkg.Imports {
			if imp == "arena-duel/server" || isForbidden(imp) {
				violations = append(violations, fmt.Sprintf("%s -> %s", pkg.ImportPath, imp))
			}
		}
	}
	sort.Strings(violations)
	return violations, nil
}

func isForbidden(imp string) bool {
	for _, prefix := range forbidden {
		if imp == prefix || strings.HasPrefix(imp, prefix+"/") {
			return true
		}
	}
	return false
}
