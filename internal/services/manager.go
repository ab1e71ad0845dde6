// Package services talks to the container/service manager that owns the
// pipeline's background services. It provides the readiness gate that runs
// before any stage and the rebind operation that repoints the serving
// component at a freshly built index.
package services

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Manager abstracts the service manager collaborator: a point query for
// whether a named service is running, and a restart of a single component.
type Manager interface {
	Running(ctx context.Context, name string) (bool, error)
	Restart(ctx context.Context, name string) error
}

// ComposeManager implements Manager by shelling out to docker compose.
type ComposeManager struct {
	// ComposeFile optionally pins a compose file; empty uses compose's own
	// discovery.
	ComposeFile string
}

// Running reports whether the named compose service is currently up. This is
// a point-in-time query; waiting for services is the polling verifier's job,
// and starting them is the operator's.
func (m *ComposeManager) Running(ctx context.Context, name string) (bool, error) {
	out, err := m.run(ctx, "ps", "--status", "running", "--services")
	if err != nil {
		return false, fmt.Errorf("failed to query service manager: %w", err)
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == name {
			return true, nil
		}
	}
	return false, nil
}

// Restart restarts exactly one compose service, leaving the rest untouched.
func (m *ComposeManager) Restart(ctx context.Context, name string) error {
	if _, err := m.run(ctx, "restart", name); err != nil {
		return fmt.Errorf("failed to restart service %s: %w", name, err)
	}
	return nil
}

// StartCommand returns the remediation command an operator should run to
// bring up the named services.
func (m *ComposeManager) StartCommand(names ...string) string {
	parts := []string{"docker", "compose"}
	if m.ComposeFile != "" {
		parts = append(parts, "-f", m.ComposeFile)
	}
	parts = append(parts, "up", "-d")
	parts = append(parts, names...)
	return strings.Join(parts, " ")
}

func (m *ComposeManager) run(ctx context.Context, args ...string) (string, error) {
	full := []string{"compose"}
	if m.ComposeFile != "" {
		full = append(full, "-f", m.ComposeFile)
	}
	full = append(full, args...)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "docker", full...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("docker %s: %s", strings.Join(full, " "), detail)
	}
	return stdout.String(), nil
}
