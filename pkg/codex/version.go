package codex

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
)

// DefaultMinVersion is the oldest codex CLI with the resume subcommand.
const DefaultMinVersion = ">= 0.36.0"

// ErrUnsupportedVersion is returned when the installed codex does not satisfy
// the configured constraint.
var ErrUnsupportedVersion = errors.New("unsupported codex version")

var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+(?:-[0-9A-Za-z.-]+)?`)

// CheckVersion runs "<command> --version" and checks the reported version
// against constraint. The detected version is returned whenever it could be
// parsed, even if it does not satisfy the constraint.
func CheckVersion(ctx context.Context, runner Runner, command, constraint string) (*semver.Version, error) {
	if command == "" {
		command = CommandName
	}
	if constraint == "" {
		constraint = DefaultMinVersion
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("invalid version constraint %q: %w", constraint, err)
	}

	out, err := runner.Run(ctx, command, []string{"--version"})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s version: %w", command, err)
	}

	raw := versionPattern.FindString(out.Stdout)
	if raw == "" {
		raw = versionPattern.FindString(out.Stderr)
	}
	if raw == "" {
		return nil, fmt.Errorf("no version found in %s --version output", command)
	}

	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse version %q: %w", raw, err)
	}

	if !c.Check(v) {
		return v, fmt.Errorf("%w: %s does not satisfy %s", ErrUnsupportedVersion, v, constraint)
	}
	return v, nil
}
