package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"time"

	"github.com/alpindale/smi-dashboard/internal/gpu/base"
)

// Local runs commands on this machine and returns their standard output.
// A binary that cannot be found is reported as base.ErrToolMissing.
func Local(timeout time.Duration) base.RunCmdFunc {
	return func(ctx context.Context, name string, args ...string) (string, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		cmd := exec.CommandContext(ctx, name, args...)
		output, err := cmd.Output()
		text := strings.ToValidUTF8(string(output), "�")
		if err != nil {
			if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
				return "", fmt.Errorf("%s: %w", name, base.ErrToolMissing)
			}
			return text, fmt.Errorf("run %s: %w", commandLine(name, args), err)
		}
		return text, nil
	}
}

func commandLine(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(name))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

// shellQuote leaves plain words alone and single-quotes everything else
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			strings.ContainsRune("-_./=,:+%@", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
