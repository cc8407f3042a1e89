package host

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/alpindale/smi-dashboard/internal/gpu/base"
)

type Info struct {
	CPU CPUInfo `json:"cpu"`
	RAM RAMInfo `json:"ram"`
}

type CPUInfo struct {
	Model string `json:"model"`
	Count int    `json:"count"`
	// percentage; negative when top could not be read
	Usage float64 `json:"usage"`
}

type RAMInfo struct {
	Total        int     `json:"total_mb"`
	Used         int     `json:"used_mb"`
	UsagePercent float64 `json:"usage_percent"`
}

var idleRe = regexp.MustCompile(`([0-9.]+)\s*%?\s*id`)

// Gather collects CPU and memory usage with lscpu, top and free. Only a
// failing free is fatal; CPU fields degrade to zero values and a negative
// usage.
func Gather(ctx context.Context, runCmd base.RunCmdFunc) (Info, error) {
	var info Info

	if output, err := runCmd(ctx, "lscpu"); err == nil {
		info.CPU.Model, info.CPU.Count = parseLscpu(output)
	}

	info.CPU.Usage = -1
	if output, err := runCmd(ctx, "top", "-bn1"); err == nil {
		if usage, err := parseTopUsage(output); err == nil {
			info.CPU.Usage = usage
		}
	}

	output, err := runCmd(ctx, "free", "-m")
	if err != nil {
		return info, fmt.Errorf("failed to get RAM info: %w", err)
	}
	ram, err := parseFree(output)
	if err != nil {
		return info, fmt.Errorf("failed to get RAM info: %w", err)
	}
	info.RAM = ram

	return info, nil
}

func parseLscpu(output string) (model string, count int) {
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Model name":
			model = value
		case "CPU(s)":
			if n, err := strconv.Atoi(value); err == nil {
				count = n
			}
		}
	}
	return model, count
}

// parseTopUsage reads the idle share of the "%Cpu(s):" summary line
func parseTopUsage(output string) (float64, error) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "Cpu(s)") {
			continue
		}
		match := idleRe.FindStringSubmatch(line)
		if match == nil {
			return 0, fmt.Errorf("no idle field in %q", line)
		}
		idle, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			return 0, err
		}
		return 100 - idle, nil
	}
	return 0, errors.New("no Cpu(s) line in top output")
}

func parseFree(output string) (RAMInfo, error) {
	var info RAMInfo
	for _, line := range strings.Split(output, "\n") {
		parts := strings.Fields(line)
		if len(parts) < 3 || parts[0] != "Mem:" {
			continue
		}
		total, err := strconv.Atoi(parts[1])
		if err != nil {
			return info, err
		}
		used, err := strconv.Atoi(parts[2])
		if err != nil {
			return info, err
		}
		info.Total = total
		info.Used = used
		if total > 0 {
			info.UsagePercent = float64(used) / float64(total) * 100
		}
		return info, nil
	}
	return info, errors.New("no Mem: line in free output")
}
