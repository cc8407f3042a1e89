package runner

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type SSHHost struct {
	Name         string
	Hostname     string
	User         string
	Port         string
	IdentityFile string
}

// ParseSSHConfig reads the concrete hosts of an OpenSSH client config,
// following Include directives. Wildcard patterns are skipped.
// An empty path means ~/.ssh/config.
func ParseSSHConfig(configPath string) ([]SSHHost, error) {
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(home, ".ssh", "config")
	}

	p := &configParser{visited: make(map[string]bool)}
	return p.parse(configPath)
}

// LookupSSHHost resolves name against the config. A name without an entry is
// returned as a bare host with the default port, like ssh(1) does.
func LookupSSHHost(configPath, name string) (SSHHost, error) {
	if name == "" {
		return SSHHost{}, fmt.Errorf("empty ssh host")
	}

	hosts, err := ParseSSHConfig(configPath)
	if err != nil && !os.IsNotExist(err) {
		return SSHHost{}, fmt.Errorf("parse ssh config: %w", err)
	}
	for _, h := range hosts {
		if h.Name == name {
			return h, nil
		}
	}
	return SSHHost{Name: name, Hostname: name, Port: "22"}, nil
}

type configParser struct {
	visited map[string]bool
}

func (p *configParser) parse(configPath string) ([]SSHHost, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, err
	}
	if p.visited[absPath] {
		return nil, nil
	}
	p.visited[absPath] = true

	file, err := os.Open(configPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var hosts []SSHHost
	var current *SSHHost
	flush := func() {
		if current != nil && !strings.ContainsAny(current.Name, "*?") {
			hosts = append(hosts, *current)
		}
	}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		key := strings.ToLower(parts[0])
		value := strings.Join(parts[1:], " ")

		switch {
		case key == "include":
			flush()
			current = nil
			hosts = append(hosts, p.include(configPath, value)...)
		case key == "host":
			flush()
			current = &SSHHost{Name: value, Port: "22"}
		case current != nil:
			switch key {
			case "hostname":
				current.Hostname = value
			case "user":
				current.User = value
			case "port":
				current.Port = value
			case "identityfile":
				current.IdentityFile = expandPath(value)
			}
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return hosts, nil
}

func (p *configParser) include(configPath, pattern string) []SSHHost {
	includePath := expandPath(pattern)
	if includePath == "" {
		return nil
	}
	if !filepath.IsAbs(includePath) {
		includePath = filepath.Join(filepath.Dir(configPath), includePath)
	}

	matches, err := filepath.Glob(includePath)
	if err != nil {
		return nil
	}

	var hosts []SSHHost
	for _, match := range matches {
		included, err := p.parse(match)
		if err != nil {
			continue
		}
		hosts = append(hosts, included...)
	}
	return hosts
}

// expandPath resolves ~/ and relative key paths below ~/.ssh. Paths that
// escape the home directory, or absolute paths outside ~/.ssh and /etc/ssh,
// are rejected with an empty result.
func expandPath(path string) string {
	if path == "" || strings.Contains(path, "..") {
		return ""
	}
	path = filepath.Clean(path)

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch {
	case strings.HasPrefix(path, "~/"):
		expanded := filepath.Join(home, path[2:])
		if !strings.HasPrefix(expanded, filepath.Clean(home)) {
			return ""
		}
		return expanded
	case filepath.IsAbs(path):
		if strings.HasPrefix(path, filepath.Join(home, ".ssh")) || strings.HasPrefix(path, "/etc/ssh") {
			return path
		}
		return ""
	default:
		return filepath.Join(home, ".ssh", path)
	}
}
