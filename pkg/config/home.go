package config

import (
	"os"
	"path/filepath"
	"sync"
)

const (
	envHome = "TESTPILOT_HOME"
	// workspaceDir marks a project-local home, looked up from the working
	// directory towards the root.
	workspaceDir = ".testpilot"
)

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the directory logs and reports live under.
//
// Resolution order:
//  1. $TESTPILOT_HOME
//  2. The nearest .testpilot directory at or above the working directory
//  3. <home> when the binary is installed as <home>/bin/testpilot
//  4. <user config dir>/testpilot
//  5. The working directory
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome(hostPaths())
	})
	return homeDir
}

// GetLogDir returns <home>/logs.
func GetLogDir() string {
	return filepath.Join(GetHome(), "logs")
}

// GetReportsDir returns <home>/reports.
func GetReportsDir() string {
	return filepath.Join(GetHome(), "reports")
}

// ResetHome clears the cached home so the next GetHome resolves again.
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}

// paths are the host facts home resolution depends on. Empty means unknown.
type paths struct {
	env        string
	executable string
	cwd        string
	userConfig string
}

func hostPaths() paths {
	p := paths{env: os.Getenv(envHome)}
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		p.executable = exe
	}
	if cwd, err := os.Getwd(); err == nil {
		p.cwd = cwd
	}
	if dir, err := os.UserConfigDir(); err == nil {
		p.userConfig = dir
	}
	return p
}

func resolveHome(p paths) string {
	if p.env != "" {
		return p.env
	}
	if p.cwd != "" {
		if ws := findWorkspace(p.cwd); ws != "" {
			return ws
		}
	}
	if p.executable != "" {
		if binDir := filepath.Dir(p.executable); filepath.Base(binDir) == "bin" {
			return filepath.Dir(binDir)
		}
	}
	if p.userConfig != "" {
		return filepath.Join(p.userConfig, "testpilot")
	}
	if p.cwd != "" {
		return p.cwd
	}
	return "."
}

// findWorkspace walks from dir up to the filesystem root and returns the
// first .testpilot directory it finds.
func findWorkspace(dir string) string {
	for {
		candidate := filepath.Join(dir, workspaceDir)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
