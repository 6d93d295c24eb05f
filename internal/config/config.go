// Package config resolves the runtime's model catalog location, model
// install directory, and HTTP port from a layered defaults -> search
// path -> environment variable precedence, the way the teacher's
// device configuration loader resolves its .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// DefaultServePort is the hard default from spec.md, used when neither
// --port nor FLM_SERVE_PORT is set.
const DefaultServePort = 52625

const catalogFileName = "model_list.json"

// Config is the runtime's resolved file locations and network port.
type Config struct {
	CatalogPath string // absolute path to model_list.json
	ModelPath   string // root directory model archives install under
	ServePort   int
}

// Load resolves CatalogPath via FLM_CONFIG_PATH or, when unset, a search
// of the executable's directory then the current working directory (no
// separate install prefix is searched), ModelPath via FLM_MODEL_PATH or a
// platform user-data directory, and ServePort via FLM_SERVE_PORT or
// DefaultServePort.
func Load() (Config, error) {
	cfg := Config{ServePort: DefaultServePort}

	catalogPath, err := findCatalogFile()
	if err != nil {
		return Config{}, err
	}
	cfg.CatalogPath = catalogPath

	if modelPath := os.Getenv("FLM_MODEL_PATH"); modelPath != "" {
		cfg.ModelPath = modelPath
	} else {
		cfg.ModelPath = defaultModelPath()
	}

	if portStr := os.Getenv("FLM_SERVE_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid FLM_SERVE_PORT %q: %w", portStr, err)
		}
		cfg.ServePort = port
	}

	return cfg, nil
}

// findCatalogFile honors FLM_CONFIG_PATH verbatim (no existence check,
// so a typo fails loudly at catalog.Load instead of silently falling
// through), otherwise searches the install prefix next to the running
// executable, then the current working directory.
func findCatalogFile() (string, error) {
	if path := os.Getenv("FLM_CONFIG_PATH"); path != "" {
		return path, nil
	}

	if exePath, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exePath), catalogFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	if cwd, err := os.Getwd(); err == nil {
		candidate := filepath.Join(cwd, catalogFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config: %s not found next to the executable or in the current directory; set FLM_CONFIG_PATH", catalogFileName)
}

// defaultModelPath is a platform-specific user data directory, falling
// back to the home directory's .flm/models on any lookup failure.
func defaultModelPath() string {
	switch runtime.GOOS {
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "Library", "Application Support", "flm", "models")
		}
	case "windows":
		if appData := os.Getenv("LOCALAPPDATA"); appData != "" {
			return filepath.Join(appData, "flm", "models")
		}
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "flm", "models")
		}
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".flm", "models")
}

// portFilePath is where `flm serve` records the port it bound, so
// `flm port` can report it without re-parsing flags or probing ports,
// matching the teacher's portFile handshake between its CLI and
// orchestrator process.
func portFilePath() string {
	return filepath.Join(os.TempDir(), "flm-serve.port")
}

// WritePortFile records the bound port for `flm port` to read later.
func WritePortFile(port int) error {
	return os.WriteFile(portFilePath(), []byte(strconv.Itoa(port)), 0o644)
}

// ReadPortFile reports the port the most recent `flm serve` bound, if
// its port file is still present.
func ReadPortFile() (int, error) {
	data, err := os.ReadFile(portFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}
