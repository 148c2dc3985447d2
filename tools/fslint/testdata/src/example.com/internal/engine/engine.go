package engine

import "os"

func save(data []byte) error {
	if _, err := os.Getwd(); err != nil {
		return err
	}
	if err := os.MkdirAll("state", 0o755); err != nil { //nolint:fslint // fixture
		return err
	}
	return os.WriteFile("state/state.json", data, 0o644) // want `os.WriteFile bypasses the injected filesystem`
}

func load() ([]byte, error) {
	return os.ReadFile("state/state.json") // want `os.ReadFile bypasses the injected filesystem`
}
