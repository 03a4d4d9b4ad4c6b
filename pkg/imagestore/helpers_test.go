package imagestore_test

import (
	"os"
	"testing"
)

func writeFile(t *testing.T, path string, data []byte) error {
	t.Helper()
	return os.WriteFile(path, data, 0o644)
}
