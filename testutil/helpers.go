package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SkipIfNoRuntime skips the test unless an ONNX Runtime shared library
// is reachable, returning its path
func SkipIfNoRuntime(t *testing.T) string {
	t.Helper()

	if path := os.Getenv("ORT_LIB_PATH"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	t.Skip("No ONNX Runtime library available")
	return ""
}

// SkipIfNoModel skips the test unless a model file is available,
// returning its path
func SkipIfNoModel(t *testing.T) string {
	t.Helper()

	if path := os.Getenv("MODEL_PATH"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	modelPaths := []string{
		"testdata/detector.onnx",
		"../testdata/detector.onnx",
	}
	for _, path := range modelPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	t.Skip("No model file available")
	return ""
}

// TempFile creates a temporary file with given content
func TempFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	err := os.WriteFile(path, content, 0644)
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	return path
}

// MakeRandomBytes creates deterministic pseudo-random test data
func MakeRandomBytes(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i*17 + 11) % 256)
	}
	return data
}

// AssertEqual fails if values are not equal
func AssertEqual(t *testing.T, got, want interface{}, msg string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %v, want %v", msg, got, want)
	}
}

// AssertNoError fails if error is not nil
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", msg, err)
	}
}

// AssertError fails if error is nil
func AssertError(t *testing.T, err error, msg string) {
	t.Helper()
	if err == nil {
		t.Errorf("%s: expected error, got nil", msg)
	}
}

// AssertBytesEqual compares byte slices
func AssertBytesEqual(t *testing.T, got, want []byte, msg string) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("%s: length mismatch: got %d, want %d", msg, len(got), len(want))
		return
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("%s: mismatch at index %d: got %d, want %d", msg, i, got[i], want[i])
			return
		}
	}
}

// AssertFloat32Near checks if floats are approximately equal
func AssertFloat32Near(t *testing.T, got, want, tolerance float32, msg string) {
	t.Helper()
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		t.Errorf("%s: got %f, want %f (tolerance %f)", msg, got, want, tolerance)
	}
}
