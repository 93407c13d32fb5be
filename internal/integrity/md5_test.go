package integrity

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/datallboy/serenity/internal/domain"
)

func TestChecksumKnownVectors(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"empty", nil, "1B2M2Y8AsgTpgAmY7PhCfg=="},
		{"hello", []byte("hello world"), "XrY7u+Ae7tCTyyK7j1rNww=="},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name)
			if err := os.WriteFile(path, tc.data, 0644); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			got, err := Checksum(path)
			if err != nil {
				t.Fatalf("Checksum: %v", err)
			}
			if got != tc.want {
				t.Errorf("Checksum = %s, want %s", got, tc.want)
			}
			if Sum(tc.data) != tc.want {
				t.Errorf("Sum = %s, want %s", Sum(tc.data), tc.want)
			}
		})
	}
}

func TestChecksumLargeFileStreams(t *testing.T) {
	data := bytes.Repeat([]byte("serenity"), 512*1024)
	path := filepath.Join(t.TempDir(), "big.wav")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := Checksum(path)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	if got != Sum(data) {
		t.Errorf("streamed checksum %s differs from in-memory %s", got, Sum(data))
	}
}

func TestChecksumNotFound(t *testing.T) {
	_, err := Checksum(filepath.Join(t.TempDir(), "missing.wav"))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped os.ErrNotExist, got %v", err)
	}
}

func TestMatches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rain.wav")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ok, err := Matches(path, "XrY7u+Ae7tCTyyK7j1rNww==")
	if err != nil || !ok {
		t.Errorf("Matches(correct) = %v, %v", ok, err)
	}

	// Repeated checks reach the same decision
	ok, err = Matches(path, "XrY7u+Ae7tCTyyK7j1rNww==")
	if err != nil || !ok {
		t.Errorf("second Matches(correct) = %v, %v", ok, err)
	}

	ok, err = Matches(path, "1B2M2Y8AsgTpgAmY7PhCfg==")
	if err != nil || ok {
		t.Errorf("Matches(wrong) = %v, %v", ok, err)
	}

	ok, err = Matches(filepath.Join(dir, "missing.wav"), "1B2M2Y8AsgTpgAmY7PhCfg==")
	if err != nil || ok {
		t.Errorf("Matches(missing) = %v, %v, want false, nil", ok, err)
	}
}
