package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWithComponent(t *testing.T) {
	logs := Discard()
	entry := logs.App.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestSetupInvalidLevel(t *testing.T) {
	opts := DefaultOptions()
	opts.Dir = t.TempDir()
	opts.Level = "invalid"
	if _, err := Setup(opts); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestSetupInvalidFormat(t *testing.T) {
	opts := DefaultOptions()
	opts.Dir = t.TempDir()
	opts.Format = "xml"
	if _, err := Setup(opts); err == nil {
		t.Fatal("expected error for invalid format")
	}
}

func TestSetupWritesPerAPIFiles(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.Dir = dir
	opts.Console = false

	logs, err := Setup(opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	LogAPIRequest(logs.CoinGecko, "CoinGecko", "/markets", true)
	logs.LLM.Info("llm call")
	logs.LogStartup("Market Pulse")
	if err := logs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	cg := readFile(t, filepath.Join(dir, "coingecko_api.log"))
	if !strings.Contains(cg, "CoinGecko API Request - Endpoint: /markets") {
		t.Fatalf("coingecko log missing request line: %s", cg)
	}
	if strings.Contains(cg, "llm call") {
		t.Fatal("llm entries must not leak into the coingecko log")
	}

	app := readFile(t, filepath.Join(dir, "market_pulse.log"))
	for _, want := range []string{"Endpoint: /markets", "llm call", "Market Pulse Starting", strings.Repeat("=", 50)} {
		if !strings.Contains(app, want) {
			t.Errorf("app log missing %q", want)
		}
	}
}

func TestLogAPIRequestFailureIsError(t *testing.T) {
	var buf bytes.Buffer
	logs := Discard()
	logs.CoinGecko.SetOutput(&buf)
	LogAPIRequest(logs.CoinGecko, "CoinGecko", "/markets", false)
	if !strings.Contains(buf.String(), "level=error") {
		t.Fatalf("expected error level, got %s", buf.String())
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}
