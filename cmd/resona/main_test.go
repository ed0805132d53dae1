package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"resona/internal/snapshot"
)

func writeCLIConfig(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	configPath := filepath.Join(base, "config.toml")
	content := fmt.Sprintf(
		"[paths]\nstate_dir = %q\nlog_dir = %q\n",
		filepath.Join(base, "state"),
		filepath.Join(base, "logs"),
	)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return configPath
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

func TestSessionInitDiffRegenRoundTrip(t *testing.T) {
	configPath := writeCLIConfig(t)
	sessionPath := filepath.Join(t.TempDir(), "session.json")

	out, _, err := runCLI(t, configPath, "session", "init", sessionPath)
	if err != nil {
		t.Fatalf("session init: %v", err)
	}
	requireContains(t, out, "Wrote example session")

	out, _, err = runCLI(t, configPath, "diff", "--session", sessionPath)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	requireContains(t, out, "source-1")
	requireContains(t, out, "issues")
	requireContains(t, out, "Missing descriptors detected")

	out, _, err = runCLI(t, configPath, "regen", "--session", sessionPath, "--all")
	if err != nil {
		t.Fatalf("regen --all: %v", err)
	}
	requireContains(t, out, "succeeded")
	requireContains(t, out, "Updated "+sessionPath)

	out, _, err = runCLI(t, configPath, "diff", "--session", sessionPath)
	if err != nil {
		t.Fatalf("diff after regen: %v", err)
	}
	requireContains(t, out, "clear")
	if strings.Contains(out, "Missing descriptors detected") {
		t.Fatalf("popup hint should be gone after regeneration:\n%s", out)
	}

	out, _, err = runCLI(t, configPath, "jobs")
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	requireContains(t, out, "source-1")
	requireContains(t, out, "Succeeded")
	requireContains(t, out, "Manual")

	out, _, err = runCLI(t, configPath, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "manual regenerate")
	requireContains(t, out, "succeeded")
}

func TestDiffVerboseListsDescriptorKeys(t *testing.T) {
	configPath := writeCLIConfig(t)
	sessionPath := filepath.Join(t.TempDir(), "session.json")

	if _, _, err := runCLI(t, configPath, "session", "init", sessionPath); err != nil {
		t.Fatalf("session init: %v", err)
	}
	out, _, err := runCLI(t, configPath, "diff", "--session", sessionPath, "--verbose")
	if err != nil {
		t.Fatalf("diff --verbose: %v", err)
	}
	requireContains(t, out, "feature:spectrogram|calc:core.spectrogram|band:all|profile:default")
	requireContains(t, out, "owners: element-1")
}

func TestDiffJSONOutput(t *testing.T) {
	configPath := writeCLIConfig(t)
	sessionPath := filepath.Join(t.TempDir(), "session.json")

	if _, _, err := runCLI(t, configPath, "session", "init", sessionPath); err != nil {
		t.Fatalf("session init: %v", err)
	}
	out, _, err := runCLI(t, configPath, "diff", "--session", sessionPath, "--json")
	if err != nil {
		t.Fatalf("diff --json: %v", err)
	}
	requireContains(t, out, `"audioSourceId": "source-1"`)
	requireContains(t, out, `"status": "issues"`)
}

func TestExtraneousListAndDelete(t *testing.T) {
	configPath := writeCLIConfig(t)
	sessionPath := filepath.Join(t.TempDir(), "session.json")

	if _, _, err := runCLI(t, configPath, "session", "init", sessionPath); err != nil {
		t.Fatalf("session init: %v", err)
	}
	// Fill the caches, then drop the loudness intent so its track becomes
	// extraneous.
	if _, _, err := runCLI(t, configPath, "regen", "--session", sessionPath, "--all"); err != nil {
		t.Fatalf("regen: %v", err)
	}
	doc, err := snapshot.Load(sessionPath)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	doc.Intents[0].Descriptors = doc.Intents[0].Descriptors[:1]
	if err := snapshot.Save(sessionPath, doc); err != nil {
		t.Fatalf("save session: %v", err)
	}

	out, _, err := runCLI(t, configPath, "extraneous", "list", "--session", sessionPath)
	if err != nil {
		t.Fatalf("extraneous list: %v", err)
	}
	requireContains(t, out, "feature:loudness|calc:core.loudness|band:all|profile:default")

	out, _, err = runCLI(t, configPath, "extraneous", "delete", "--session", sessionPath)
	if err != nil {
		t.Fatalf("extraneous delete: %v", err)
	}
	requireContains(t, out, "Deleted 1 extraneous feature track(s).")

	out, _, err = runCLI(t, configPath, "extraneous", "list", "--session", sessionPath)
	if err != nil {
		t.Fatalf("extraneous list after delete: %v", err)
	}
	requireContains(t, out, "No extraneous cached descriptors.")

	out, _, err = runCLI(t, configPath, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "delete extraneous")
}

func TestJournalHealthAndPrune(t *testing.T) {
	configPath := writeCLIConfig(t)
	sessionPath := filepath.Join(t.TempDir(), "session.json")

	if _, _, err := runCLI(t, configPath, "session", "init", sessionPath); err != nil {
		t.Fatalf("session init: %v", err)
	}
	if _, _, err := runCLI(t, configPath, "regen", "--session", sessionPath, "--all"); err != nil {
		t.Fatalf("regen: %v", err)
	}

	out, _, err := runCLI(t, configPath, "journal", "health")
	if err != nil {
		t.Fatalf("journal health: %v", err)
	}
	requireContains(t, out, "journal.db")
	requireContains(t, out, "History entries: 1")

	out, _, err = runCLI(t, configPath, "journal", "prune", "--older-than", "1h")
	if err != nil {
		t.Fatalf("journal prune: %v", err)
	}
	requireContains(t, out, "Removed 0")
}

func TestRegenRejectsMissingArguments(t *testing.T) {
	configPath := writeCLIConfig(t)
	sessionPath := filepath.Join(t.TempDir(), "session.json")
	if _, _, err := runCLI(t, configPath, "session", "init", sessionPath); err != nil {
		t.Fatalf("session init: %v", err)
	}
	if _, _, err := runCLI(t, configPath, "regen", "--session", sessionPath); err == nil {
		t.Fatal("expected error without keys or --all")
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err := runCLI(t, "", "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	out, _, err = runCLI(t, target, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
}
