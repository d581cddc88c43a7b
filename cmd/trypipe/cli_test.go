package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dcshock/trypipe/config"
	"github.com/dcshock/trypipe/validate"
)

func setup(t *testing.T) string {
	t.Helper()
	logger = zap.NewNop()
	settings = &config.Settings{Check: config.CheckSettings{Concurrency: 2}}
	t.Cleanup(func() {
		checkJSON, checkStrict = false, false
		parseFormat, parsePipeline = "yaml", ""
		runVars, runPipeline, runStore, runID, runTimeout = nil, "", "", "", 0
		runsStore, runsName, runsStatus, runsLimit, runsPrune = "", "", "", 20, 0
	})
	return t.TempDir()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testCmd() (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	return cmd, &stdout, &stderr
}

const fetchYAML = `name: fetch
try:
  body: ok(n)
  with:
    - fetching
then:
  - bind: x
    body: x + x
handlers:
  - catch:
    body: "0"
`

func TestCheckCmd(t *testing.T) {
	dir := setup(t)
	good := writeFile(t, dir, "good.pipe", `try { ok(1) } catch e { 0 }`)
	bad := writeFile(t, dir, "bad.pipe", `try { ok(1) } catch e { 0 } catch Timeout { 1 }`)
	broken := writeFile(t, dir, "broken.pipe", `try { ok(1) `)
	yml := writeFile(t, dir, "fetch.yaml", fetchYAML)

	cmd, stdout, _ := testCmd()
	err := runCheck(cmd, []string{good, bad, broken, yml})
	if err == nil || err.Error() != "2 of 4 files failed" {
		t.Fatalf("expected 2 failures, got %v", err)
	}
	out := stdout.String()
	for _, want := range []string{"OK: " + good, "OK: " + yml, "[UnreachableHandler]", "[SyntaxError]"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "OK: "+bad) {
		t.Errorf("bad.pipe reported OK:\n%s", out)
	}
}

func TestCheckCmd_JSON(t *testing.T) {
	dir := setup(t)
	bad := writeFile(t, dir, "bad.pipe", `try { ok(1) } catch e { 0 } catch Timeout { 1 }`)
	checkJSON = true

	cmd, stdout, _ := testCmd()
	if err := runCheck(cmd, []string{bad}); err == nil {
		t.Fatal("expected failure")
	}
	var reports []fileReport
	if err := json.Unmarshal(stdout.Bytes(), &reports); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, stdout)
	}
	if len(reports) != 1 || reports[0].OK || len(reports[0].Diagnostics) == 0 {
		t.Fatalf("unexpected reports: %+v", reports)
	}
	if reports[0].Diagnostics[0].Severity != validate.SeverityError {
		t.Errorf("severity: %v", reports[0].Diagnostics[0].Severity)
	}
}

func TestCheckCmd_StrictYAML(t *testing.T) {
	dir := setup(t)
	yml := writeFile(t, dir, "remote.yaml", "try:\n  body: lookup(id)\n")

	cmd, _, _ := testCmd()
	if err := runCheck(cmd, []string{yml}); err != nil {
		t.Fatalf("unknown functions are allowed by default: %v", err)
	}
	checkStrict = true
	cmd, stdout, _ := testCmd()
	if err := runCheck(cmd, []string{yml}); err == nil {
		t.Fatal("expected --strict to reject lookup")
	}
	if !strings.Contains(stdout.String(), `"lookup"`) {
		t.Errorf("output: %s", stdout)
	}
}

func TestCheckCmd_MultiYAML(t *testing.T) {
	dir := setup(t)
	yml := writeFile(t, dir, "multi.yaml", `pipelines:
  a:
    try:
      body: ok(1)
  b:
    try:
      body: ok(2)
sequences:
  both:
    pipelines: [a, missing]
`)
	cmd, stdout, _ := testCmd()
	if err := runCheck(cmd, []string{yml}); err == nil {
		t.Fatal("expected the sequence to be rejected")
	}
	if !strings.Contains(stdout.String(), `"missing" not in built pipelines`) {
		t.Errorf("output: %s", stdout)
	}
}

func TestParseCmd(t *testing.T) {
	dir := setup(t)
	yml := writeFile(t, dir, "fetch.yaml", fetchYAML)

	cmd, stdout, _ := testCmd()
	if err := runParse(cmd, []string{yml}); err != nil {
		t.Fatal(err)
	}
	out := stdout.String()
	for _, want := range []string{"name: fetch", "kind: then", "kind: catch", "message: fetching"} {
		if !strings.Contains(out, want) {
			t.Errorf("outline missing %q:\n%s", want, out)
		}
	}

	parseFormat = "json"
	cmd, stdout, _ = testCmd()
	if err := runParse(cmd, []string{yml}); err != nil {
		t.Fatal(err)
	}
	var outline map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &outline); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if outline["name"] != "fetch" {
		t.Errorf("name: %v", outline["name"])
	}

	parseFormat = "xml"
	cmd, _, _ = testCmd()
	if err := runParse(cmd, []string{yml}); err == nil {
		t.Error("expected unknown format error")
	}
}

func TestRunCmd_RecordsToStore(t *testing.T) {
	dir := setup(t)
	yml := writeFile(t, dir, "fetch.yaml", fetchYAML)
	runStore = filepath.Join(dir, "runs.db")
	runID = "run-1"
	runVars = []string{"n=21"}

	cmd, stdout, _ := testCmd()
	if err := runPipelineCmd(cmd, []string{yml}); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(stdout.String()); got != "42" {
		t.Errorf("result: %q", got)
	}

	runsStore = runStore
	cmd, stdout, _ = testCmd()
	if err := listRuns(cmd, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout.String(), "run-1") || !strings.Contains(stdout.String(), "success") {
		t.Errorf("runs: %s", stdout)
	}

	cmd, stdout, _ = testCmd()
	if err := showRun(cmd, []string{"run-1"}); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"run run-1 (fetch): success", "result: 42", "try", "then"} {
		if !strings.Contains(stdout.String(), want) {
			t.Errorf("show missing %q:\n%s", want, stdout)
		}
	}
}

func TestRunCmd_FailurePrintsTrace(t *testing.T) {
	dir := setup(t)
	src := writeFile(t, dir, "boom.pipe", `try { fail("boom") } with "loading", {id: id}`)
	runVars = []string{"id=7"}

	cmd, stdout, stderr := testCmd()
	err := runPipelineCmd(cmd, []string{src})
	if err == nil || !strings.Contains(err.Error(), "failed") {
		t.Fatalf("expected failure, got %v", err)
	}
	if stdout.Len() != 0 {
		t.Errorf("unexpected stdout: %s", stdout)
	}
	trace := stderr.String()
	for _, want := range []string{"boom", "Trace (most recent last):", "→ loading", "id: 7"} {
		if !strings.Contains(trace, want) {
			t.Errorf("trace missing %q:\n%s", want, trace)
		}
	}
}

func TestRunCmd_Rejected(t *testing.T) {
	dir := setup(t)
	src := writeFile(t, dir, "bad.pipe", `try { ok(1) } catch e { 0 } catch Timeout { 1 }`)

	cmd, _, stderr := testCmd()
	if err := runPipelineCmd(cmd, []string{src}); err == nil {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(stderr.String(), "[UnreachableHandler]") {
		t.Errorf("stderr: %s", stderr)
	}
}

func TestRunsCmd_NoStore(t *testing.T) {
	setup(t)
	cmd, _, _ := testCmd()
	if err := listRuns(cmd, nil); err == nil || !strings.Contains(err.Error(), "no run store") {
		t.Errorf("expected missing store error, got %v", err)
	}
}

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"n=3", "name=alice", `tags=["a","b"]`, "empty="})
	if err != nil {
		t.Fatal(err)
	}
	if vars["n"] != int64(3) || vars["name"] != "alice" || vars["empty"] != "" {
		t.Errorf("vars: %#v", vars)
	}
	if tags, ok := vars["tags"].([]any); !ok || len(tags) != 2 {
		t.Errorf("tags: %#v", vars["tags"])
	}
	if _, err := parseVars([]string{"novalue"}); err == nil {
		t.Error("expected error for missing =")
	}
}
