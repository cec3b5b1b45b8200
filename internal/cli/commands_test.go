package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docseed/internal/bundle"
	"github.com/roach88/docseed/internal/coordinator"
	"github.com/roach88/docseed/internal/manifest"
)

const privacyID = "gdpr_privacy_report_privacy_out_eu"

// env is a scratch directory holding a docseed.yaml over sqlite and badger.
type env struct {
	t      *testing.T
	dir    string
	config string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`records:
  driver: sqlite
  dsn: %s
blobs:
  kind: badger
  path: %s
retry:
  max_attempts: 2
  base_delay: 1ms
  max_delay: 2ms
log:
  level: error
`, filepath.Join(dir, "docseed.db"), filepath.Join(dir, "blobs"))

	e := &env{t: t, dir: dir, config: filepath.Join(dir, "docseed.yaml")}
	e.write("docseed.yaml", cfg)
	return e
}

func (e *env) write(name, body string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(e.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(e.t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func (e *env) path(name string) string { return filepath.Join(e.dir, name) }

// run executes the CLI with the env's config and returns exit code, stdout
// and stderr.
func (e *env) run(args ...string) (int, string, string) {
	e.t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--config", e.config}, args...)
	code := Execute(context.Background(), full, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// runJSON is run with --format json, decoding the response envelope.
func (e *env) runJSON(data any, args ...string) (int, CLIResponse) {
	e.t.Helper()
	code, stdout, stderr := e.run(append([]string{"--format", "json"}, args...)...)

	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(e.t, json.Unmarshal([]byte(stdout), &raw), "stdout=%q stderr=%q", stdout, stderr)
	if data != nil && len(raw.Data) > 0 {
		require.NoError(e.t, json.Unmarshal(raw.Data, data))
	}
	return code, CLIResponse{Status: raw.Status, Error: raw.Error}
}

func (e *env) privacyFiles(query string) []string {
	e.write("privacy/config.json", `{"name": "Privacy Report", "outFileName": "privacy_out"}`)
	e.write("privacy/report.sql", query)
	return []string{
		"write",
		"--owner", "acme",
		"--scheme", "gdpr",
		"--region", "EU",
		"--json-config", e.path("privacy/config.json"),
		"--primary", e.path("privacy/report.sql"),
	}
}

func TestWriteCommand_CreateSkipModify(t *testing.T) {
	e := newEnv(t)
	args := e.privacyFiles("SELECT email FROM users;\n")

	var res coordinator.Result
	code, resp := e.runJSON(&res, args...)
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, bundle.OutcomeCreated, res.Outcome)
	assert.Equal(t, bundle.Identity(privacyID), res.Summary.Identity)
	assert.Equal(t, 1, res.Summary.Version)

	code, _ = e.runJSON(&res, args...)
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, bundle.OutcomeSkipped, res.Outcome)
	assert.Equal(t, 1, res.Summary.Version)

	args = e.privacyFiles("SELECT email, name FROM users;\n")
	code, _ = e.runJSON(&res, args...)
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, bundle.OutcomeModified, res.Outcome)
	assert.Equal(t, 2, res.Summary.Version)
	assert.Equal(t, 1, res.Summary.PreviousVersion)
	assert.Equal(t, []bundle.ArtifactKind{bundle.KindPrimary}, res.Summary.Changed)
}

func TestWriteCommand_TextOutput(t *testing.T) {
	e := newEnv(t)
	args := e.privacyFiles("SELECT 1;\n")

	code, stdout, _ := e.run(args...)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "CREATED "+privacyID+" version 1")
	assert.Contains(t, stdout, "config")
	assert.Contains(t, stdout, "primary")
}

func TestWriteCommand_ValidationFailure(t *testing.T) {
	e := newEnv(t)
	e.write("bad/config.json", `{"name": "Privacy Report"`)
	e.write("bad/report.sql", "SELECT 1;\n")

	code, resp := e.runJSON(nil,
		"write", "--owner", "acme", "--scheme", "gdpr", "--region", "EU",
		"--json-config", e.path("bad/config.json"), "--primary", e.path("bad/report.sql"))

	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(bundle.CodeValidation), resp.Error.Code)
}

func TestWriteCommand_MissingFile(t *testing.T) {
	e := newEnv(t)

	code, resp := e.runJSON(nil,
		"write", "--owner", "acme", "--scheme", "gdpr", "--region", "EU",
		"--json-config", e.path("nope.json"), "--primary", e.path("nope.sql"))

	assert.Equal(t, ExitCommandError, code)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "file not found")
}

func TestShowAndHistoryCommands(t *testing.T) {
	e := newEnv(t)
	code, _, stderr := e.run(e.privacyFiles("SELECT 1;\n")...)
	require.Equal(t, ExitSuccess, code, stderr)
	code, _, stderr = e.run(e.privacyFiles("SELECT 2;\n")...)
	require.Equal(t, ExitSuccess, code, stderr)

	t.Run("show returns the active version", func(t *testing.T) {
		var rec bundle.Record
		code, _ := e.runJSON(&rec, "show", privacyID)
		require.Equal(t, ExitSuccess, code)
		assert.Equal(t, 2, rec.Version)
		assert.True(t, rec.Active)
		assert.Equal(t, "acme", rec.OwnerID)
		assert.Equal(t, []string{bundle.ActionModified}, rec.Audit.Actions())
	})

	t.Run("history lists every version", func(t *testing.T) {
		var hist struct {
			Identity bundle.Identity `json:"identity"`
			Versions []bundle.Record `json:"versions"`
		}
		code, _ := e.runJSON(&hist, "history", privacyID)
		require.Equal(t, ExitSuccess, code)
		require.Len(t, hist.Versions, 2)
		assert.Equal(t, 1, hist.Versions[0].Version)
		assert.False(t, hist.Versions[0].Active)
		assert.Equal(t, []string{bundle.ActionCreated, bundle.ActionDeactivated}, hist.Versions[0].Audit.Actions())
		assert.True(t, hist.Versions[1].Active)
	})

	t.Run("text history", func(t *testing.T) {
		code, stdout, _ := e.run("history", privacyID)
		require.Equal(t, ExitSuccess, code)
		assert.Contains(t, stdout, privacyID+" version 1 (inactive)")
		assert.Contains(t, stdout, privacyID+" version 2 (active)")
		assert.Contains(t, stdout, "superseded by version 2")
	})
}

func TestShowCommand_NotFound(t *testing.T) {
	e := newEnv(t)

	code, resp := e.runJSON(nil, "show", "gdpr_missing_missing_eu")
	assert.Equal(t, ExitFailure, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(bundle.CodeNotFound), resp.Error.Code)
	assert.Equal(t, "gdpr_missing_missing_eu", resp.Error.Identity)

	code, resp = e.runJSON(nil, "history", "gdpr_missing_missing_eu")
	assert.Equal(t, ExitFailure, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(bundle.CodeNotFound), resp.Error.Code)
}

func TestSeedCommand(t *testing.T) {
	e := newEnv(t)
	e.write("bundles/privacy/config.json", `{"name": "Privacy Report", "outFileName": "privacy_out"}`)
	e.write("bundles/privacy/report.sql", "SELECT email FROM users;\n")
	e.write("bundles/privacy/report.html", "<p>{{ .Rows }}</p>\n")
	e.write("bundles/consent/config.json", `{"name": "Consent Log", "outFileName": "consent_out"}`)
	e.write("bundles/consent/report.sql", "SELECT * FROM consent;\n")
	manifestPath := e.write("bundles/manifest.yaml", `bundles:
  - owner_id: acme
    scheme: gdpr
    region: EU
    config: privacy/config.json
    primary: privacy/report.sql
    template: privacy/report.html
  - owner_id: globex
    scheme: ccpa
    region: US
    config: consent/config.json
    primary: consent/report.sql
`)

	var rep manifest.Report
	code, _ := e.runJSON(&rep, "seed", "--parallel", "2", manifestPath)
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, 2, rep.Created)
	assert.Equal(t, 0, rep.Failed)
	require.Len(t, rep.Bundles, 2)
	assert.Equal(t, bundle.Identity(privacyID), rep.Bundles[0].Identity)

	code, stdout, _ := e.run("seed", manifestPath)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "created=0 modified=0 skipped=2 failed=0")
}

func TestSeedCommand_PartialFailure(t *testing.T) {
	e := newEnv(t)
	e.write("bundles/ok/config.json", `{"name": "Privacy Report", "outFileName": "privacy_out"}`)
	e.write("bundles/ok/report.sql", "SELECT 1;\n")
	manifestPath := e.write("bundles/manifest.yaml", `bundles:
  - owner_id: acme
    scheme: gdpr
    region: EU
    config: ok/config.json
    primary: ok/report.sql
  - owner_id: globex
    scheme: ccpa
    region: US
    config: missing/config.json
    primary: missing/report.sql
`)

	var rep manifest.Report
	code, resp := e.runJSON(&rep, "seed", manifestPath)
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, rep.Created)
	assert.Equal(t, 1, rep.Failed)
	require.Len(t, rep.Errors, 1)
	assert.Contains(t, rep.Errors[0], "globex")
}

func TestSeedCommand_BadInvocation(t *testing.T) {
	e := newEnv(t)

	code, _, _ := e.run("seed", "--parallel", "0", e.path("manifest.yaml"))
	assert.Equal(t, ExitCommandError, code)

	code, stdout, _ := e.run("seed", e.path("manifest.yaml"))
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stdout, "manifest file not found")
}

func TestCommand_UnreadableConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(),
		[]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "show", privacyID},
		&stdout, &stderr)

	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stdout.String(), "error reading config file")
}

func TestIdentityCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(),
		[]string{"identity", "--scheme", "GDPR", "--name", "Privacy Report", "--out", "privacy_out", "--region", "EU"},
		&stdout, &stderr)

	require.Equal(t, ExitSuccess, code, stderr.String())
	assert.Equal(t, privacyID+"\n", stdout.String())

	stdout.Reset()
	code = Execute(context.Background(),
		[]string{"identity", "--scheme", "!!!", "--name", "x", "--out", "y", "--region", "z"},
		&stdout, &stderr)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout.String(), "VALIDATION")
}

func TestWriteCommand_BackendFlagsOverrideConfig(t *testing.T) {
	e := newEnv(t)
	args := e.privacyFiles("SELECT 1;\n")

	flags := []string{"--records-driver", "memory", "--blobs", "memory"}
	for range 2 {
		var res coordinator.Result
		code, _ := e.runJSON(&res, append(flags, args...)...)
		require.Equal(t, ExitSuccess, code)
		// In-memory stores start empty on every invocation.
		assert.Equal(t, bundle.OutcomeCreated, res.Outcome)
	}

	_, err := os.Stat(e.path("docseed.db"))
	assert.True(t, os.IsNotExist(err), "configured sqlite file must not be opened")
}

func TestCreateCommand_RefusesExistingIdentity(t *testing.T) {
	e := newEnv(t)
	args := e.privacyFiles("SELECT 1;\n")
	args[0] = "create"

	var res coordinator.Result
	code, _ := e.runJSON(&res, args...)
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, bundle.OutcomeCreated, res.Outcome)

	code, resp := e.runJSON(nil, args...)
	assert.Equal(t, ExitFailure, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(bundle.CodeDuplicateActive), resp.Error.Code)
}

func TestModifyCommand(t *testing.T) {
	e := newEnv(t)
	e.write("privacy/report.html", "<h1>Privacy</h1>\n")
	args := append(e.privacyFiles("SELECT 1;\n"), "--template", e.path("privacy/report.html"))

	var first coordinator.Result
	code, _ := e.runJSON(&first, args...)
	require.Equal(t, ExitSuccess, code)

	e.write("privacy/report_v2.sql", "SELECT 2;\n")
	var res coordinator.Result
	code, _ = e.runJSON(&res, "modify", "--identity", privacyID, "--primary", e.path("privacy/report_v2.sql"))
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, bundle.OutcomeModified, res.Outcome)
	assert.Equal(t, 2, res.Summary.Version)
	assert.Equal(t, []bundle.ArtifactKind{bundle.KindPrimary}, res.Summary.Changed)

	oldTemplate, _ := first.Summary.References.Get(bundle.KindTemplate)
	newTemplate, _ := res.Summary.References.Get(bundle.KindTemplate)
	assert.Equal(t, oldTemplate, newTemplate)

	code, stdout, _ := e.run("modify", "--identity", privacyID, "--primary", e.path("privacy/report_v2.sql"))
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "SKIPPED "+privacyID+" version 2")
}

func TestModifyCommand_NotFound(t *testing.T) {
	e := newEnv(t)
	e.write("report.sql", "SELECT 1;\n")

	code, resp := e.runJSON(nil, "modify", "--identity", privacyID, "--primary", e.path("report.sql"))
	assert.Equal(t, ExitFailure, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(bundle.CodeNotFound), resp.Error.Code)
}

func TestModifyCommand_NeedsAFile(t *testing.T) {
	e := newEnv(t)

	code, _, stderr := e.run("modify", "--identity", privacyID)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "at least one of the flags")
}
