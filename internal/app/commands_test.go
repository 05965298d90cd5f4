package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/blackwell-systems/addonsync/internal/addon"
	"github.com/blackwell-systems/addonsync/internal/installer"
	"github.com/blackwell-systems/addonsync/internal/lifecycle"
)

// mustExecute fails the test when the command errors.
func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, args...)
	if err != nil {
		t.Fatalf("addonsync %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

// seedRepository configures the main repository so outcomes can be recorded.
func seedRepository(t *testing.T) {
	t.Helper()
	mustExecute(t, "repo", "add", "main", "https://packages.example.com")
	mustExecute(t, "setting", "set", "main_repository_name", "main")
}

func TestHook_InstallListQueue(t *testing.T) {
	setupTestEnv(t)
	seedRepository(t)

	out := mustExecute(t, "hook", "install", "plugin", "vendor/seo-latus-proxied", "1.0.0")
	if !strings.Contains(out, "vendor/seo: activated 1.0.0 (installed)") {
		t.Errorf("hook output = %q", out)
	}

	out = mustExecute(t, "list", "plugins")
	for _, want := range []string{"vendor/seo*", "activated", "1.0.0", "ACTIVATED: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q\n%s", want, out)
		}
	}

	out = mustExecute(t, "queue")
	if !strings.Contains(out, "installed") || !strings.Contains(out, "1 pending") {
		t.Errorf("queue output = %q", out)
	}
}

func TestHook_FailureKeepsLastGoodVersion(t *testing.T) {
	setupTestEnv(t)
	seedRepository(t)

	mustExecute(t, "hook", "install", "plugin", "vendor/forms", "1.0.0")
	out := mustExecute(t, "hook", "update", "plugin", "vendor/forms", "1.1.0", "--error", "checksum mismatch")
	if !strings.Contains(out, "vendor/forms: failed_update 1.0.0 (update_failed)") {
		t.Errorf("hook output = %q", out)
	}

	out = mustExecute(t, "list", "--status", "failed_update")
	if !strings.Contains(out, "vendor/forms") || !strings.Contains(out, "1.1.0") {
		t.Errorf("list output = %q", out)
	}

	out = mustExecute(t, "list", "--status", "activated")
	if !strings.Contains(out, "No packages found.") {
		t.Errorf("status filter should exclude the failed record:\n%s", out)
	}
}

func TestHook_UninstallRemovesRecord(t *testing.T) {
	setupTestEnv(t)
	seedRepository(t)

	mustExecute(t, "hook", "install", "theme", "vendor/aurora", "3.0.0", "--supports", "blog,shop")
	out := mustExecute(t, "hook", "uninstall", "theme", "vendor/aurora")
	if !strings.Contains(out, "vendor/aurora: removed (uninstalled)") {
		t.Errorf("hook output = %q", out)
	}

	out = mustExecute(t, "list", "themes")
	if !strings.Contains(out, "No packages found.") {
		t.Errorf("list output = %q", out)
	}
}

func TestHook_Errors(t *testing.T) {
	setupTestEnv(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown verb", []string{"hook", "remove", "plugin", "vendor/a"}, "unknown operation"},
		{"unknown kind", []string{"hook", "install", "module", "vendor/a", "1.0"}, "unknown package kind"},
		{"bad listener", []string{"hook", "install", "plugin", "vendor/a", "1.0", "--listener", "log"}, "want event=ref"},
		{"bad event", []string{"hook", "install", "plugin", "vendor/a", "1.0", "--listener", "removed=log"}, "unknown event kind"},
		{"no repository", []string{"hook", "install", "plugin", "vendor/a", "1.0"}, "repository"},
		{"update without record", []string{"hook", "update", "plugin", "vendor/a", "1.0"}, "record not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func writeManifest(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "composer.json")
	manifest := `{
  "name": "vendor/aurora",
  "type": "latus-theme",
  "version": "3.1.0",
  "extra": {
    "latus": {
      "modules": ["blog", "shop"],
      "listeners": {"installed": "audit"}
    }
  }
}`
	if err := os.WriteFile(path, []byte(manifest), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestHook_Manifest(t *testing.T) {
	dir := setupTestEnv(t)
	seedRepository(t)
	path := writeManifest(t, dir)

	out := mustExecute(t, "hook", "install", "theme", "vendor/aurora", "--manifest", path)
	if !strings.Contains(out, "activated 3.1.0") {
		t.Errorf("hook output = %q", out)
	}

	out = mustExecute(t, "list", "themes")
	if !strings.Contains(out, "blog,shop") {
		t.Errorf("supports not taken from manifest:\n%s", out)
	}

	out = mustExecute(t, "queue")
	if !strings.Contains(out, "audit") {
		t.Errorf("declared listener not queued:\n%s", out)
	}
}

// stubBackend fails every operation on a package listed in fail.
type stubBackend struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

func (s *stubBackend) do(verb, pkg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, verb+" "+pkg)
	if s.fail[pkg] {
		return errors.New("composer exited with status 1")
	}
	return nil
}

func (s *stubBackend) Install(_ context.Context, _ addon.Kind, pkg, _ string) error {
	return s.do("install", pkg)
}

func (s *stubBackend) Update(_ context.Context, _ addon.Kind, pkg, _ string) error {
	return s.do("update", pkg)
}

func (s *stubBackend) Uninstall(_ context.Context, _ addon.Kind, pkg string) error {
	return s.do("uninstall", pkg)
}

func useBackend(t *testing.T, b installer.Backend) {
	t.Helper()
	old := newBackend
	newBackend = func(*env) installer.Backend { return b }
	t.Cleanup(func() { newBackend = old })
}

func TestInstall_RecordsEachOutcome(t *testing.T) {
	setupTestEnv(t)
	seedRepository(t)
	backend := &stubBackend{fail: map[string]bool{"vendor/bad": true}}
	useBackend(t, backend)

	out, err := execute(t, "install", "vendor/good:1.0.0", "vendor/bad:2.0.0")
	if err == nil || !strings.Contains(err.Error(), "1 of 2 install operations failed") {
		t.Fatalf("install error = %v", err)
	}
	if !strings.Contains(out, "vendor/good: activated 1.0.0 (installed)") {
		t.Errorf("output missing success line:\n%s", out)
	}
	if !strings.Contains(out, "vendor/bad: failed_install") || !strings.Contains(out, "composer exited") {
		t.Errorf("output missing failure line:\n%s", out)
	}
	if len(backend.calls) != 2 {
		t.Errorf("backend calls = %v", backend.calls)
	}

	mustExecute(t, "update", "vendor/good:1.1.0")
	out = mustExecute(t, "uninstall", "vendor/good")
	if !strings.Contains(out, "vendor/good: removed (uninstalled)") {
		t.Errorf("uninstall output = %q", out)
	}
}

func TestBuildOperations(t *testing.T) {
	dir := t.TempDir()
	manifest := writeManifest(t, dir)

	t.Run("package arguments", func(t *testing.T) {
		opts := &runOptions{kind: "theme"}
		ops, err := buildOperations(lifecycle.VerbInstall, opts, []string{"vendor/a:1.0", "vendor/b:^2.0"})
		if err != nil {
			t.Fatalf("buildOperations() error: %v", err)
		}
		if len(ops) != 2 || ops[1].Attempt.Version != "^2.0" || ops[0].Attempt.Kind != addon.KindTheme {
			t.Errorf("ops = %+v", ops)
		}
	})

	t.Run("manifest only", func(t *testing.T) {
		opts := &runOptions{attemptFlags: attemptFlags{manifest: manifest}}
		ops, err := buildOperations(lifecycle.VerbInstall, opts, nil)
		if err != nil {
			t.Fatalf("buildOperations() error: %v", err)
		}
		a := ops[0].Attempt
		if a.Package != "vendor/aurora" || a.Kind != addon.KindTheme || a.Version != "3.1.0" {
			t.Errorf("attempt = %+v", a)
		}
		if !reflect.DeepEqual(a.Listeners.For(addon.EventInstalled), []string{"audit"}) {
			t.Errorf("listeners = %v", a.Listeners)
		}
	})

	t.Run("uninstall needs no version", func(t *testing.T) {
		if _, err := buildOperations(lifecycle.VerbUninstall, &runOptions{}, []string{"vendor/a"}); err != nil {
			t.Errorf("buildOperations() error: %v", err)
		}
	})

	errTests := []struct {
		name string
		opts *runOptions
		args []string
		want string
	}{
		{"no packages", &runOptions{}, nil, "at least one package"},
		{"missing version", &runOptions{}, []string{"vendor/a"}, "missing version"},
		{"manifest with several packages", &runOptions{attemptFlags: attemptFlags{manifest: manifest}}, []string{"vendor/a:1", "vendor/b:1"}, "single package"},
		{"missing manifest", &runOptions{attemptFlags: attemptFlags{manifest: filepath.Join(dir, "nope.json")}}, nil, "no such file"},
	}
	for _, tt := range errTests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildOperations(lifecycle.VerbInstall, tt.opts, tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestDrain_DeliversToAliasedWebhook(t *testing.T) {
	dir := setupTestEnv(t)
	seedRepository(t)

	var (
		mu       sync.Mutex
		received []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		received = append(received, body)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	confDir := filepath.Join(dir, "config", "addonsync")
	if err := os.MkdirAll(confDir, 0755); err != nil {
		t.Fatal(err)
	}
	aliases := "notify=webhook:" + srv.URL + "\n"
	if err := os.WriteFile(filepath.Join(confDir, "listeners"), []byte(aliases), 0644); err != nil {
		t.Fatal(err)
	}

	mustExecute(t, "hook", "install", "plugin", "vendor/seo", "1.0.0", "--listener", "installed=notify")

	out := mustExecute(t, "drain")
	if !strings.Contains(out, "Dispatched 1 event(s)") {
		t.Errorf("drain output = %q", out)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("webhook received %d calls, want 1", len(received))
	}
	if received[0]["package_name"] != "vendor/seo" || received[0]["event"] != "installed" {
		t.Errorf("payload = %v", received[0])
	}

	out = mustExecute(t, "queue")
	if !strings.Contains(out, "No pending events.") {
		t.Errorf("queue should be empty after drain:\n%s", out)
	}
}

func TestQueue_Clear(t *testing.T) {
	setupTestEnv(t)
	seedRepository(t)

	mustExecute(t, "hook", "install", "plugin", "vendor/a", "1.0")
	mustExecute(t, "hook", "install", "plugin", "vendor/b", "1.0")

	out := mustExecute(t, "queue", "--clear")
	if !strings.Contains(out, "Queue cleared") {
		t.Errorf("output = %q", out)
	}
	if out := mustExecute(t, "queue"); !strings.Contains(out, "No pending events.") {
		t.Errorf("queue output = %q", out)
	}
}

func TestRepoAndSetting(t *testing.T) {
	setupTestEnv(t)

	mustExecute(t, "repo", "add", "mirror", "https://mirror.example.com")
	out := mustExecute(t, "repo", "list")
	if !strings.Contains(out, "mirror") || !strings.Contains(out, "https://mirror.example.com") {
		t.Errorf("repo list output = %q", out)
	}

	if _, err := execute(t, "setting", "get", "main_repository_name"); err == nil {
		t.Error("expected error for unset setting")
	}
	mustExecute(t, "setting", "set", "main_repository_name", "mirror")
	if out := mustExecute(t, "setting", "get", "main_repository_name"); strings.TrimSpace(out) != "mirror" {
		t.Errorf("setting get = %q", out)
	}
}

func TestParseListeners(t *testing.T) {
	got, err := parseListeners([]string{"installed=log", "uninstall = notify", "installed=audit"})
	if err != nil {
		t.Fatalf("parseListeners() error: %v", err)
	}
	want := addon.Listeners{
		addon.EventInstalled:   {"log", "audit"},
		addon.EventUninstalled: {"notify"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseListeners() = %v, want %v", got, want)
	}

	if got, err := parseListeners(nil); err != nil || got != nil {
		t.Errorf("parseListeners(nil) = %v, %v", got, err)
	}
	if _, err := parseListeners([]string{"installed="}); err == nil {
		t.Error("expected error for empty ref")
	}
}

func TestMergeListeners(t *testing.T) {
	base := addon.Listeners{addon.EventInstalled: {"log"}}
	extra := addon.Listeners{addon.EventInstalled: {"notify"}, addon.EventUpdated: {"audit"}}

	got := mergeListeners(base, extra)
	want := addon.Listeners{
		addon.EventInstalled: {"log", "notify"},
		addon.EventUpdated:   {"audit"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("mergeListeners() = %v, want %v", got, want)
	}
	if len(base[addon.EventInstalled]) != 1 {
		t.Error("mergeListeners must not modify base")
	}
}

func TestSplitPackageArg(t *testing.T) {
	tests := []struct {
		arg, name, version string
	}{
		{"vendor/a:1.0.0", "vendor/a", "1.0.0"},
		{"vendor/a:^2.0", "vendor/a", "^2.0"},
		{"vendor/a", "vendor/a", ""},
		{" vendor/a : 1.0 ", "vendor/a", "1.0"},
	}
	for _, tt := range tests {
		name, version := splitPackageArg(tt.arg)
		if name != tt.name || version != tt.version {
			t.Errorf("splitPackageArg(%q) = %q, %q", tt.arg, name, version)
		}
	}
}
