package addon

import (
	"errors"
	"testing"
)

func TestResolveIdentity(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		wantCanonical string
		wantProxy     string
	}{
		{
			name:          "proxy package",
			raw:           "vendor/theme-x-latus-proxied",
			wantCanonical: "vendor/theme-x",
			wantProxy:     "vendor/theme-x-latus-proxied",
		},
		{
			name:          "canonical package",
			raw:           "vendor/plugin-a",
			wantCanonical: "vendor/plugin-a",
			wantProxy:     "",
		},
		{
			name:          "marker in the middle",
			raw:           "vendor/a-latus-proxied-b",
			wantCanonical: "vendor/a-b",
			wantProxy:     "vendor/a-latus-proxied-b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveIdentity(tt.raw, DefaultProxyMarker)
			if got.CanonicalName != tt.wantCanonical {
				t.Errorf("CanonicalName = %q, want %q", got.CanonicalName, tt.wantCanonical)
			}
			if got.ProxyName != tt.wantProxy {
				t.Errorf("ProxyName = %q, want %q", got.ProxyName, tt.wantProxy)
			}
			if got.IsProxy() != (tt.wantProxy != "") {
				t.Errorf("IsProxy() = %v", got.IsProxy())
			}
		})
	}
}

func TestResolveIdentity_Idempotent(t *testing.T) {
	names := []string{"vendor/plugin-a", "vendor/theme-x", "solo", "a/b-c"}
	for _, n := range names {
		first := ResolveIdentity(n, DefaultProxyMarker)
		second := ResolveIdentity(first.CanonicalName, DefaultProxyMarker)
		if first != second {
			t.Errorf("ResolveIdentity(%q) not idempotent: %+v then %+v", n, first, second)
		}
		if first.CanonicalName != n {
			t.Errorf("canonical name %q changed to %q", n, first.CanonicalName)
		}
	}

	proxied := ResolveIdentity("vendor/theme-x-latus-proxied", DefaultProxyMarker)
	again := ResolveIdentity(proxied.CanonicalName, DefaultProxyMarker)
	if again.CanonicalName != proxied.CanonicalName || again.ProxyName != "" {
		t.Errorf("re-resolving canonical name gave %+v", again)
	}
}

func TestResolveIdentity_EmptyMarker(t *testing.T) {
	got := ResolveIdentity("vendor/theme-x-latus-proxied", "")
	if got.CanonicalName != "vendor/theme-x-latus-proxied" || got.ProxyName != "" {
		t.Errorf("empty marker should disable proxy detection, got %+v", got)
	}
}

func TestParseIdentity_Invalid(t *testing.T) {
	for _, raw := range []string{"", "   ", " vendor/a", "-latus-proxied", "vendor/-latus-proxied"} {
		if _, err := ParseIdentity(raw, DefaultProxyMarker); !errors.Is(err, ErrIdentityResolution) {
			t.Errorf("ParseIdentity(%q) error = %v, want ErrIdentityResolution", raw, err)
		}
	}
}

func TestParseIdentity_Valid(t *testing.T) {
	id, err := ParseIdentity("vendor/theme-x-latus-proxied", DefaultProxyMarker)
	if err != nil {
		t.Fatalf("ParseIdentity() error: %v", err)
	}
	if id.CanonicalName != "vendor/theme-x" {
		t.Errorf("CanonicalName = %q", id.CanonicalName)
	}
}

func TestParseEventKind(t *testing.T) {
	got, err := ParseEventKind("uninstall")
	if err != nil || got != EventUninstalled {
		t.Errorf("ParseEventKind(uninstall) = %q, %v", got, err)
	}
	for _, k := range EventKinds() {
		got, err := ParseEventKind(string(k))
		if err != nil || got != k {
			t.Errorf("ParseEventKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := ParseEventKind("exploded"); err == nil {
		t.Error("ParseEventKind(exploded) should fail")
	}
}

func TestChannel(t *testing.T) {
	if got := Channel(EventInstalled, "vendor/a"); got != "latus.package.installed.vendor/a" {
		t.Errorf("Channel() = %q", got)
	}
}

func TestListenersFor(t *testing.T) {
	l := Listeners{EventInstalled: {"log"}}
	got := l.For(EventInstalled)
	got[0] = "mutated"
	if l[EventInstalled][0] != "log" {
		t.Error("For() must return a copy")
	}
	if refs := l.For(EventUpdated); refs == nil || len(refs) != 0 {
		t.Errorf("For(missing) = %v, want empty non-nil slice", refs)
	}
	var nilListeners Listeners
	if refs := nilListeners.For(EventUpdated); len(refs) != 0 {
		t.Errorf("nil Listeners For() = %v", refs)
	}
}
