package addon

import "fmt"

// EventKind is a lifecycle notification type.
type EventKind string

const (
	EventInstalled       EventKind = "installed"
	EventUpdated         EventKind = "updated"
	EventUninstalled     EventKind = "uninstalled"
	EventInstallFailed   EventKind = "install_failed"
	EventUpdateFailed    EventKind = "update_failed"
	EventUninstallFailed EventKind = "uninstall_failed"
	EventActivated       EventKind = "activated"
	EventDeactivated     EventKind = "deactivated"
)

// EventKinds returns every event kind in drain order.
func EventKinds() []EventKind {
	return []EventKind{
		EventInstalled,
		EventUpdated,
		EventUninstalled,
		EventInstallFailed,
		EventUpdateFailed,
		EventUninstallFailed,
		EventActivated,
		EventDeactivated,
	}
}

// ParseEventKind converts a manifest or CLI key to an EventKind. The
// "uninstall" key used by older package manifests maps to EventUninstalled.
func ParseEventKind(s string) (EventKind, error) {
	if s == "uninstall" {
		return EventUninstalled, nil
	}
	for _, k := range EventKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown event kind %q", s)
}

// Channel returns the package-specific channel for an event, letting
// subscribers listen to one package's occurrences instead of every package.
func Channel(kind EventKind, packageName string) string {
	return "latus.package." + string(kind) + "." + packageName
}

// Listeners holds the listener refs a package declares per event kind.
type Listeners map[EventKind][]string

// For returns the listeners declared for kind, never nil.
func (l Listeners) For(kind EventKind) []string {
	if refs, ok := l[kind]; ok {
		return append([]string(nil), refs...)
	}
	return []string{}
}
