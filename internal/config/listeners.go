package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// ListenerAliases holds the short listener names declared by the operator.
// Each key is the name a package manifest may use and the value is the
// listener ref it stands for, e.g. "notify=webhook:https://hooks.example.com".
type ListenerAliases struct {
	Aliases map[string]string
}

// LoadListenerAliases reads the listeners file at {dir}/listeners. If the
// file does not exist, an empty set is returned without an error. Invalid or
// malformed lines are silently skipped.
func LoadListenerAliases(dir string) (*ListenerAliases, error) {
	cfg := &ListenerAliases{
		Aliases: make(map[string]string),
	}

	f, err := os.Open(filepath.Join(dir, "listeners"))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Split on the first "=" only; webhook URLs may carry query strings.
		idx := strings.IndexByte(line, '=')
		if idx <= 0 {
			continue
		}

		name := strings.TrimSpace(line[:idx])
		ref := strings.TrimSpace(line[idx+1:])
		if name == "" || ref == "" || name == ref {
			continue
		}

		cfg.Aliases[name] = ref
	}

	if err := scanner.Err(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
