package constraint

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Load builds a Tree from an optional whitelist file and an optional
// blacklist file: the whitelist (if any) is applied first, the
// blacklist second, so a blacklisted prefix always wins over an
// overlapping whitelisted one. The root leaf defaults to Allowed when
// no whitelist is given, Disallowed otherwise. Optimize is called once
// both files are applied.
func Load(whitelistPath, blacklistPath string) (*Tree, error) {
	defaultValue := Allowed
	if whitelistPath != "" {
		defaultValue = Disallowed
	}
	t := New(defaultValue)

	if whitelistPath != "" {
		if err := applyFile(t, whitelistPath, Allowed); err != nil {
			return nil, err
		}
	}
	if blacklistPath != "" {
		if err := applyFile(t, blacklistPath, Disallowed); err != nil {
			return nil, err
		}
	}

	t.Optimize()
	return t, nil
}

func applyFile(t *Tree, path string, fileValue Value) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("constraint: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n \t")
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		prefix, length, err := ParseCIDR(line)
		if err != nil {
			return fmt.Errorf("constraint: %s:%d: %w", path, lineNo, err)
		}
		t.Set(prefix, length, fileValue)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("constraint: read %s: %w", path, err)
	}
	return nil
}
