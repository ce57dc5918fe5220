package rules

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LoadKeys reads a rule file of candidate query keys, one per line.
func LoadKeys(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	keys, err := ParseKeys(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return keys, nil
}

// ParseKeys returns the keys of a rule file in first-seen order. Blank lines
// and '#' comments are skipped. A key holding '&' or '=' can never appear in
// a query segment key and is rejected.
func ParseKeys(r io.Reader) ([]string, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(lines))
	keys := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.ContainsAny(line.text, "&=") {
			return nil, fmt.Errorf("line %d: key %q contains '&' or '='", line.number, line.text)
		}
		if _, ok := seen[line.text]; ok {
			continue
		}
		seen[line.text] = struct{}{}
		keys = append(keys, line.text)
	}
	return keys, nil
}

// LoadPatterns reads a gateway pattern file, one literal per line.
func LoadPatterns(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	lines, err := readLines(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	patterns := make([]string, 0, len(lines))
	for _, line := range lines {
		patterns = append(patterns, line.text)
	}
	return patterns, nil
}

type ruleLine struct {
	number int
	text   string
}

func readLines(r io.Reader) ([]ruleLine, error) {
	var lines []ruleLine
	scanner := bufio.NewScanner(r)
	number := 0
	for scanner.Scan() {
		number++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, ruleLine{number: number, text: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// ResolvePath joins a relative rule file path onto baseDir.
func ResolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
