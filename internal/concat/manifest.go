package concat

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
)

const manifestPermissions = 0o600

// WriteManifest writes paths as a concat-demuxer list, one "file" directive per line,
// preserving order.
func WriteManifest(path string, entries []string) error {
	if len(entries) == 0 {
		return errors.New("manifest needs at least one entry")
	}
	var buf bytes.Buffer
	for _, entry := range entries {
		if strings.ContainsAny(entry, "\r\n") {
			return fmt.Errorf("manifest entry %q contains a line break", entry)
		}
		buf.WriteString("file ")
		buf.WriteString(quote(entry))
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(path, buf.Bytes(), manifestPermissions); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest returns the entries of a manifest written by WriteManifest, in order.
func ReadManifest(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var entries []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rest, ok := strings.CutPrefix(line, "file ")
		if !ok {
			return nil, fmt.Errorf("manifest line %d: expected file directive", lineNo)
		}
		entry, err := unquote(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("manifest line %d: %w", lineNo, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.New("manifest lists no files")
	}
	return entries, nil
}

// quote wraps s in single quotes, escaping embedded quotes shell-style.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func unquote(s string) (string, error) {
	var out strings.Builder
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
		case c == '\\' && !inQuote:
			if i+1 >= len(s) {
				return "", errors.New("dangling escape")
			}
			i++
			out.WriteByte(s[i])
		default:
			out.WriteByte(c)
		}
	}
	if inQuote {
		return "", errors.New("unterminated quote")
	}
	return out.String(), nil
}
