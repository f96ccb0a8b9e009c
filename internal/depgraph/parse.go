package depgraph

import (
	"bufio"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// SourceFile is one entry in the analyzed file set.
type SourceFile struct {
	Path    string
	Content string
}

// Language extracts import specifiers from a file. Extraction is
// line-oriented pattern matching, not full parsing; implementations return
// raw specifiers (e.g. "./util", "../core/queue") which the builder resolves
// against the file set.
type Language interface {
	Imports(filePath, content string) ([]string, error)
}

// RegexpLanguage matches import specifiers line by line with a set of
// patterns. Each pattern must expose the specifier as capture group 1.
type RegexpLanguage struct {
	Name     string
	Patterns []*regexp.Regexp

	// MaxLineLen guards against pathological single-line files; lines longer
	// than this fail the file as malformed. Zero means 64KiB.
	MaxLineLen int
}

// Imports scans content line by line and returns every matched specifier.
func (l *RegexpLanguage) Imports(filePath, content string) ([]string, error) {
	maxLen := l.MaxLineLen
	if maxLen <= 0 {
		maxLen = 64 * 1024
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(nil, maxLen)

	var specs []string
	for scanner.Scan() {
		line := scanner.Text()
		for _, re := range l.Patterns {
			for _, m := range re.FindAllStringSubmatch(line, -1) {
				if len(m) > 1 && m[1] != "" {
					specs = append(specs, m[1])
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", filePath, err)
	}
	return specs, nil
}

// ECMAScript returns a language covering the import syntax of JavaScript and
// TypeScript sources: static imports, re-exports, and require calls.
func ECMAScript() *RegexpLanguage {
	return &RegexpLanguage{
		Name: "ecmascript",
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`import\s+(?:[\w*{},\s]+\s+from\s+)?['"]([^'"]+)['"]`),
			regexp.MustCompile(`export\s+[\w*{},\s]+\s+from\s+['"]([^'"]+)['"]`),
			regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`),
		},
	}
}

// resolveExtensions are the candidate suffixes tried when a specifier omits
// its extension, in preference order.
var resolveExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs"}

// resolveImport maps a raw specifier to a path inside the file set. Returns
// "" when the specifier points outside the set (bare package names,
// unresolvable relatives); such imports are ignored.
func resolveImport(spec, importerPath string, nodes map[string]struct{}) string {
	if spec == "" {
		return ""
	}

	var candidate string
	if strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") {
		candidate = path.Join(path.Dir(importerPath), spec)
	} else {
		// Bare specifiers only resolve when the file set contains them
		// verbatim (project-absolute layouts).
		candidate = path.Clean(spec)
	}

	if _, ok := nodes[candidate]; ok {
		return candidate
	}
	for _, ext := range resolveExtensions {
		if _, ok := nodes[candidate+ext]; ok {
			return candidate + ext
		}
	}
	for _, ext := range resolveExtensions {
		idx := path.Join(candidate, "index"+ext)
		if _, ok := nodes[idx]; ok {
			return idx
		}
	}
	return ""
}
