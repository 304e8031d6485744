package fswatcher

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// Matcher compiles include/exclude glob patterns into the predicates used to
// filter files and prune directory subtrees. All matching is performed in
// POSIX form: backslash separators are rewritten to forward slashes and a
// drive-letter prefix becomes a leading slash, so patterns behave the same
// across platforms.
//
// Supported syntax: *, ** (any number of path segments), ?, character
// classes, backslash escaping, and brace alternation {a,b}. Braces are
// expanded before compilation so that base-directory extraction sees each
// alternative separately.
type Matcher struct {
	cwd      string
	includes []compiledPattern
	excludes []compiledPattern
}

type compiledPattern struct {
	source string

	// One compiled glob per "**/" expansion variant: "a/**/b" must match
	// "a/b" too, which a literal compilation of the pattern does not.
	gs []glob.Glob

	// For exclude patterns ending in "/**": the pattern with that suffix
	// stripped, so the directory itself can be pruned.
	dirs []glob.Glob
}

func (cp *compiledPattern) match(s string) bool {
	for _, g := range cp.gs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

func (cp *compiledPattern) matchDir(s string) bool {
	for _, g := range cp.dirs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// NewMatcher compiles the given patterns. Relative patterns are resolved
// against cwd. Invalid patterns fail construction; the predicates never fail
// at runtime.
func NewMatcher(includes, excludes []string, cwd string) (*Matcher, error) {
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return nil, err
	}
	m := &Matcher{cwd: normalizePath(toPosix(abs))}

	for _, p := range includes {
		cps, err := m.compile(p, false)
		if err != nil {
			return nil, err
		}
		m.includes = append(m.includes, cps...)
	}
	for _, p := range excludes {
		cps, err := m.compile(p, true)
		if err != nil {
			return nil, err
		}
		m.excludes = append(m.excludes, cps...)
	}
	return m, nil
}

func (m *Matcher) compile(pattern string, exclude bool) ([]compiledPattern, error) {
	var cps []compiledPattern
	for _, expanded := range expandBraces(pattern) {
		src := m.normalizePattern(expanded)

		cp := compiledPattern{source: src}
		gs, err := compileVariants(src)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		cp.gs = gs

		if exclude {
			if base, ok := strings.CutSuffix(src, "/**"); ok && base != "" {
				dirs, err := compileVariants(base)
				if err != nil {
					return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
				}
				cp.dirs = dirs
			}
		}
		cps = append(cps, cp)
	}
	return cps, nil
}

// compileVariants compiles a normalized pattern together with its "**/"
// zero-segment variants.
func compileVariants(src string) ([]glob.Glob, error) {
	var gs []glob.Glob
	for _, variant := range expandDoubleStar(src) {
		g, err := glob.Compile(variant, '/')
		if err != nil {
			return nil, err
		}
		gs = append(gs, g)
	}
	return gs, nil
}

// expandDoubleStar returns the pattern plus every variant with "**/"
// groups elided, so "a/**/b" also matches "a/b".
func expandDoubleStar(p string) []string {
	i := strings.Index(p, "**/")
	if i < 0 {
		return []string{p}
	}
	head := p[:i]
	var out []string
	for _, tail := range expandDoubleStar(p[i+3:]) {
		out = append(out, head+"**/"+tail, head+tail)
	}
	return out
}

// IsMatch reports whether path should be admitted: some include pattern
// matches and no exclude pattern does.
func (m *Matcher) IsMatch(p string) bool {
	norm := m.normalizePattern(p)

	matched := false
	for _, cp := range m.includes {
		if cp.match(norm) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	// Include-only configurations skip the exclude scan entirely.
	for _, cp := range m.excludes {
		if cp.match(norm) {
			return false
		}
	}
	return true
}

// ShouldSkip reports whether the subtree rooted at dir can be pruned: some
// exclude pattern matches the directory itself, or an exclude ending in
// "/**" matches it with the suffix stripped.
func (m *Matcher) ShouldSkip(dir string) bool {
	norm := m.normalizePattern(dir)
	for _, cp := range m.excludes {
		if cp.match(norm) {
			return true
		}
		if cp.matchDir(norm) {
			return true
		}
	}
	return false
}

// BaseDirs returns the distinct base directories of the include patterns,
// in native separator form, with directories covered by a broader base
// removed. The base directory of a pattern is its longest prefix containing
// no glob metacharacters.
func (m *Matcher) BaseDirs() []string {
	var bases []string
	for _, cp := range m.includes {
		base := baseDir(cp.source)
		covered := false
		for i := 0; i < len(bases); i++ {
			if isPathPrefix(bases[i], base) {
				covered = true
				break
			}
			if isPathPrefix(base, bases[i]) {
				bases = append(bases[:i], bases[i+1:]...)
				i--
			}
		}
		if !covered {
			bases = append(bases, base)
		}
	}
	for i, b := range bases {
		bases[i] = fromPosix(b)
	}
	return bases
}

// normalizePattern resolves a pattern or candidate path to absolute POSIX
// form against the configured working directory.
func (m *Matcher) normalizePattern(p string) string {
	p = toPosix(p)
	if !strings.HasPrefix(p, "/") {
		p = m.cwd + "/" + p
	}
	return normalizePath(p)
}

// normalizePath strips a trailing slash (except for the root) and maps the
// empty path to ".". It does not clean ".." segments inside glob patterns
// since those may carry metacharacters.
func normalizePath(p string) string {
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	if p == "" {
		return "."
	}
	return p
}

// toPosix rewrites a native path or pattern into POSIX matching form. On
// backslash-separator platforms the separators become forward slashes and a
// drive-letter prefix becomes a leading slash ("C:/x" -> "/C:/x").
func toPosix(p string) string {
	if filepath.Separator != '\\' {
		return p
	}
	p = strings.ReplaceAll(p, `\`, "/")
	if len(p) >= 2 && p[1] == ':' && isDriveLetter(p[0]) {
		p = "/" + p
	}
	return p
}

// fromPosix undoes toPosix for paths handed back to the filesystem layer.
func fromPosix(p string) string {
	if filepath.Separator != '\\' {
		return p
	}
	if len(p) >= 3 && p[0] == '/' && p[2] == ':' && isDriveLetter(p[1]) {
		p = p[1:]
	}
	return filepath.FromSlash(p)
}

func isDriveLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// baseDir returns the longest prefix of a POSIX pattern that contains no
// glob metacharacters.
func baseDir(pattern string) string {
	segs := strings.Split(pattern, "/")
	var kept []string
	for i, seg := range segs {
		if i == len(segs)-1 || hasMeta(seg) {
			// The final segment is the file part of the pattern, never a
			// directory to watch.
			break
		}
		kept = append(kept, seg)
	}
	base := strings.Join(kept, "/")
	if base == "" {
		base = "/"
	}
	return path.Clean(base)
}

func hasMeta(seg string) bool {
	return strings.ContainsAny(seg, `*?[{\`)
}

func isPathPrefix(prefix, p string) bool {
	return prefix == p || strings.HasPrefix(p, prefix+"/") || prefix == "/"
}

// expandBraces expands top-level brace alternation into one pattern per
// alternative. Nested braces expand recursively; escaped braces are left
// literal.
func expandBraces(pattern string) []string {
	start, end := findBraces(pattern)
	if start < 0 {
		return []string{pattern}
	}

	prefix, body, suffix := pattern[:start], pattern[start+1:end], pattern[end+1:]

	var out []string
	for _, alt := range splitAlternatives(body) {
		out = append(out, expandBraces(prefix+alt+suffix)...)
	}
	return out
}

// findBraces locates the first unescaped "{" and its matching "}". Returns
// (-1, -1) when the pattern contains no complete brace group.
func findBraces(pattern string) (int, int) {
	start, depth := -1, 0
	escaped := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '{':
			if depth == 0 {
				start = i
			}
			depth++
		case c == '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					return start, i
				}
			}
		}
	}
	return -1, -1
}

// splitAlternatives splits a brace body on top-level unescaped commas.
func splitAlternatives(body string) []string {
	var alts []string
	depth, last := 0, 0
	escaped := false
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '{':
			depth++
		case c == '}':
			if depth > 0 {
				depth--
			}
		case c == ',' && depth == 0:
			alts = append(alts, body[last:i])
			last = i + 1
		}
	}
	return append(alts, body[last:])
}
