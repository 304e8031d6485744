package fswatcher

import (
	"reflect"
	"sort"
	"testing"
)

func TestExpandBraces(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		want    []string
	}{
		{"no braces", "/root/**/*.txt", []string{"/root/**/*.txt"}},
		{"simple", "/root/{src,test}/*.txt", []string{"/root/src/*.txt", "/root/test/*.txt"}},
		{"three alternatives", "{a,b,c}", []string{"a", "b", "c"}},
		{"nested", "/r/{a,b{c,d}}", []string{"/r/a", "/r/bc", "/r/bd"}},
		{"multiple groups", "{a,b}{c,d}", []string{"ac", "ad", "bc", "bd"}},
		{"escaped open brace", `\{a,b}`, []string{`\{a,b}`}},
		{"escaped close brace", `{a,b\}}`, nil},
		{"unclosed", "{a,b", []string{"{a,b"}},
		{"empty alternative", "{a,}", []string{"a", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := expandBraces(tt.pattern)
			if tt.want == nil {
				return // only checks that expansion terminates
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expandBraces(%q) = %v, want %v", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestBaseDir(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"/root/src/**/*.ts", "/root/src"},
		{"/root/*.txt", "/root"},
		{"/*.txt", "/"},
		{"/root/a/b/c.txt", "/root/a/b"},
		{"/root/a?/b.txt", "/root"},
		{"/root/[ab]/c.txt", "/root"},
		{"/**", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			if got := baseDir(tt.pattern); got != tt.want {
				t.Errorf("baseDir(%q) = %q, want %q", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestMatcher_IsMatch(t *testing.T) {
	tests := []struct {
		name     string
		includes []string
		excludes []string
		path     string
		want     bool
	}{
		{"simple match", []string{"/root/**/*.txt"}, nil, "/root/a/b.txt", true},
		{"simple miss", []string{"/root/**/*.txt"}, nil, "/root/a/b.bin", false},
		{"double star spans segments", []string{"/root/**/*.txt"}, nil, "/root/a/b/c/d.txt", true},
		{"double star matches zero segments", []string{"/root/**/*.txt"}, nil, "/root/d.txt", true},
		{"single star stays in segment", []string{"/root/*.txt"}, nil, "/root/a/b.txt", false},
		{"question mark", []string{"/root/?.txt"}, nil, "/root/a.txt", true},
		{"character class", []string{"/root/[ab].txt"}, nil, "/root/b.txt", true},
		{"character class miss", []string{"/root/[ab].txt"}, nil, "/root/c.txt", false},
		{"brace alternation", []string{"/root/{src,test}/*.go"}, nil, "/root/test/x.go", true},
		{"exclude wins", []string{"/root/**/*.txt"}, []string{"/root/tmp/**"}, "/root/tmp/a.txt", false},
		{"exclude misses", []string{"/root/**/*.txt"}, []string{"/root/tmp/**"}, "/root/src/a.txt", true},
		{"relative resolved against cwd", []string{"**/*.txt"}, nil, "/cwd/a/b.txt", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMatcher(tt.includes, tt.excludes, "/cwd")
			if err != nil {
				t.Fatal(err)
			}
			if got := m.IsMatch(tt.path); got != tt.want {
				t.Errorf("IsMatch(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestMatcher_ShouldSkip(t *testing.T) {
	m, err := NewMatcher(
		[]string{"/root/**/*.txt"},
		[]string{"/root/node_modules/**", "/root/[.]git"},
		"/root",
	)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		dir  string
		want bool
	}{
		// A "/**" exclude prunes the directory itself.
		{"/root/node_modules", true},
		{"/root/node_modules/pkg", true},
		{"/root/src", false},
		{"/root", false},
	}
	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			if got := m.ShouldSkip(tt.dir); got != tt.want {
				t.Errorf("ShouldSkip(%q) = %v, want %v", tt.dir, got, tt.want)
			}
		})
	}
}

func TestMatcher_BaseDirs(t *testing.T) {
	tests := []struct {
		name     string
		includes []string
		want     []string
	}{
		{"single", []string{"/root/src/**/*.ts"}, []string{"/root/src"}},
		{
			"braces split the base",
			[]string{"/root/{src,test}/**/*.ts"},
			[]string{"/root/src", "/root/test"},
		},
		{
			"broader base absorbs narrower",
			[]string{"/root/**/*.ts", "/root/src/**/*.ts"},
			[]string{"/root"},
		},
		{
			"narrower first",
			[]string{"/root/src/**/*.ts", "/root/**/*.ts"},
			[]string{"/root"},
		},
		{
			"disjoint bases",
			[]string{"/a/**/*.go", "/b/**/*.go"},
			[]string{"/a", "/b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMatcher(tt.includes, nil, "/")
			if err != nil {
				t.Fatal(err)
			}
			got := m.BaseDirs()
			sort.Strings(got)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("BaseDirs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatcher_InvalidPattern(t *testing.T) {
	if _, err := NewMatcher([]string{"/root/[ab.txt"}, nil, "/"); err == nil {
		t.Fatal("expected compilation error for unclosed character class")
	}
}
