// Package vpath normalizes virtual filesystem paths for case-insensitive
// lookup: it strips a leading root separator and ASCII-case-folds each
// path component. Real (on-disk) paths are never folded; only the
// virtual-path side of the tree is.
package vpath

import "strings"

// Fold splits a virtual path into its components, ASCII-case-folded.
//
// Only 7-bit ASCII letters change case; every other byte (including
// multi-byte UTF-8 sequences) passes through untouched. Fold is
// idempotent: folding an already-folded path returns the same
// components.
func Fold(virtual string) []string {
	virtual = strings.TrimPrefix(virtual, "/")
	if virtual == "" {
		return nil
	}

	parts := strings.Split(virtual, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, FoldComponent(p))
	}
	return out
}

// FoldComponent ASCII-case-folds a single path component. It is the
// primitive Fold and the VFT's updateChild both build on.
func FoldComponent(name string) string {
	b := []byte(name)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Parent returns the virtual parent of p and whether p has one. The
// root ("/" or "") has no parent.
func Parent(p string) (string, bool) {
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return "", false
	}
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return "", true
	}
	return p[:idx], true
}

// Base returns the final component of a virtual path.
func Base(p string) string {
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return ""
	}
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}
