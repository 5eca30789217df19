// Package demangle turns linker names into display names. It covers
// Itanium C++, Rust v0 and the older hashed Rust scheme; anything it
// does not recognize passes through unchanged.
package demangle

import (
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/ianlancetaylor/demangle"
)

// Demangler maps a raw linker name to a display name. It must return
// the input unchanged when the name is not recognized.
type Demangler interface {
	Demangle(name string) string
}

// New returns the standard demangler.
func New() Demangler { return stdDemangler{} }

type stdDemangler struct{}

func (stdDemangler) Demangle(name string) string {
	out := demangle.Filter(name)
	if strings.HasPrefix(name, "_ZN") {
		// Rust's pre-v0 mangling rides on the Itanium scheme; the
		// demangled form still carries the escapes and the trailing
		// hash element.
		if polished, ok := rustLegacy(out); ok {
			return polished
		}
	}
	return out
}

// rustLegacy detects the demangled form of a legacy Rust name by its
// trailing h<hash> element, strips the hash and undoes the $...$
// punctuation escapes, mirroring what rustc's own demangler prints.
func rustLegacy(s string) (string, bool) {
	const hashLen = 16
	i := strings.LastIndex(s, "::h")
	if i < 0 || len(s) != i+len("::h")+hashLen {
		return "", false
	}
	for _, c := range s[i+len("::h"):] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", false
		}
	}

	elems := strings.Split(s[:i], "::")
	for j, e := range elems {
		// A leading underscore shields an element that would start
		// with an escape.
		if strings.HasPrefix(e, "_$") {
			e = e[1:]
		}
		elems[j] = unescapeElem(e)
	}
	return strings.Join(elems, "::"), true
}

func unescapeElem(e string) string {
	if !strings.ContainsAny(e, "$.") {
		return e
	}
	var b strings.Builder
	for i := 0; i < len(e); {
		switch {
		case strings.HasPrefix(e[i:], ".."):
			b.WriteString("::")
			i += 2
		case e[i] == '$':
			j := strings.IndexByte(e[i+1:], '$')
			if j < 0 {
				b.WriteByte('$')
				i++
				continue
			}
			if r, ok := unescapeDollar(e[i+1 : i+1+j]); ok {
				b.WriteString(r)
				i += j + 2
			} else {
				b.WriteByte('$')
				i++
			}
		default:
			b.WriteByte(e[i])
			i++
		}
	}
	return b.String()
}

func unescapeDollar(tok string) (string, bool) {
	switch tok {
	case "SP":
		return "@", true
	case "BP":
		return "*", true
	case "RF":
		return "&", true
	case "LT":
		return "<", true
	case "GT":
		return ">", true
	case "LP":
		return "(", true
	case "RP":
		return ")", true
	case "C":
		return ",", true
	}
	if strings.HasPrefix(tok, "u") {
		if n, err := strconv.ParseUint(tok[1:], 16, 32); err == nil {
			return string(rune(n)), true
		}
	}
	return "", false
}

const defaultCacheSize = 4096

// NewCached wraps d with a thread safe LRU memo. Sizes that are not
// positive fall back to a default. Memoization only saves repeat work,
// the wrapped demangler stays the source of truth.
func NewCached(d Demangler, size int) Demangler {
	if size <= 0 {
		size = defaultCacheSize
	}
	c, err := lru.New(size)
	if err != nil {
		return d
	}
	return &cached{d: d, lru: c}
}

type cached struct {
	d   Demangler
	lru *lru.Cache
}

func (c *cached) Demangle(name string) string {
	if v, ok := c.lru.Get(name); ok {
		return v.(string)
	}
	out := c.d.Demangle(name)
	c.lru.Add(name, out)
	return out
}
