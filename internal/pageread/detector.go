// Package pageread recognises spoken requests to read a specific document page.
package pageread

import (
	"regexp"
	"strconv"
	"strings"
)

// Request is a detected page-read request. Page is 1-indexed; Hint is empty
// when the utterance did not name a document.
type Request struct {
	Page int
	Hint string
}

// phrasing is one alternative way of asking for a page. Each pattern captures
// the page number in a group named after the phrasing.
type phrasing struct {
	name    string
	pattern string
}

// Alternatives are tried left to right at each position; the earliest match in
// the utterance wins.
var phrasings = []phrasing{
	{"imperative", `(?:read|show|get|give|tell)(?:\s+me)?(?:\s+about)?\s+page\s+(?:number\s+)?(?P<imperative>\d+)`},
	{"whatison", `what(?:\s+is|.s)\s+on\s+page\s+(?:number\s+)?(?P<whatison>\d+)`},
	{"pagefirst", `page\s+(?:number\s+)?(?P<pagefirst>\d+).*?(?:read|show|get|content|text|what)`},
}

const hintClause = `(?:\s+(?:of|from|in)\s+(?P<hint>.+))?`

var grammar = compile(phrasings)

func compile(alts []phrasing) *regexp.Regexp {
	parts := make([]string, len(alts))
	for i, a := range alts {
		parts[i] = a.pattern
	}
	return regexp.MustCompile(`(?i)(?:` + strings.Join(parts, "|") + `)` + hintClause)
}

// Detect returns the page request carried by query, if any.
func Detect(query string) (Request, bool) {
	return match(grammar, query)
}

func match(re *regexp.Regexp, query string) (Request, bool) {
	m := re.FindStringSubmatch(query)
	if m == nil {
		return Request{}, false
	}

	var req Request
	for i, name := range re.SubexpNames() {
		if m[i] == "" {
			continue
		}
		switch name {
		case "hint":
			req.Hint = strings.TrimSpace(m[i])
		case "":
		default:
			if req.Page == 0 {
				n, err := strconv.Atoi(m[i])
				if err != nil {
					return Request{}, false
				}
				req.Page = n
			}
		}
	}
	if req.Page < 1 {
		return Request{}, false
	}
	return req, true
}
