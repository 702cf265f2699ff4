package directory

import (
	"fmt"
	"strings"
)

// matchFunc evaluates a parsed filter against an entry.
type matchFunc func(Entry) bool

// parseFilter compiles the subset of the LDAP filter grammar the access
// manager emits: equality, presence, and, or, not. Substring and relational
// matching are not needed here and are rejected.
func parseFilter(s string) (matchFunc, error) {
	m, rest, err := parseOne(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, fmt.Errorf("filter %q: trailing data %q", s, rest)
	}
	return m, nil
}

func parseOne(s string) (matchFunc, string, error) {
	if !strings.HasPrefix(s, "(") {
		return nil, "", fmt.Errorf("filter: expected '(' at %q", s)
	}
	body := s[1:]

	switch {
	case strings.HasPrefix(body, "&"), strings.HasPrefix(body, "|"):
		op := body[0]
		rest := body[1:]
		var subs []matchFunc
		for strings.HasPrefix(rest, "(") {
			sub, r, err := parseOne(rest)
			if err != nil {
				return nil, "", err
			}
			subs = append(subs, sub)
			rest = r
		}
		if !strings.HasPrefix(rest, ")") {
			return nil, "", fmt.Errorf("filter: unterminated composite at %q", rest)
		}
		if op == '&' {
			return func(e Entry) bool {
				for _, sub := range subs {
					if !sub(e) {
						return false
					}
				}
				return true
			}, rest[1:], nil
		}
		return func(e Entry) bool {
			for _, sub := range subs {
				if sub(e) {
					return true
				}
			}
			return false
		}, rest[1:], nil

	case strings.HasPrefix(body, "!"):
		sub, rest, err := parseOne(body[1:])
		if err != nil {
			return nil, "", err
		}
		if !strings.HasPrefix(rest, ")") {
			return nil, "", fmt.Errorf("filter: unterminated negation at %q", rest)
		}
		return func(e Entry) bool { return !sub(e) }, rest[1:], nil

	default:
		end := strings.IndexByte(body, ')')
		if end < 0 {
			return nil, "", fmt.Errorf("filter: unterminated item at %q", body)
		}
		item := body[:end]
		rest := body[end+1:]
		eq := strings.IndexByte(item, '=')
		if eq <= 0 {
			return nil, "", fmt.Errorf("filter: bad item %q", item)
		}
		attr, value := item[:eq], item[eq+1:]
		if value == "*" {
			return func(e Entry) bool { return len(e.Values(attr)) > 0 }, rest, nil
		}
		if strings.Contains(value, "*") {
			return nil, "", fmt.Errorf("filter: substring match %q not supported", item)
		}
		return func(e Entry) bool {
			for _, v := range e.Values(attr) {
				if strings.EqualFold(v, value) {
					return true
				}
				// DN-valued attributes compare in normalized form.
				if NormalizeDN(v) == NormalizeDN(value) {
					return true
				}
			}
			return false
		}, rest, nil
	}
}
