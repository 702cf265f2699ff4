package access

import (
	"fmt"
	"net/url"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/ruslano69/xzaccess/internal/directory"
)

// MemberURL is a parsed RFC 2255 LDAP URL from a dynamic group's memberURL
// attribute: ldap://host/basedn?attributes?scope?filter. Dynamic-group
// evaluation only consults BaseDN and Filter, but the whole URL must parse
// for the value to count.
type MemberURL struct {
	Host   string // empty in the usual host-less form
	BaseDN string // normalized
	Scope  directory.Scope
	Filter string
}

const defaultMemberFilter = "(objectClass=*)"

// ParseMemberURL parses and validates a memberURL value. The error describes
// what is malformed; callers log it and treat the group as not matching.
func ParseMemberURL(raw string) (MemberURL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return MemberURL{}, fmt.Errorf("member url %q: %w", raw, err)
	}
	if parsed.Scheme != "ldap" && parsed.Scheme != "ldaps" {
		return MemberURL{}, fmt.Errorf("member url %q: scheme %q is not ldap", raw, parsed.Scheme)
	}

	out := MemberURL{Host: parsed.Host}

	// url.Parse already percent-decodes the path.
	out.BaseDN = directory.NormalizeDN(strings.TrimLeft(parsed.Path, "/"))

	// Query sections are attributes?scope?filter?extensions, all optional.
	var scope, filter, extensions string
	parts := strings.Split(parsed.RawQuery, "?")
	if len(parts) > 4 {
		return MemberURL{}, fmt.Errorf("member url %q: too many query sections", raw)
	}
	if len(parts) >= 4 {
		extensions = parts[3]
	}
	if len(parts) >= 3 {
		if filter, err = url.QueryUnescape(parts[2]); err != nil {
			return MemberURL{}, fmt.Errorf("member url %q: filter: %w", raw, err)
		}
	}
	if len(parts) >= 2 {
		if scope, err = url.QueryUnescape(parts[1]); err != nil {
			return MemberURL{}, fmt.Errorf("member url %q: scope: %w", raw, err)
		}
	}

	switch scope {
	case "", "sub":
		out.Scope = directory.ScopeSubtree
	case "base":
		out.Scope = directory.ScopeBase
	case "one":
		return MemberURL{}, fmt.Errorf("member url %q: one-level scope not supported", raw)
	default:
		return MemberURL{}, fmt.Errorf("member url %q: invalid scope %q", raw, scope)
	}

	out.Filter = filter
	if out.Filter == "" {
		out.Filter = defaultMemberFilter
	}
	if _, err := goldap.CompileFilter(out.Filter); err != nil {
		return MemberURL{}, fmt.Errorf("member url %q: invalid filter: %w", raw, err)
	}

	// Critical extensions are prefixed with "!"; none are supported, so their
	// presence invalidates the URL. Optional extensions are ignored per RFC.
	if extensions != "" {
		for _, ext := range strings.Split(extensions, ",") {
			if strings.HasPrefix(strings.SplitN(ext, "=", 2)[0], "!") {
				return MemberURL{}, fmt.Errorf("member url %q: unsupported critical extension %q", raw, ext)
			}
		}
	}

	return out, nil
}
