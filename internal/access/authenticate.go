package access

import (
	"context"
	"errors"
	"fmt"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/ruslano69/xzaccess/internal/directory"
	"github.com/ruslano69/xzaccess/pkg/audit"
)

// AuthResult is the outcome of a client authentication attempt. It is a
// result code, not an error: every path through AuthenticateClient produces
// one, together with a human-readable diagnostic.
type AuthResult int

const (
	AuthSuccess AuthResult = iota
	AuthUnknownUser
	AuthInvalidCredentials
	AuthServerError
	AuthClientRejected
)

func (r AuthResult) String() string {
	switch r {
	case AuthSuccess:
		return "success"
	case AuthUnknownUser:
		return "unknown_user"
	case AuthInvalidCredentials:
		return "invalid_credentials"
	case AuthServerError:
		return "server_error"
	case AuthClientRejected:
		return "client_rejected"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// AuthenticateClient verifies the credentials of authID against the
// directory and, when a client-authorization DN is configured, verifies that
// the user belongs to it. Independent of the access cache: nothing here is
// cached, and the verification bind uses its own connection.
func (m *Manager) AuthenticateClient(ctx context.Context, authID, credentials string) (AuthResult, string) {
	result, diag := m.authenticateClient(ctx, authID, credentials)

	authenticationsTotal.WithLabelValues(result.String()).Inc()
	status := audit.StatusFailure
	if result == AuthSuccess {
		status = audit.StatusSuccess
	} else if result == AuthClientRejected || result == AuthInvalidCredentials {
		status = audit.StatusDenied
	}
	m.recordAudit(audit.OpAuthenticate, status, authID, "", diag)

	return result, diag
}

func (m *Manager) authenticateClient(ctx context.Context, authID, credentials string) (AuthResult, string) {
	if m.stopped.Load() {
		return AuthServerError, "access manager is stopped"
	}
	m.mu.RLock()
	dir := m.dir
	m.mu.RUnlock()
	if dir == nil {
		return AuthServerError, "access manager is stopped"
	}

	res := &resolver{
		dir:        dir,
		userBaseDN: m.cfg.UserBaseDN,
		loginAttr:  m.cfg.LoginAttribute,
		log:        m.log,
	}

	// Locate exactly one matching user entry; ambiguity is treated the same
	// as absence so a misconfigured directory cannot be bound through.
	entries, err := dir.Search(ctx, directory.SearchRequest{
		BaseDN:     m.cfg.UserBaseDN,
		Scope:      directory.ScopeSubtree,
		Filter:     fmt.Sprintf("(%s=%s)", m.cfg.LoginAttribute, goldap.EscapeFilter(authID)),
		Attributes: []string{roleAttribute},
	})
	if err != nil {
		return AuthServerError, fmt.Sprintf("unable to search user directory: %v", err)
	}
	switch len(entries) {
	case 0:
		return AuthUnknownUser, fmt.Sprintf("unknown user %q", authID)
	case 1:
		// ok
	default:
		return AuthUnknownUser, fmt.Sprintf("multiple entries match user %q", authID)
	}
	entry := entries[0]
	userDN := directory.NormalizeDN(entry.DN)

	// Verify the credentials with a bind on a connection of its own.
	if err := dir.CheckCredentials(ctx, entry.DN, credentials); err != nil {
		if errors.Is(err, directory.ErrInvalidCredentials) {
			return AuthInvalidCredentials, "invalid credentials"
		}
		return AuthServerError, fmt.Sprintf("unable to verify user credentials: %v", err)
	}

	if m.cfg.ClientAuthDN == "" {
		return AuthSuccess, ""
	}

	var roleDNs []string
	for _, v := range entry.Values(roleAttribute) {
		roleDNs = append(roleDNs, directory.NormalizeDN(v))
	}
	ok, diag := res.memberOfTarget(ctx, userDN, roleDNs, directory.NormalizeDN(m.cfg.ClientAuthDN))
	if !ok {
		if diag == "" {
			diag = fmt.Sprintf("user %q is not authorized to connect as a client", authID)
		}
		return AuthClientRejected, diag
	}
	return AuthSuccess, ""
}

// memberOfTarget runs the role / static-group / dynamic-group membership
// test restricted to a single target DN. On a negative outcome the
// diagnostic names the check that failed; directory errors here reject the
// client rather than surfacing as server errors, matching the resolution
// lenience for a single target.
func (r *resolver) memberOfTarget(ctx context.Context, userDN string, roleDNs []string, targetDN string) (bool, string) {
	for _, roleDN := range roleDNs {
		if roleDN == targetDN {
			return true, ""
		}
	}

	ok, err := r.staticGroupMember(ctx, targetDN, userDN)
	if err != nil {
		if errors.Is(err, directory.ErrNoSuchObject) {
			return false, fmt.Sprintf("authorization entry %q does not exist in the user directory", targetDN)
		}
		return false, fmt.Sprintf("unable to search authorization entry %q: %v", targetDN, err)
	}
	if ok {
		return true, ""
	}

	entries, err := r.dir.Search(ctx, directory.SearchRequest{
		BaseDN:     targetDN,
		Scope:      directory.ScopeBase,
		Filter:     "(objectclass=groupOfURLs)",
		Attributes: []string{memberURLAttribute},
	})
	if err != nil {
		return false, fmt.Sprintf("unable to search authorization entry %q: %v", targetDN, err)
	}
	if len(entries) == 0 {
		return false, fmt.Sprintf("not a member of %q", targetDN)
	}

	urls := entries[0].Values(memberURLAttribute)
	if len(urls) != 1 {
		return false, fmt.Sprintf("unable to verify membership in %q: expected one member URL, found %d", targetDN, len(urls))
	}
	memberURL, err := ParseMemberURL(urls[0])
	if err != nil {
		return false, fmt.Sprintf("malformed member URL on %q: %v", targetDN, err)
	}
	if !dnUnderBase(userDN, memberURL.BaseDN) {
		return false, fmt.Sprintf("not a member of %q", targetDN)
	}

	sub, err := r.dir.Search(ctx, directory.SearchRequest{
		BaseDN:     userDN,
		Scope:      directory.ScopeBase,
		Filter:     memberURL.Filter,
		Attributes: directory.NoAttributes,
	})
	if err != nil {
		return false, fmt.Sprintf("unable to evaluate member URL of %q: %v", targetDN, err)
	}
	if len(sub) == 0 {
		return false, fmt.Sprintf("not a member of %q", targetDN)
	}
	return true, ""
}
