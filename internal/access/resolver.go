package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"

	"github.com/ruslano69/xzaccess/internal/directory"
)

// Directory attribute names used during resolution.
const (
	roleAttribute      = "nsRole"    // role DNs on a user entry
	memberURLAttribute = "memberURL" // search URL on a dynamic group entry
)

// resolver computes the set of protected resources a user may access by
// combining the three directory membership representations: roles listed on
// the user entry, static groups (groupOfNames / groupOfUniqueNames) and
// dynamic groups (groupOfURLs).
type resolver struct {
	dir        directory.Client
	userBaseDN string
	loginAttr  string
	log        zerolog.Logger
}

// userEntry is the outcome of locating the user in the directory.
type userEntry struct {
	dn      string   // normalized
	roleDNs []string // normalized
}

// findUser locates the user entry by login attribute. The directory is
// assumed to enforce uniqueness of the login attribute, so the first entry
// returned is authoritative.
func (r *resolver) findUser(ctx context.Context, userID string) (userEntry, error) {
	entries, err := r.dir.Search(ctx, directory.SearchRequest{
		BaseDN:     r.userBaseDN,
		Scope:      directory.ScopeSubtree,
		Filter:     fmt.Sprintf("(%s=%s)", r.loginAttr, goldap.EscapeFilter(userID)),
		Attributes: []string{roleAttribute},
	})
	if err != nil {
		return userEntry{}, &QueryError{Err: err}
	}
	if len(entries) == 0 {
		return userEntry{}, fmt.Errorf("%w: %s=%s under %q",
			ErrUserNotFound, r.loginAttr, userID, r.userBaseDN)
	}

	entry := entries[0]
	u := userEntry{dn: directory.NormalizeDN(entry.DN)}
	for _, v := range entry.Values(roleAttribute) {
		u.roleDNs = append(u.roleDNs, directory.NormalizeDN(v))
	}
	return u, nil
}

// accessibleResources runs the three membership passes against a registry
// snapshot and returns the matched resource names in registry order.
func (r *resolver) accessibleResources(ctx context.Context, userID string, resources []Resource) ([]string, error) {
	user, err := r.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	roles := make(map[string]bool, len(user.roleDNs))
	for _, dn := range user.roleDNs {
		roles[dn] = true
	}

	matched := make(map[string]bool, len(resources))
	names := make([]string, 0, len(resources))
	add := func(res Resource, via string) {
		matched[res.Name] = true
		names = append(names, res.Name)
		r.log.Debug().
			Str("user", userID).
			Str("resource", res.Name).
			Str("via", via).
			Msg("resource allowed")
	}

	// Role pass: exact DN equality against the user's roles, no further
	// directory calls.
	for _, res := range resources {
		if roles[res.DN] {
			add(res, "role")
		}
	}

	// Group passes for everything the role pass did not settle.
	for _, res := range resources {
		if matched[res.Name] {
			continue
		}

		ok, err := r.staticGroupMember(ctx, res.DN, user.dn)
		if err != nil {
			if errors.Is(err, directory.ErrNoSuchObject) {
				// The authorization entry does not exist, so there is
				// nothing further to check for this resource, not even
				// the dynamic pass.
				r.log.Debug().
					Str("resource", res.Name).
					Str("dn", res.DN).
					Msg("authorization entry not found, skipping resource")
				continue
			}
			return nil, &QueryError{Err: err}
		}
		if ok {
			add(res, "static group")
			continue
		}

		ok, err = r.dynamicGroupMember(ctx, res.DN, user.dn)
		if err != nil {
			return nil, &QueryError{Err: err}
		}
		if ok {
			add(res, "dynamic group")
		}
	}

	return names, nil
}

// staticGroupFilter matches a group entry at the target DN that lists userDN
// as a member, covering both static group object classes.
func staticGroupFilter(userDN string) string {
	esc := goldap.EscapeFilter(userDN)
	return "(|(&(objectclass=groupOfNames)(member=" + esc +
		"))(&(objectclass=groupOfUniqueNames)(uniqueMember=" + esc + ")))"
}

func (r *resolver) staticGroupMember(ctx context.Context, groupDN, userDN string) (bool, error) {
	entries, err := r.dir.Search(ctx, directory.SearchRequest{
		BaseDN:     groupDN,
		Scope:      directory.ScopeBase,
		Filter:     staticGroupFilter(userDN),
		Attributes: directory.NoAttributes,
	})
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// dynamicGroupMember evaluates the target DN as a groupOfURLs entry. The
// search for the group entry itself is fatal on error; everything downstream
// of it (a malformed URL, a user DN outside the URL base, a failing
// sub-search) only means this resource does not match.
func (r *resolver) dynamicGroupMember(ctx context.Context, groupDN, userDN string) (bool, error) {
	entries, err := r.dir.Search(ctx, directory.SearchRequest{
		BaseDN:     groupDN,
		Scope:      directory.ScopeBase,
		Filter:     "(objectclass=groupOfURLs)",
		Attributes: []string{memberURLAttribute},
	})
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return false, nil
	}

	urls := entries[0].Values(memberURLAttribute)
	if len(urls) == 0 {
		return false, nil
	}

	memberURL, err := ParseMemberURL(urls[0])
	if err != nil {
		r.log.Warn().Err(err).Str("dn", groupDN).Msg("skipping dynamic group")
		return false, nil
	}
	if !dnUnderBase(userDN, memberURL.BaseDN) {
		return false, nil
	}

	// Evaluate the URL's filter against the user's own entry.
	sub, err := r.dir.Search(ctx, directory.SearchRequest{
		BaseDN:     userDN,
		Scope:      directory.ScopeBase,
		Filter:     memberURL.Filter,
		Attributes: directory.NoAttributes,
	})
	if err != nil {
		r.log.Warn().Err(err).Str("dn", groupDN).Msg("dynamic group sub-search failed, skipping")
		return false, nil
	}
	return len(sub) > 0, nil
}

// dnUnderBase reports whether dn sits at or below base. Both arguments are
// already normalized.
func dnUnderBase(dn, base string) bool {
	if base == "" || dn == base {
		return true
	}
	return strings.HasSuffix(dn, ","+base)
}
