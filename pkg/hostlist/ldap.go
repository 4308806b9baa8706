package hostlist

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/go-ldap/ldap/v3"
)

const (
	DefaultComputerFilter    = "(objectClass=computer)"
	DefaultComputerAttribute = "name"
	defaultLDAPDialTimeout   = 10 * time.Second
)

// LDAPDirectory lists machine accounts from an LDAP directory such as
// Active Directory using the Simple Paged Results control.
//
// On Windows the connection binds as the identity of the running process
// through SSPI Kerberos, so no credentials are configured. Elsewhere, or
// when Anonymous is set, the search runs unauthenticated.
type LDAPDirectory struct {
	// URL of the directory, e.g. ldap://dc01.corp.example.com
	URL string
	// BaseDN to search from. When empty the RootDSE defaultNamingContext is used.
	BaseDN string
	// Filter selecting machine entries, DefaultComputerFilter when empty
	Filter string
	// Attribute holding the host name, DefaultComputerAttribute when empty
	Attribute string
	// DialTimeout bounds connection establishment
	DialTimeout time.Duration
	// Anonymous skips the bind
	Anonymous bool
}

// searcher is the part of an LDAP connection the paged listing needs
type searcher interface {
	Search(request *ldap.SearchRequest) (*ldap.SearchResult, error)
}

// ListHosts implements DirectoryProvider
func (d *LDAPDirectory) ListHosts(ctx context.Context, pageSize int, yield func(names []string) error) error {
	conn, err := d.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	// unblock a pending search when the sweep is cancelled
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	if !d.Anonymous {
		spn, err := d.servicePrincipal()
		if err != nil {
			return err
		}
		if err := bindCurrentUser(conn, spn); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
	}
	return d.search(ctx, conn, pageSize, yield)
}

// search walks every page of the computer listing, handing each page to
// yield and following the paging cookie until the server returns none
func (d *LDAPDirectory) search(ctx context.Context, conn searcher, pageSize int, yield func(names []string) error) error {
	var err error
	baseDN := d.BaseDN
	if baseDN == "" {
		if baseDN, err = defaultNamingContext(conn); err != nil {
			return err
		}
	}

	filter := d.Filter
	if filter == "" {
		filter = DefaultComputerFilter
	}
	attribute := d.Attribute
	if attribute == "" {
		attribute = DefaultComputerAttribute
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	paging := ldap.NewControlPaging(uint32(pageSize))
	request := ldap.NewSearchRequest(
		baseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter,
		[]string{attribute},
		[]ldap.Control{paging},
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := conn.Search(request)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return classifyLDAPError("search", err)
		}

		names := make([]string, 0, len(result.Entries))
		for _, entry := range result.Entries {
			if name := entry.GetAttributeValue(attribute); name != "" {
				names = append(names, name)
			}
		}
		if err := yield(names); err != nil {
			return err
		}

		control, ok := ldap.FindControl(result.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
		if !ok || len(control.Cookie) == 0 {
			return nil
		}
		paging.SetCookie(control.Cookie)
	}
}

// servicePrincipal is the LDAP SPN of the directory host
func (d *LDAPDirectory) servicePrincipal() (string, error) {
	u, err := url.Parse(d.URL)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("ldap: invalid directory url %q", d.URL)
	}
	return "ldap/" + u.Hostname(), nil
}

func (d *LDAPDirectory) dial() (*ldap.Conn, error) {
	if d.URL == "" {
		return nil, fmt.Errorf("ldap: %w: no directory url", ErrNoProvider)
	}
	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = defaultLDAPDialTimeout
	}
	conn, err := ldap.DialURL(d.URL, ldap.DialWithDialer(&net.Dialer{Timeout: timeout}))
	if err != nil {
		return nil, fmt.Errorf("ldap: could not connect to %s: %w", d.URL, err)
	}
	return conn, nil
}

// defaultNamingContext reads the domain root DN from the RootDSE
func defaultNamingContext(conn searcher) (string, error) {
	request := ldap.NewSearchRequest(
		"",
		ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)",
		[]string{"defaultNamingContext"},
		nil,
	)
	result, err := conn.Search(request)
	if err != nil {
		return "", classifyLDAPError("RootDSE lookup", err)
	}
	if len(result.Entries) == 0 {
		return "", fmt.Errorf("ldap: RootDSE returned no entry")
	}
	baseDN := result.Entries[0].GetAttributeValue("defaultNamingContext")
	if baseDN == "" {
		return "", fmt.Errorf("ldap: RootDSE has no defaultNamingContext, set a base DN")
	}
	return baseDN, nil
}

// classifyLDAPError marks permission failures of op as ErrUnauthorized
func classifyLDAPError(op string, err error) error {
	if ldap.IsErrorAnyOf(err,
		ldap.LDAPResultInsufficientAccessRights,
		ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultStrongAuthRequired,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultConfidentialityRequired,
	) {
		return fmt.Errorf("ldap %s: %w: %w", op, ErrUnauthorized, err)
	}
	// Active Directory answers unauthenticated searches with operationsError
	if ldap.IsErrorWithCode(err, ldap.LDAPResultOperationsError) {
		return fmt.Errorf("ldap %s: %w: %w", op, ErrUnauthorized, err)
	}
	return fmt.Errorf("ldap %s failed: %w", op, err)
}
