package hostlist

import (
	"context"
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/require"
)

// fakeSearcher serves a RootDSE entry and one result per page, linking
// pages with cookies "1", "2", ...
type fakeSearcher struct {
	pages   [][]string
	cookies []string
	baseDNs []string
	err     error
}

func (f *fakeSearcher) Search(request *ldap.SearchRequest) (*ldap.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if request.Scope == ldap.ScopeBaseObject {
		return &ldap.SearchResult{Entries: []*ldap.Entry{
			ldap.NewEntry("", map[string][]string{"defaultNamingContext": {"DC=corp,DC=example,DC=com"}}),
		}}, nil
	}

	f.baseDNs = append(f.baseDNs, request.BaseDN)
	paging := ldap.FindControl(request.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
	f.cookies = append(f.cookies, string(paging.Cookie))

	page := len(f.cookies) - 1
	result := &ldap.SearchResult{}
	for _, name := range f.pages[page] {
		result.Entries = append(result.Entries, ldap.NewEntry("CN="+name, map[string][]string{"name": {name}}))
	}
	next := &ldap.ControlPaging{PagingSize: paging.PagingSize}
	if page+1 < len(f.pages) {
		next.SetCookie([]byte{byte('1' + page)})
	}
	result.Controls = []ldap.Control{next}
	return result, nil
}

func TestLDAPSearchFollowsPagingCookie(t *testing.T) {
	conn := &fakeSearcher{pages: [][]string{{"PC-1", "PC-2"}, {"PC-3"}, {}}}
	directory := &LDAPDirectory{URL: "ldap://dc01.corp.example.com"}

	var got [][]string
	err := directory.search(context.Background(), conn, 2, func(names []string) error {
		got = append(got, names)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, [][]string{{"PC-1", "PC-2"}, {"PC-3"}, {}}, got)
	require.Equal(t, []string{"", "1", "2"}, conn.cookies)
	require.Equal(t, []string{"DC=corp,DC=example,DC=com"}, unique(conn.baseDNs))
}

func TestLDAPSearchCancelledBetweenPages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := &fakeSearcher{pages: [][]string{{"PC-1"}, {"PC-2"}}}
	directory := &LDAPDirectory{BaseDN: "OU=Workstations,DC=corp,DC=example,DC=com"}

	var pages int
	err := directory.search(ctx, conn, 1, func([]string) error {
		pages++
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, pages)
	require.Len(t, conn.cookies, 1)
}

func TestLDAPSearchUnauthorized(t *testing.T) {
	conn := &fakeSearcher{err: ldap.NewError(ldap.LDAPResultOperationsError, errors.New("000004DC: LdapErr: DSID-0C090A5C, comment: In order to perform this operation a successful bind must be completed"))}
	directory := &LDAPDirectory{}

	err := directory.search(context.Background(), conn, 10, func([]string) error { return nil })
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestClassifyLDAPError(t *testing.T) {
	tests := []struct {
		name             string
		err              error
		wantUnauthorized bool
	}{
		{"insufficient access", ldap.NewError(ldap.LDAPResultInsufficientAccessRights, errors.New("denied")), true},
		{"invalid credentials", ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("bad password")), true},
		{"strong auth required", ldap.NewError(ldap.LDAPResultStrongAuthRequired, errors.New("sign")), true},
		{"unbound search", ldap.NewError(ldap.LDAPResultOperationsError, errors.New("bind required")), true},
		{"busy", ldap.NewError(ldap.LDAPResultBusy, errors.New("busy")), false},
		{"network", ldap.NewError(ldap.ErrorNetwork, errors.New("connection reset")), false},
		{"plain error", errors.New("timeout"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyLDAPError("search", tt.err)
			require.Equal(t, tt.wantUnauthorized, errors.Is(err, ErrUnauthorized))
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestLDAPServicePrincipal(t *testing.T) {
	spn, err := (&LDAPDirectory{URL: "ldaps://dc01.corp.example.com:636"}).servicePrincipal()
	require.NoError(t, err)
	require.Equal(t, "ldap/dc01.corp.example.com", spn)

	_, err = (&LDAPDirectory{URL: "dc01"}).servicePrincipal()
	require.Error(t, err)
}

func unique(values []string) []string {
	var out []string
	for _, value := range values {
		if len(out) == 0 || out[len(out)-1] != value {
			out = append(out, value)
		}
	}
	return out
}
