//go:build !windows

package hostlist

import (
	"github.com/go-ldap/ldap/v3"
	"github.com/projectdiscovery/gologger"
)

// bindCurrentUser leaves the connection unauthenticated, there is no SSPI
// identity to bind with
func bindCurrentUser(_ *ldap.Conn, spn string) error {
	gologger.Debug().Msgf("no ambient credentials for %s, searching anonymously", spn)
	return nil
}
