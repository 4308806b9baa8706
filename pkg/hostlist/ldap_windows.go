//go:build windows

package hostlist

import (
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
)

// bindCurrentUser performs a SASL GSSAPI bind with the Kerberos credentials
// of the logged on user
func bindCurrentUser(conn *ldap.Conn, spn string) error {
	client, err := gssapi.NewSSPIClient()
	if err != nil {
		return fmt.Errorf("ldap bind: %w: could not acquire current user credentials: %v", ErrUnauthorized, err)
	}
	defer client.Close()

	if err := conn.GSSAPIBind(client, spn, ""); err != nil {
		return classifyLDAPError("bind", err)
	}
	return nil
}
