/*
Package ldap implements the LDAP directory backend.

# Connection Management

Servers come from configured ldap:// or ldaps:// URLs, or from DNS SRV
records for the domain:

  - _ldap._tcp.dc._msdcs.<domain> (domain controllers)
  - _ldaps._tcp.<domain>
  - _ldap._tcp.<domain>

A Pool opens connections on demand, upgrades them with StartTLS unless LDAPS
or SkipTLS is configured, binds them, and keeps released connections idle
for reuse. Transient failures are retried across servers with exponential
backoff.

# Authentication

  - Anonymous: no credentials configured
  - Simple bind: Username and Password
  - Kerberos: KerberosRealm plus a credential cache, keytab, or password.
    Without a krb5.conf a configuration locating KDCs through DNS is
    generated.

# Searching

Backend.Enumerate pages through results with the simple paged results
control and streams each entry to the callback as it is decoded. Requests
for nTSecurityDescriptor carry the SD flags control so the DACL is returned
without needing rights to the SACL.

Each worker calls InitWorker to hold a dedicated pooled connection:

	backend, err := ldap.New(ctx, &ldap.ConnectionConfig{
		Domain:   "example.com",
		Username: "auditor@example.com",
		Password: password,
	})
	if err != nil {
		return err
	}
	defer backend.Close()

	worker, err := backend.InitWorker(ctx)
	if err != nil {
		return err
	}
	defer worker.Close()

# Error Handling

Errors are returned as *directory.Error with the LDAP result code mapped to a
directory.ErrorKind.
*/
package ldap
