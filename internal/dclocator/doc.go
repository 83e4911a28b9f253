// Package dclocator finds domain controllers for a DNS or NetBIOS domain
// name. The default Service follows the DC locator process: it queries the
// _ldap._tcp.dc._msdcs SRV records and confirms each candidate with an LDAP
// ping before returning it.
package dclocator
