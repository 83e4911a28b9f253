/*
Package adws implements the directory backend for Active Directory Web
Services, the SOAP service domain controllers expose on port 9389.

Objects are read with WS-Enumeration: an Enumerate request carries an LDAP
filter, base and scope in the LdapQuery dialect together with the selected
attributes, and Pull requests fetch up to MaxElements objects at a time
until the service signals the end of the sequence. The rootDSE is read with
a WS-Transfer Get.

Requests are authenticated with NTLM when a username and password are
configured, with Kerberos SPNEGO when a realm is also configured, and on
Windows with the logon session of the current user otherwise. Each worker
created by InitWorker holds its own HTTP transport and credential handle.

SOAP faults are returned as *Fault wrapped in a *directory.Error. The LDAP
result code carried in a directory fault decides the error kind when
present; HTTP 401 and 403 responses are directory.KindUnauthorized.
*/
package adws
