// Package directory defines the backend-neutral view of Active Directory:
// the Item and Info models, the Backend interface implemented by the LDAP
// and web-service clients, and the failover Connection that chooses between
// them.
//
// # Extraction
//
// Both wire forms decode through one attribute table. ItemFromXML reads the
// element trees returned by the web service, ItemFromAttributes reads LDAP
// entries. A value that fails to decode is logged and left unset; the rest
// of the object is still delivered.
//
// # Failover
//
// Dial establishes the primary backend for a Mode and falls back to the
// secondary only if the primary cannot be reached. After that, a failed
// enumeration is retried once on the secondary:
//
//	conn, err := directory.Dial(ctx, directory.ModeServiceThenLDAP, factories)
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	err = conn.Enumerate(ctx, directory.SearchRequest{
//		BaseDN: info.DefaultNamingContext,
//		Filter: "(objectClass=user)",
//		Scope:  directory.ScopeSubtree,
//	}, func(item *directory.Item) error {
//		fmt.Println(item.DistinguishedName)
//		return nil
//	})
//
// Workers call Connection.InitWorker once before using a connection
// concurrently.
package directory

const logSubsystem = "directory"
