/*
Package adbinary decodes the Active Directory attribute blobs that arrive as
raw bytes: SIDs, GUIDs, file times, security descriptors, forest trust
information, replication metadata, schemaInfo and netlogon ping responses.

Every decoder is a pure function over a byte slice. Decoders never panic on
short or inconsistent input. A blob whose leading version tag is unknown
decodes to an empty value with a nil error, so newer formats are skipped
quietly. Anything else that cannot be decoded returns the part decoded so
far together with an error matching ErrMalformed:

	infos, err := adbinary.DecodeTrustForestInfo(raw)
	if errors.Is(err, adbinary.ErrMalformed) {
		// infos holds every record before the damaged one
	}
*/
package adbinary
