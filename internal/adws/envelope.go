package adws

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"

	"github.com/isometry/adscan/internal/directory"
)

const (
	nsSOAP        = "http://www.w3.org/2003/05/soap-envelope"
	nsAddressing  = "http://www.w3.org/2005/08/addressing"
	nsEnumeration = "http://schemas.xmlsoap.org/ws/2004/09/enumeration"
	nsTransfer    = "http://schemas.xmlsoap.org/ws/2004/09/transfer"
	nsAD          = "http://schemas.microsoft.com/2008/1/ActiveDirectory"
	nsADData      = "http://schemas.microsoft.com/2008/1/ActiveDirectory/Data"
	nsLdapQuery   = "http://schemas.microsoft.com/2008/1/ActiveDirectory/Dialect/LdapQuery"

	dialectLdapQuery = nsLdapQuery
	dialectXPath     = "http://schemas.microsoft.com/2008/1/ActiveDirectory/Dialect/XPath-Level-1"

	actionEnumerate = nsEnumeration + "/Enumerate"
	actionPull      = nsEnumeration + "/Pull"
	actionRelease   = nsEnumeration + "/Release"
	actionGet       = nsTransfer + "/Get"

	anonymousAddress = nsAddressing + "/anonymous"

	// rootDSEReference addresses the rootDSE in WS-Transfer requests.
	rootDSEReference = "11111111-1111-1111-1111-111111111111"

	pathEnumeration = "/ActiveDirectoryWebServices/Windows/Enumeration"
	pathResource    = "/ActiveDirectoryWebServices/Windows/Resource"
)

// sdFlagsControlValue is the BER encoding of SEQUENCE { INTEGER 7 }:
// owner, group and DACL without the SACL.
const sdFlagsControlValue = "MAMCAQc="

// envelope is a decoded SOAP response.
type envelope struct {
	XMLName xml.Name          `xml:"Envelope"`
	Header  directory.XMLNode `xml:"Header"`
	Body    directory.XMLNode `xml:"Body"`
}

// payload returns the first element of the body.
func (e *envelope) payload() *directory.XMLNode {
	if len(e.Body.Nodes) == 0 {
		return nil
	}
	return &e.Body.Nodes[0]
}

func (e *envelope) fault() *directory.XMLNode {
	return e.Body.Child("Fault")
}

// request is one outgoing SOAP message.
type request struct {
	action string
	to     string
	header string // extra header elements, already encoded
	body   string
}

func (r *request) encode(instance string) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	fmt.Fprintf(&buf, `<s:Envelope xmlns:s=%q xmlns:a=%q xmlns:wsen=%q xmlns:ad=%q xmlns:addata=%q xmlns:adlq=%q xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">`,
		nsSOAP, nsAddressing, nsEnumeration, nsAD, nsADData, nsLdapQuery)
	buf.WriteString(`<s:Header>`)
	fmt.Fprintf(&buf, `<a:Action s:mustUnderstand="1">%s</a:Action>`, escape(r.action))
	fmt.Fprintf(&buf, `<ad:instance>%s</ad:instance>`, escape(instance))
	buf.WriteString(r.header)
	fmt.Fprintf(&buf, `<a:MessageID>urn:uuid:%s</a:MessageID>`, uuid.New())
	fmt.Fprintf(&buf, `<a:ReplyTo><a:Address>%s</a:Address></a:ReplyTo>`, anonymousAddress)
	fmt.Fprintf(&buf, `<a:To s:mustUnderstand="1">%s</a:To>`, escape(r.to))
	buf.WriteString(`</s:Header><s:Body>`)
	buf.WriteString(r.body)
	buf.WriteString(`</s:Body></s:Envelope>`)
	return buf.Bytes()
}

// enumerateBody builds a WS-Enumeration Enumerate request in the LDAP
// query dialect.
func enumerateBody(req directory.SearchRequest, attributes []string) string {
	var buf bytes.Buffer
	buf.WriteString(`<wsen:Enumerate>`)
	fmt.Fprintf(&buf, `<wsen:Filter Dialect=%q><adlq:LdapQuery>`, dialectLdapQuery)
	fmt.Fprintf(&buf, `<adlq:Filter>%s</adlq:Filter>`, escape(req.Filter))
	fmt.Fprintf(&buf, `<adlq:BaseObject>%s</adlq:BaseObject>`, escape(req.BaseDN))
	fmt.Fprintf(&buf, `<adlq:Scope>%s</adlq:Scope>`, queryScope(req.Scope))
	buf.WriteString(`</adlq:LdapQuery></wsen:Filter>`)
	fmt.Fprintf(&buf, `<ad:Selection Dialect=%q>`, dialectXPath)
	for _, attr := range attributes {
		fmt.Fprintf(&buf, `<ad:SelectionProperty>addata:%s</ad:SelectionProperty>`, escape(attr))
	}
	buf.WriteString(`</ad:Selection></wsen:Enumerate>`)
	return buf.String()
}

// pullBody builds a Pull request. The SD flags control rides on each pull
// when security descriptors are selected.
func pullBody(enumContext string, maxElements int, sdFlags bool) string {
	var buf bytes.Buffer
	buf.WriteString(`<wsen:Pull>`)
	fmt.Fprintf(&buf, `<wsen:EnumerationContext>%s</wsen:EnumerationContext>`, escape(enumContext))
	fmt.Fprintf(&buf, `<wsen:MaxElements>%d</wsen:MaxElements>`, maxElements)
	if sdFlags {
		fmt.Fprintf(&buf, `<ad:controls><ad:control type=%q criticality="true"><ad:controlValue xsi:type="xsd:base64Binary">%s</ad:controlValue></ad:control></ad:controls>`,
			ldap.ControlTypeMicrosoftSDFlags, sdFlagsControlValue)
	}
	buf.WriteString(`</wsen:Pull>`)
	return buf.String()
}

func releaseBody(enumContext string) string {
	return fmt.Sprintf(`<wsen:Release><wsen:EnumerationContext>%s</wsen:EnumerationContext></wsen:Release>`, escape(enumContext))
}

func objectReferenceHeader(ref string) string {
	return fmt.Sprintf(`<ad:objectReferenceProperty>%s</ad:objectReferenceProperty>`, escape(ref))
}

func queryScope(s directory.Scope) string {
	switch s {
	case directory.ScopeBase:
		return "base"
	case directory.ScopeOneLevel:
		return "onelevel"
	default:
		return "subtree"
	}
}

// attributeValues flattens an object element into attribute name to value
// texts, as returned by a WS-Transfer Get.
func attributeValues(obj *directory.XMLNode) map[string][]string {
	out := make(map[string][]string, len(obj.Nodes))
	for i := range obj.Nodes {
		attr := &obj.Nodes[i]
		name := attr.XMLName.Local
		for j := range attr.Nodes {
			if v := &attr.Nodes[j]; v.XMLName.Local == "value" {
				out[name] = append(out[name], strings.TrimSpace(v.Text))
			}
		}
		if _, ok := out[name]; !ok {
			if text := strings.TrimSpace(attr.Text); text != "" {
				out[name] = []string{text}
			}
		}
	}
	return out
}

// localName strips a namespace prefix from a QName value such as
// "wsen:InvalidEnumerationContext".
func localName(qname string) string {
	qname = strings.TrimSpace(qname)
	if i := strings.LastIndexByte(qname, ':'); i >= 0 {
		return qname[i+1:]
	}
	return qname
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func parseInt(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	return n, err == nil
}
