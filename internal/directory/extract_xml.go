package directory

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// XMLNode is a generic element tree as carried in web-service responses.
type XMLNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Nodes   []XMLNode  `xml:",any"`
}

// Attr returns the value of the attribute with the given local name.
func (n *XMLNode) Attr(local string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// Child returns the first child element with the given local name.
func (n *XMLNode) Child(local string) *XMLNode {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == local {
			return &n.Nodes[i]
		}
	}
	return nil
}

// Find walks the path of local names below n.
func (n *XMLNode) Find(path ...string) *XMLNode {
	cur := n
	for _, local := range path {
		if cur = cur.Child(local); cur == nil {
			return nil
		}
	}
	return cur
}

// ItemFromXML decodes one item element. The element's local name is the
// object class. Child elements are matched case-sensitively against the
// known attributes and unknown ones are ignored.
func ItemFromXML(ctx context.Context, node *XMLNode) (*Item, error) {
	if node == nil || node.XMLName.Local == "" {
		return nil, Errorf(KindInvalidInput, "", "extract item", "empty XML item")
	}

	item := &Item{}
	if dn := node.Find("distinguishedName", "value"); dn != nil {
		item.DistinguishedName = strings.TrimSpace(dn.Text)
	}

	for i := range node.Nodes {
		child := &node.Nodes[i]
		a, ok := attributesByName[child.XMLName.Local]
		if !ok {
			continue
		}
		values, err := xmlValues(child, a.binary)
		if err != nil {
			tflog.SubsystemWarn(ctx, logSubsystem, "Failed to decode attribute", map[string]any{
				"attribute": a.name,
				"dn":        item.DistinguishedName,
				"error":     err.Error(),
			})
			continue
		}
		applyAttribute(ctx, item, a, values)
	}

	item.Class = strings.ToLower(node.XMLName.Local)
	return item, nil
}

// xmlValues collects the value children of an attribute element, falling
// back to the element text for single-valued forms.
func xmlValues(attr *XMLNode, binary bool) ([]value, error) {
	var values []value
	for i := range attr.Nodes {
		n := &attr.Nodes[i]
		if n.XMLName.Local != "value" {
			continue
		}
		v, err := xmlValue(n, binary)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}

	if len(values) == 0 {
		if text := strings.TrimSpace(attr.Text); text != "" {
			v, err := xmlValue(attr, binary)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
	}
	return values, nil
}

func xmlValue(n *XMLNode, binary bool) (value, error) {
	text := strings.TrimSpace(n.Text)
	xsiType, _ := n.Attr("type")

	switch {
	case strings.HasSuffix(xsiType, "dateTime"):
		t, err := time.Parse(time.RFC3339Nano, text)
		if err != nil {
			return value{}, err
		}
		return value{data: []byte(text), when: t}, nil

	case binary || strings.HasSuffix(xsiType, "base64Binary"):
		data, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return value{}, err
		}
		return value{data: data}, nil

	default:
		return value{data: []byte(text)}, nil
	}
}
