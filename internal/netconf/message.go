package netconf

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

const (
	NamespaceBase    = "urn:ietf:params:xml:ns:netconf:base:1.0"
	CapabilityBase10 = "urn:ietf:params:netconf:base:1.0"
	CapabilityBase11 = "urn:ietf:params:netconf:base:1.1"
)

var ErrInvalidHello = errors.New("netconf: invalid hello")

// Hello is the capability exchange message sent by both peers.
type Hello struct {
	XMLName      xml.Name `xml:"hello"`
	Namespace    string   `xml:"xmlns,attr,omitempty"`
	Capabilities []string `xml:"capabilities>capability"`
	SessionID    string   `xml:"session-id,omitempty"`
}

// Supports reports whether capability was advertised.
func (h Hello) Supports(capability string) bool {
	for _, c := range h.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// BuildHello renders the client hello. base:1.0 is always advertised.
func BuildHello(capabilities ...string) (string, error) {
	caps := []string{CapabilityBase10}
	seen := map[string]bool{CapabilityBase10: true}
	for _, c := range capabilities {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		caps = append(caps, c)
	}
	out, err := xml.Marshal(Hello{Namespace: NamespaceBase, Capabilities: caps})
	if err != nil {
		return "", err
	}
	return xml.Header + string(out), nil
}

// ParseHello decodes a peer hello.
func ParseHello(payload string) (Hello, error) {
	var h Hello
	if err := xml.Unmarshal([]byte(payload), &h); err != nil {
		return Hello{}, fmt.Errorf("%w: %v", ErrInvalidHello, err)
	}
	for i, c := range h.Capabilities {
		h.Capabilities[i] = strings.TrimSpace(c)
	}
	h.SessionID = strings.TrimSpace(h.SessionID)
	if len(h.Capabilities) == 0 {
		return Hello{}, fmt.Errorf("%w: no capabilities", ErrInvalidHello)
	}
	return h, nil
}

func isHello(payload string) bool {
	if !strings.Contains(payload, "<hello") && !strings.Contains(payload, ":hello") {
		return false
	}
	_, hasID := ExtractMessageID(payload)
	return !hasID
}

// BuildRPC wraps operation in an <rpc> element carrying messageID.
func BuildRPC(messageID, operation string) string {
	var b strings.Builder
	b.WriteString(`<rpc message-id="`)
	_ = xml.EscapeText(&b, []byte(messageID))
	b.WriteString(`" xmlns="`)
	b.WriteString(NamespaceBase)
	b.WriteString(`">`)
	b.WriteString(operation)
	b.WriteString(`</rpc>`)
	return b.String()
}

// RPCError is one <rpc-error> element of a reply.
type RPCError struct {
	Type     string `xml:"error-type"`
	Tag      string `xml:"error-tag"`
	Severity string `xml:"error-severity"`
	AppTag   string `xml:"error-app-tag"`
	Path     string `xml:"error-path"`
	Message  string `xml:"error-message"`
}

func (e *RPCError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = strings.TrimSpace(e.Tag)
	}
	return fmt.Sprintf("netconf: rpc-error type=%s tag=%s: %s",
		strings.TrimSpace(e.Type), strings.TrimSpace(e.Tag), msg)
}

// Reply is the parsed envelope of an <rpc-reply>.
type Reply struct {
	XMLName   xml.Name   `xml:"rpc-reply"`
	MessageID string     `xml:"message-id,attr"`
	OK        *struct{}  `xml:"ok"`
	Errors    []RPCError `xml:"rpc-error"`
}

func ParseReply(payload string) (Reply, error) {
	var r Reply
	if err := xml.Unmarshal([]byte(payload), &r); err != nil {
		return Reply{}, err
	}
	return r, nil
}

// Err returns the first rpc-error whose severity is error. Warnings are
// not failures.
func (r Reply) Err() error {
	for i := range r.Errors {
		sev := strings.TrimSpace(r.Errors[i].Severity)
		if sev == "" || sev == "error" {
			return &r.Errors[i]
		}
	}
	return nil
}
