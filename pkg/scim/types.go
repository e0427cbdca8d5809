// Package scim contains the RFC 7643/7644 wire subset emitted by the
// outbound provisioner: resource payload construction with configurable
// attribute mapping, PATCH envelopes, and the one-shot HTTP client.
package scim

import "encoding/json"

// MediaType is the SCIM media type used for request and response bodies.
const MediaType = "application/scim+json"

// Schema URNs for the resources and messages the provisioner emits.
const (
	UserSchema    = "urn:ietf:params:scim:schemas:core:2.0:User"
	GroupSchema   = "urn:ietf:params:scim:schemas:core:2.0:Group"
	PatchOpSchema = "urn:ietf:params:scim:api:messages:2.0:PatchOp"
	ErrorSchema   = "urn:ietf:params:scim:api:messages:2.0:Error"
)

// User is a SCIM 2.0 User resource (RFC 7643 §4.1) as the provisioner reads
// it back from downstream responses.
type User struct {
	Schemas    []string `json:"schemas"`
	ID         string   `json:"id,omitempty"`
	ExternalID string   `json:"externalId,omitempty"`
	UserName   string   `json:"userName,omitempty"`
	Name       *Name    `json:"name,omitempty"`
	Emails     []Email  `json:"emails,omitempty"`
	Active     *bool    `json:"active,omitempty"`
}

// Name is the name component of a SCIM user.
type Name struct {
	GivenName  string `json:"givenName,omitempty"`
	FamilyName string `json:"familyName,omitempty"`
	Formatted  string `json:"formatted,omitempty"`
}

// Email is one entry of a SCIM user's emails multi-valued attribute.
type Email struct {
	Value   string `json:"value"`
	Type    string `json:"type,omitempty"`
	Primary bool   `json:"primary"`
}

// Group is a SCIM 2.0 Group resource. Outbound group payloads are fixed
// shape: displayName and externalId.
type Group struct {
	Schemas     []string `json:"schemas"`
	ID          string   `json:"id,omitempty"`
	ExternalID  string   `json:"externalId,omitempty"`
	DisplayName string   `json:"displayName,omitempty"`
}

// MemberValue references a user inside a group membership PATCH.
type MemberValue struct {
	Value string `json:"value"`
}

// PatchOp is the RFC 7644 §3.5.2 PATCH request envelope.
type PatchOp struct {
	Schemas    []string         `json:"schemas"`
	Operations []PatchOperation `json:"Operations"`
}

// PatchOperation is a single entry of a PatchOp's Operations list.
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path,omitempty"`
	Value any    `json:"value,omitempty"`
}

// Error is the SCIM error response body (RFC 7644 §3.12).
type Error struct {
	Schemas []string `json:"schemas"`
	Detail  string   `json:"detail"`
	Status  string   `json:"status"`
}

// ErrorDetail extracts the human-readable detail from a SCIM error body.
// Bodies that do not parse as SCIM errors yield "".
func ErrorDetail(body []byte) string {
	var e Error
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	return e.Detail
}
