package commonroom

import (
	"bytes"
	"encoding/json"
)

// Social is one social identity attached to a member.
type Social struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Member is a remote member record. Attributes holds every top-level field
// of the API response keyed by remote field id, so the identity-field
// mapping can address any of them.
type Member struct {
	Attributes map[string]any
}

// Get returns the remote value stored under a field id.
func (m *Member) Get(field string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.Attributes[field]
	return v, ok
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Member) UnmarshalJSON(data []byte) error {
	var attrs map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&attrs); err != nil {
		return err
	}
	m.Attributes = attrs
	return nil
}

// MemberUpsert is the payload of a create-or-update call.
type MemberUpsert struct {
	// Email is the identity key; sent as the email social.
	Email string

	// Source labels where the member came from in the remote UI.
	Source string

	// Fields maps remote field id to value for every identity-field mapping.
	Fields map[string]any
}

func (m MemberUpsert) body() map[string]any {
	body := make(map[string]any, len(m.Fields)+2)
	for k, v := range m.Fields {
		body[k] = v
	}
	body["socials"] = []Social{{Type: SocialTypeEmail, Value: m.Email}}
	if m.Source != "" {
		body["source"] = m.Source
	}
	return body
}

// CustomField is one entry of the remote custom field catalog.
type CustomField struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// TypedValue is a custom field value tagged with the field's type.
type TypedValue struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// CustomFieldValue is the payload of a custom field assignment.
type CustomFieldValue struct {
	Email   string
	FieldID int64
	Value   TypedValue
}

func (v CustomFieldValue) body() map[string]any {
	return map[string]any{
		"socialType":       SocialTypeEmail,
		"value":            v.Email,
		"customFieldId":    v.FieldID,
		"customFieldValue": v.Value,
	}
}
