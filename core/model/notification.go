package model

import "encoding/json"

// Notification is a pending notification returned for a vehicle. Payload
// holds the full record as received.
type Notification struct {
	PushToken string          `json:"push_token"`
	Payload   json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the raw record alongside the decoded token.
func (n *Notification) UnmarshalJSON(b []byte) error {
	var rec struct {
		PushToken string `json:"push_token"`
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return err
	}
	n.PushToken = rec.PushToken
	n.Payload = append(json.RawMessage(nil), b...)
	return nil
}

// PushMessage is a push notification addressed to a single device token.
type PushMessage struct {
	Token string
	Title string
	Body  string
	Data  map[string]any
}
