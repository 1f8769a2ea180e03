package pushauth

import (
	"encoding/json"
	"errors"
)

// Notification is the typed form of an inbound push message. Only the fields
// the push-auth flow consumes are decoded; everything else in the frame is
// ignored.
type Notification struct {
	Type          string     `json:"type"`
	PushAuthToken string     `json:"push_auth_token"`
	Title         string     `json:"title"`
	APS           apsPayload `json:"aps"`
}

type apsPayload struct {
	Alert alertMessage `json:"alert"`
}

// alertMessage accepts both forms the push service sends: a bare string, or
// an object with a body field.
type alertMessage struct {
	Body string `json:"body"`
}

func (a *alertMessage) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &a.Body)
	}

	var obj struct {
		Body string `json:"body"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}

	a.Body = obj.Body
	return nil
}

// AuthorizationRequest holds the fields required to prompt the user about a
// pending login attempt and confirm it with the backend. It is only ever
// fully populated; a payload missing any required field never produces one.
type AuthorizationRequest struct {
	Token   string
	Title   string
	Message string
}

var ErrMalformedPayload = errors.New("payload is missing a required push-auth field")

func newAuthorizationRequest(n *Notification) (AuthorizationRequest, error) {
	if n == nil {
		return AuthorizationRequest{}, ErrMalformedPayload
	}

	if n.PushAuthToken == "" || n.Title == "" || n.APS.Alert.Body == "" {
		return AuthorizationRequest{}, ErrMalformedPayload
	}

	return AuthorizationRequest{
		Token:   n.PushAuthToken,
		Title:   n.Title,
		Message: n.APS.Alert.Body,
	}, nil
}
