package pushauth

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAuthorizationRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		rawPayload  string
		expectedErr bool
		expected    AuthorizationRequest
	}{
		{
			name:       "alert as bare string",
			rawPayload: `{"type":"push_auth","push_auth_token":"abc123","title":"Login Attempt","aps":{"alert":"New login from iPhone"}}`,
			expected: AuthorizationRequest{
				Token:   "abc123",
				Title:   "Login Attempt",
				Message: "New login from iPhone",
			},
		},
		{
			name:       "alert as object",
			rawPayload: `{"type":"push_auth","push_auth_token":"abc123","title":"Login Attempt","aps":{"alert":{"body":"New login from iPhone"}}}`,
			expected: AuthorizationRequest{
				Token:   "abc123",
				Title:   "Login Attempt",
				Message: "New login from iPhone",
			},
		},
		{
			name:        "missing token",
			rawPayload:  `{"type":"push_auth","title":"Login Attempt","aps":{"alert":"New login from iPhone"}}`,
			expectedErr: true,
		},
		{
			name:        "empty token",
			rawPayload:  `{"type":"push_auth","push_auth_token":"","title":"Login Attempt","aps":{"alert":"New login from iPhone"}}`,
			expectedErr: true,
		},
		{
			name:        "missing title",
			rawPayload:  `{"type":"push_auth","push_auth_token":"abc123","aps":{"alert":"New login from iPhone"}}`,
			expectedErr: true,
		},
		{
			name:        "missing alert message",
			rawPayload:  `{"type":"push_auth","push_auth_token":"abc123","title":"Login Attempt"}`,
			expectedErr: true,
		},
		{
			name:        "empty alert object",
			rawPayload:  `{"type":"push_auth","push_auth_token":"abc123","title":"Login Attempt","aps":{"alert":{}}}`,
			expectedErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var n Notification
			require.NoError(t, json.Unmarshal([]byte(tt.rawPayload), &n))

			req, err := newAuthorizationRequest(&n)
			if tt.expectedErr {
				require.ErrorIs(t, err, ErrMalformedPayload)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.expected, req)
		})
	}
}

func TestNewAuthorizationRequest_NilNotification(t *testing.T) {
	t.Parallel()

	_, err := newAuthorizationRequest(nil)
	require.ErrorIs(t, err, ErrMalformedPayload)
}
