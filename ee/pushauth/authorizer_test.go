package pushauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pushauth/agent/ee/prompt"
	"github.com/pushauth/agent/pkg/agent/storage/inmemory"
	"github.com/pushauth/agent/pkg/agent/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type prompterMock struct{ mock.Mock }

func newPrompterMock() *prompterMock { return &prompterMock{} }

func (pm *prompterMock) Prompt(ctx context.Context, req prompt.Request) (bool, error) {
	args := pm.Called(ctx, req)
	return args.Bool(0), args.Error(1)
}

type authClientMock struct{ mock.Mock }

func newAuthClientMock() *authClientMock { return &authClientMock{} }

func (am *authClientMock) Authorize(ctx context.Context, token string) error {
	args := am.Called(ctx, token)
	return args.Error(0)
}

func testNotification() *Notification {
	return &Notification{
		Type:          PushAuthSubsystem,
		PushAuthToken: "abc123",
		Title:         "Login Attempt",
		APS:           apsPayload{Alert: alertMessage{Body: "New login from iPhone"}},
	}
}

func TestShouldHandle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		notification    *Notification
		appForegrounded bool
		promptVisible   bool
		expected        bool
	}{
		{
			name:            "push auth payload in foreground",
			notification:    testNotification(),
			appForegrounded: true,
			expected:        true,
		},
		{
			name:            "nil payload",
			notification:    nil,
			appForegrounded: true,
			expected:        false,
		},
		{
			name: "wrong type",
			notification: &Notification{
				Type:          "other",
				PushAuthToken: "abc123",
				Title:         "Login Attempt",
				APS:           apsPayload{Alert: alertMessage{Body: "New login from iPhone"}},
			},
			appForegrounded: true,
			expected:        false,
		},
		{
			name:            "backgrounded",
			notification:    testNotification(),
			appForegrounded: false,
			expected:        false,
		},
		{
			name:            "prompt already visible",
			notification:    testNotification(),
			appForegrounded: true,
			promptVisible:   true,
			expected:        false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := New(newPrompterMock(), newAuthClientMock())
			if tt.promptVisible {
				require.True(t, a.beginPrompt())
			}

			require.Equal(t, tt.expected, a.ShouldHandle(tt.notification, tt.appForegrounded))
		})
	}
}

func TestHandle_UserApproves(t *testing.T) {
	t.Parallel()

	mockPrompter := newPrompterMock()
	mockClient := newAuthClientMock()
	store := inmemory.NewStore()
	a := New(mockPrompter, mockClient, WithStore(store))

	mockPrompter.On("Prompt", mock.Anything, mock.MatchedBy(func(req prompt.Request) bool {
		return req.Title == "Login Attempt" &&
			req.Body == "New login from iPhone" &&
			req.AcceptLabel == "Approve" &&
			req.RejectLabel == "Ignore"
	})).Return(true, nil)
	mockClient.On("Authorize", mock.Anything, "abc123").Return(nil)

	require.False(t, a.PromptVisible())
	a.Handle(context.Background(), testNotification())
	require.False(t, a.PromptVisible())

	mockPrompter.AssertNumberOfCalls(t, "Prompt", 1)
	mockClient.AssertNumberOfCalls(t, "Authorize", 1)
	requireRecordCount(t, store, 1)
}

func TestHandle_UserRejects(t *testing.T) {
	t.Parallel()

	mockPrompter := newPrompterMock()
	mockClient := newAuthClientMock()
	store := inmemory.NewStore()
	a := New(mockPrompter, mockClient, WithStore(store))

	mockPrompter.On("Prompt", mock.Anything, mock.Anything).Return(false, nil)

	a.Handle(context.Background(), testNotification())
	require.False(t, a.PromptVisible())

	mockClient.AssertNumberOfCalls(t, "Authorize", 0)
	requireRecordCount(t, store, 1)
}

func TestHandle_DismissalTreatedAsRejection(t *testing.T) {
	t.Parallel()

	mockPrompter := newPrompterMock()
	mockClient := newAuthClientMock()
	a := New(mockPrompter, mockClient)

	mockPrompter.On("Prompt", mock.Anything, mock.Anything).Return(false, errors.New("prompt dismissed"))

	a.Handle(context.Background(), testNotification())
	require.False(t, a.PromptVisible())

	mockClient.AssertNumberOfCalls(t, "Authorize", 0)
}

func TestHandle_MalformedPayloadIsNoOp(t *testing.T) {
	t.Parallel()

	mockPrompter := newPrompterMock()
	mockClient := newAuthClientMock()
	store := inmemory.NewStore()
	a := New(mockPrompter, mockClient, WithStore(store))

	n := testNotification()
	n.PushAuthToken = ""
	a.Handle(context.Background(), n)

	require.False(t, a.PromptVisible())
	mockPrompter.AssertNumberOfCalls(t, "Prompt", 0)
	mockClient.AssertNumberOfCalls(t, "Authorize", 0)
	requireRecordCount(t, store, 0)
}

func TestHandle_AuthorizeFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	mockPrompter := newPrompterMock()
	mockClient := newAuthClientMock()
	a := New(mockPrompter, mockClient)

	mockPrompter.On("Prompt", mock.Anything, mock.Anything).Return(true, nil)
	mockClient.On("Authorize", mock.Anything, "abc123").Return(errors.New("backend unavailable"))

	a.Handle(context.Background(), testNotification())

	require.False(t, a.PromptVisible())
	mockClient.AssertNumberOfCalls(t, "Authorize", 1)
}

func TestUpdate_SecondPayloadRejectedWhilePromptVisible(t *testing.T) {
	t.Parallel()

	mockPrompter := newPrompterMock()
	mockClient := newAuthClientMock()
	a := New(mockPrompter, mockClient, WithStore(inmemory.NewStore()))

	// Hold the first prompt open until we release it below
	promptGate := make(chan time.Time)
	mockPrompter.On("Prompt", mock.Anything, mock.Anything).WaitUntil(promptGate).Return(true, nil)

	authorizeDone := make(chan struct{})
	mockClient.On("Authorize", mock.Anything, "abc123").Return(nil).Run(func(mock.Arguments) {
		close(authorizeDone)
	})

	rawPayload, err := json.Marshal(testNotification())
	require.NoError(t, err)

	require.NoError(t, a.Update(bytes.NewReader(rawPayload)))
	require.Eventually(t, a.PromptVisible, 2*time.Second, 10*time.Millisecond, "first prompt never became visible")

	// A second payload arriving while the prompt is up is rejected, not queued
	require.False(t, a.ShouldHandle(testNotification(), true))
	require.NoError(t, a.Update(bytes.NewReader(rawPayload)))

	close(promptGate)

	select {
	case <-authorizeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("authorize was never called after prompt was approved")
	}

	require.Eventually(t, func() bool { return !a.PromptVisible() }, 2*time.Second, 10*time.Millisecond)
	mockPrompter.AssertNumberOfCalls(t, "Prompt", 1)
	mockClient.AssertNumberOfCalls(t, "Authorize", 1)
}

func TestUpdate_BackgroundedPayloadDropped(t *testing.T) {
	t.Parallel()

	mockPrompter := newPrompterMock()
	mockClient := newAuthClientMock()
	a := New(mockPrompter, mockClient, WithForegroundedFunc(func() bool { return false }))

	rawPayload, err := json.Marshal(testNotification())
	require.NoError(t, err)

	require.NoError(t, a.Update(bytes.NewReader(rawPayload)))

	mockPrompter.AssertNumberOfCalls(t, "Prompt", 0)
}

func TestUpdate_MalformedFrame(t *testing.T) {
	t.Parallel()

	a := New(newPrompterMock(), newAuthClientMock())

	err := a.Update(bytes.NewReader([]byte("not json")))
	require.Error(t, err)
}

func TestCleanup(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	a := New(newPrompterMock(), newAuthClientMock(), WithStore(store))

	// Seed two records -- one from a year ago, and one from just now.
	oldRecord := approvalRecord{
		ID:          "old-record",
		Token:       "old-token",
		Approved:    true,
		RespondedAt: time.Now().UTC().Add(-365 * 24 * time.Hour),
	}
	rawOldRecord, err := json.Marshal(oldRecord)
	require.NoError(t, err)
	require.NoError(t, store.Set([]byte(oldRecord.ID), rawOldRecord))

	newRecord := approvalRecord{
		ID:          "new-record",
		Token:       "new-token",
		Approved:    false,
		RespondedAt: time.Now().UTC(),
	}
	rawNewRecord, err := json.Marshal(newRecord)
	require.NoError(t, err)
	require.NoError(t, store.Set([]byte(newRecord.ID), rawNewRecord))

	a.cleanup()

	oldValue, err := store.Get([]byte(oldRecord.ID))
	require.NoError(t, err)
	require.Nil(t, oldValue, "old record was not cleaned up but should have been")

	newValue, err := store.Get([]byte(newRecord.ID))
	require.NoError(t, err)
	require.NotNil(t, newValue, "new record was cleaned up but should not have been")
}

func requireRecordCount(t *testing.T, store types.KVStore, expected int) {
	count := 0
	require.NoError(t, store.ForEach(func(k, v []byte) error {
		count++
		return nil
	}))
	require.Equal(t, expected, count)
}
