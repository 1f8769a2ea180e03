package pushauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/kolide/kit/ulid"
	"github.com/pushauth/agent/ee/prompt"
	"github.com/pushauth/agent/pkg/agent/storage/inmemory"
	"github.com/pushauth/agent/pkg/agent/types"
)

const (
	// Identifier for push-auth frames from the push gateway; frames of this
	// type signal a pending login attempt awaiting device approval.
	PushAuthSubsystem = "push_auth"

	// Button labels for the confirmation prompt. Fixed by this component,
	// not by the presentation surface.
	acceptLabel = "Approve"
	rejectLabel = "Ignore"

	// Approximately 6 months
	defaultRetentionPeriod = time.Hour * 24 * 30 * 6

	// How frequently to check for old approval records
	defaultCleanupInterval = time.Hour * 12
)

// The prompt surface client fulfills this interface -- it blocks until the
// user responds. An error means the prompt was dismissed or could not be
// shown; both are treated as the user declining.
type prompter interface {
	Prompt(ctx context.Context, req prompt.Request) (bool, error)
}

// The authorization backend client fulfills this interface.
type authorizationClient interface {
	Authorize(ctx context.Context, token string) error
}

// Authorizer gates push-based login-authorization requests: it decides
// whether an inbound payload should be handled, prompts the user, and
// confirms accepted logins with the backend.
type Authorizer struct {
	prompter        prompter
	client          authorizationClient
	store           types.KVStore
	logger          log.Logger
	foregrounded    func() bool
	retentionPeriod time.Duration
	cleanupInterval time.Duration
	ctx             context.Context
	cancel          context.CancelFunc

	promptMu      sync.Mutex
	promptVisible bool
}

type authorizerOption func(*Authorizer)

func WithLogger(logger log.Logger) authorizerOption {
	return func(a *Authorizer) {
		a.logger = log.With(logger,
			"component", PushAuthSubsystem,
		)
	}
}

// WithStore sets the key/value store for approval records.
func WithStore(store types.KVStore) authorizerOption {
	return func(a *Authorizer) {
		a.store = store
	}
}

// WithForegroundedFunc sets the hook reporting whether the user's session is
// currently active. Payloads arriving while the session is inactive are
// dropped by the gate.
func WithForegroundedFunc(foregrounded func() bool) authorizerOption {
	return func(a *Authorizer) {
		a.foregrounded = foregrounded
	}
}

func WithRetentionPeriod(ttl time.Duration) authorizerOption {
	return func(a *Authorizer) {
		a.retentionPeriod = ttl
	}
}

func WithCleanupInterval(cleanupInterval time.Duration) authorizerOption {
	return func(a *Authorizer) {
		a.cleanupInterval = cleanupInterval
	}
}

func WithContext(ctx context.Context) authorizerOption {
	return func(a *Authorizer) {
		a.ctx = ctx
	}
}

func New(prompter prompter, client authorizationClient, opts ...authorizerOption) *Authorizer {
	a := &Authorizer{
		prompter:        prompter,
		client:          client,
		logger:          log.NewNopLogger(),
		foregrounded:    func() bool { return true },
		retentionPeriod: defaultRetentionPeriod,
		cleanupInterval: defaultCleanupInterval,
		ctx:             context.Background(),
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.store == nil {
		a.store = inmemory.NewStore()
	}

	a.ctx, a.cancel = context.WithCancel(a.ctx)

	return a
}

// ShouldHandle reports whether an inbound payload represents a login-approval
// request this component should act on: the payload must be present and of
// the push-auth type, the user's session must be active, and no confirmation
// prompt may currently be visible. Pure predicate; a payload rejected here is
// dropped, never queued.
func (a *Authorizer) ShouldHandle(n *Notification, appForegrounded bool) bool {
	if n == nil || n.Type != PushAuthSubsystem {
		return false
	}

	if !appForegrounded {
		return false
	}

	return !a.PromptVisible()
}

// Update is the consumer-style entry point for the push listener: it decodes
// a single frame, runs the gate, and hands accepted payloads to Handle on a
// separate goroutine so the delivery loop is never blocked behind an open
// prompt.
func (a *Authorizer) Update(data io.Reader) error {
	var n Notification
	if err := json.NewDecoder(data).Decode(&n); err != nil {
		return fmt.Errorf("failed to decode push-auth payload: %w", err)
	}

	if !a.ShouldHandle(&n, a.foregrounded()) {
		level.Debug(a.logger).Log("msg", "dropping push-auth payload rejected by gate", "push_type", n.Type)
		return nil
	}

	go a.Handle(a.ctx, &n)

	return nil
}

// Handle extracts the authorization request from the payload, prompts the
// user, and confirms the login with the backend if the user approves.
// Callers are expected to have checked ShouldHandle first; Handle does not
// re-run the gate, though it will still refuse to stack a second prompt on
// top of a visible one.
func (a *Authorizer) Handle(ctx context.Context, n *Notification) {
	req, err := newAuthorizationRequest(n)
	if err != nil {
		level.Debug(a.logger).Log("msg", "dropping malformed push-auth payload", "err", err)
		return
	}

	approved, ok := a.runPrompt(ctx, req)
	if !ok {
		return
	}

	a.storeApprovalRecord(req, approved)

	if !approved {
		return
	}

	// Fire-and-forget: a failed confirmation is logged but not retried, and
	// no error is surfaced to the user.
	if err := a.client.Authorize(ctx, req.Token); err != nil {
		level.Error(a.logger).Log("msg", "could not confirm login attempt with backend", "err", err)
	}
}

// runPrompt presents the confirmation prompt, holding the visible flag for
// exactly the duration of the user's decision. Returns ok=false if another
// prompt is already visible.
func (a *Authorizer) runPrompt(ctx context.Context, req AuthorizationRequest) (approved bool, ok bool) {
	if !a.beginPrompt() {
		return false, false
	}
	defer a.endPrompt()

	approved, err := a.prompter.Prompt(ctx, prompt.Request{
		Title:       req.Title,
		Body:        req.Message,
		AcceptLabel: acceptLabel,
		RejectLabel: rejectLabel,
	})
	if err != nil {
		// Dismissal without a choice, same as an explicit rejection
		level.Debug(a.logger).Log("msg", "prompt resolved without approval", "err", err)
		return false, true
	}

	return approved, true
}

// PromptVisible reports whether a confirmation prompt is currently showing.
func (a *Authorizer) PromptVisible() bool {
	a.promptMu.Lock()
	defer a.promptMu.Unlock()
	return a.promptVisible
}

func (a *Authorizer) beginPrompt() bool {
	a.promptMu.Lock()
	defer a.promptMu.Unlock()
	if a.promptVisible {
		return false
	}
	a.promptVisible = true
	return true
}

func (a *Authorizer) endPrompt() {
	a.promptMu.Lock()
	defer a.promptMu.Unlock()
	a.promptVisible = false
}

// Record of a login-approval request the user has responded to.
type approvalRecord struct {
	ID          string    `json:"id"`
	Token       string    `json:"token"`
	Approved    bool      `json:"approved"`
	RespondedAt time.Time `json:"responded_at"`
}

func (a *Authorizer) storeApprovalRecord(req AuthorizationRequest, approved bool) {
	record := approvalRecord{
		ID:          ulid.New(),
		Token:       req.Token,
		Approved:    approved,
		RespondedAt: time.Now().UTC(),
	}

	rawRecord, err := json.Marshal(record)
	if err != nil {
		level.Error(a.logger).Log("msg", "could not marshal approval record", "err", err)
		return
	}

	if err := a.store.Set([]byte(record.ID), rawRecord); err != nil {
		level.Error(a.logger).Log("msg", "could not store approval record", "err", err)
	}
}

// Runs cleanup job to periodically check for approval records we no longer
// need to retain and delete them
func (a *Authorizer) Execute() error {
	a.runCleanup()
	return nil
}

// Stops cleanup job
func (a *Authorizer) Interrupt(err error) {
	a.cancel()
}

func (a *Authorizer) runCleanup() {
	t := time.NewTicker(a.cleanupInterval)
	defer t.Stop()

	for {
		select {
		case <-a.ctx.Done():
			level.Debug(a.logger).Log("msg", "approval record cleanup stopped due to context cancel")
			return
		case <-t.C:
			a.cleanup()
		}
	}
}

func (a *Authorizer) cleanup() {
	// Read through all keys in bucket to determine which ones are old enough to be deleted
	keysToDelete := make([][]byte, 0)

	if err := a.store.ForEach(func(k, v []byte) error {
		var record approvalRecord
		if err := json.Unmarshal(v, &record); err != nil {
			return fmt.Errorf("error processing %s: %w", string(k), err)
		}

		if record.RespondedAt.Add(a.retentionPeriod).Before(time.Now().UTC()) {
			keysToDelete = append(keysToDelete, k)
		}

		return nil
	}); err != nil {
		level.Debug(a.logger).Log("msg", "could not iterate over bucket items to determine which are expired", "err", err)
	}

	// Delete all old keys
	if err := a.store.Delete(keysToDelete...); err != nil {
		level.Debug(a.logger).Log("msg", "could not delete old approval records from bucket", "err", err)
	}
}
