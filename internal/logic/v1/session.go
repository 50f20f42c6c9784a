package v1

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/duynhne/registration-service/internal/core/domain"
)

const defaultSessionIdleTTL = 30 * time.Minute

// Registrar submits a completed form.
type Registrar interface {
	Submit(ctx context.Context, in domain.RegistrationInput) RegistrationResult
}

// SessionSnapshot is the client view of a form session.
// Password fields are never echoed back.
type SessionSnapshot struct {
	ID     string                   `json:"id"`
	Form   domain.RegistrationInput `json:"form"`
	Lookup LookupEvent              `json:"lookup"`
}

// FormSession is one agent's in-progress registration form.
//
// mu guards the form and orders every change to it with the matching
// phone-watch transition, so the watch always tracks the form's phone.
// The watch never takes mu.
type FormSession struct {
	id    string
	watch *PhoneWatch

	mu       sync.Mutex
	form     domain.RegistrationInput
	lastSeen time.Time

	submitting atomic.Bool
}

func (s *FormSession) snapshot() SessionSnapshot {
	s.mu.Lock()
	form := s.form
	lookup := s.watch.Snapshot()
	s.mu.Unlock()

	form.Password = ""
	form.ConfirmPassword = ""
	return SessionSnapshot{ID: s.id, Form: form, Lookup: lookup}
}

// SessionStore owns the open form sessions.
type SessionStore struct {
	finder        PhoneFinder
	registrar     Registrar
	lookupTimeout time.Duration
	idleTTL       time.Duration
	logger        *zap.Logger
	now           func() time.Time

	mu       sync.RWMutex
	sessions map[string]*FormSession
}

// NewSessionStore creates an empty store.
func NewSessionStore(finder PhoneFinder, registrar Registrar, lookupTimeout, idleTTL time.Duration, logger *zap.Logger) *SessionStore {
	if idleTTL <= 0 {
		idleTTL = defaultSessionIdleTTL
	}
	return &SessionStore{
		finder:        finder,
		registrar:     registrar,
		lookupTimeout: lookupTimeout,
		idleTTL:       idleTTL,
		logger:        logger,
		now:           time.Now,
		sessions:      make(map[string]*FormSession),
	}
}

// Create opens a new empty session.
func (st *SessionStore) Create() SessionSnapshot {
	session := &FormSession{
		id:       uuid.NewString(),
		watch:    NewPhoneWatch(st.finder, st.lookupTimeout, st.logger),
		lastSeen: st.now(),
	}

	st.mu.Lock()
	st.sessions[session.id] = session
	st.mu.Unlock()

	formSessionsActive.Inc()
	return session.snapshot()
}

// Get returns the session snapshot.
func (st *SessionStore) Get(id string) (SessionSnapshot, error) {
	session, err := st.touch(id)
	if err != nil {
		return SessionSnapshot{}, err
	}
	return session.snapshot(), nil
}

// Delete closes the session and its phone watch.
func (st *SessionStore) Delete(id string) error {
	st.mu.Lock()
	session, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()

	if !ok {
		return fmt.Errorf("delete session %q: %w", id, domain.ErrSessionNotFound)
	}
	session.watch.Close()
	formSessionsActive.Dec()
	return nil
}

// Update applies a partial form edit. A phone edit is forwarded to the phone watch.
func (st *SessionStore) Update(id string, patch domain.FormPatch) (SessionSnapshot, error) {
	session, err := st.touch(id)
	if err != nil {
		return SessionSnapshot{}, err
	}

	session.mu.Lock()
	if patch.Apply(&session.form) {
		session.watch.PhoneChanged(session.form.PhoneNumber)
	}
	session.mu.Unlock()

	return session.snapshot(), nil
}

// Subscribe streams phone-watch transitions for the session.
func (st *SessionStore) Subscribe(id string) (<-chan LookupEvent, func(), error) {
	session, err := st.touch(id)
	if err != nil {
		return nil, nil, err
	}
	events, cancel := session.watch.Subscribe()
	return events, cancel, nil
}

// AcceptAutofill overwrites the form with the matched customer's details.
// The password fields are cleared so a fresh password must be entered.
func (st *SessionStore) AcceptAutofill(id string) (SessionSnapshot, error) {
	session, err := st.touch(id)
	if err != nil {
		return SessionSnapshot{}, err
	}

	session.mu.Lock()
	fill, err := session.watch.Accept()
	if err == nil {
		session.form = fill
	}
	session.mu.Unlock()

	if err != nil {
		return SessionSnapshot{}, fmt.Errorf("accept autofill for session %q: %w", id, err)
	}
	return session.snapshot(), nil
}

// DeclineAutofill dismisses the auto-fill prompt and leaves the form untouched.
func (st *SessionStore) DeclineAutofill(id string) (SessionSnapshot, error) {
	session, err := st.touch(id)
	if err != nil {
		return SessionSnapshot{}, err
	}
	session.watch.Decline()
	return session.snapshot(), nil
}

// Submit registers the session form. Only one submission per session may be
// outstanding; a concurrent call fails with domain.ErrSubmissionInProgress.
// After a successful registration the form is reset.
func (st *SessionStore) Submit(ctx context.Context, id string) (RegistrationResult, error) {
	session, err := st.touch(id)
	if err != nil {
		return RegistrationResult{}, err
	}

	if !session.submitting.CompareAndSwap(false, true) {
		return RegistrationResult{}, fmt.Errorf("submit session %q: %w", id, domain.ErrSubmissionInProgress)
	}
	defer session.submitting.Store(false)

	session.mu.Lock()
	form := session.form
	session.mu.Unlock()

	result := st.registrar.Submit(ctx, form)
	if result.Success {
		session.mu.Lock()
		session.form = domain.RegistrationInput{}
		session.watch.PhoneChanged("")
		session.mu.Unlock()
	}
	return result, nil
}

// Len reports the number of open sessions.
func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep closes sessions idle for longer than the idle TTL and reports how many were removed.
// Sessions with a submission in flight are kept.
func (st *SessionStore) Sweep() int {
	cutoff := st.now().Add(-st.idleTTL)

	var expired []*FormSession
	st.mu.Lock()
	for id, session := range st.sessions {
		session.mu.Lock()
		idle := session.lastSeen.Before(cutoff)
		session.mu.Unlock()
		if idle && !session.submitting.Load() {
			delete(st.sessions, id)
			expired = append(expired, session)
		}
	}
	st.mu.Unlock()

	for _, session := range expired {
		session.watch.Close()
		formSessionsActive.Dec()
	}
	return len(expired)
}

// Run sweeps idle sessions periodically until ctx is done, then closes every session.
func (st *SessionStore) Run(ctx context.Context) {
	interval := st.idleTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			st.closeAll()
			return
		case <-ticker.C:
			if n := st.Sweep(); n > 0 {
				st.logger.Info("Expired idle form sessions", zap.Int("count", n))
			}
		}
	}
}

func (st *SessionStore) closeAll() {
	st.mu.Lock()
	sessions := st.sessions
	st.sessions = make(map[string]*FormSession)
	st.mu.Unlock()

	for _, session := range sessions {
		session.watch.Close()
		formSessionsActive.Dec()
	}
}

func (st *SessionStore) touch(id string) (*FormSession, error) {
	st.mu.RLock()
	session, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, domain.ErrSessionNotFound)
	}

	session.mu.Lock()
	session.lastSeen = st.now()
	session.mu.Unlock()
	return session, nil
}
