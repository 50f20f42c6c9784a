package v1

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/duynhne/registration-service/internal/core/domain"
	"github.com/duynhne/registration-service/internal/core/validation"
)

// LookupState is the phone-watch status of one form.
type LookupState string

const (
	StateIdle     LookupState = "idle"
	StateChecking LookupState = "checking"
	StateFound    LookupState = "found"
	StateNew      LookupState = "new"
)

// Notice is a one-shot message for the agent accompanying a LookupEvent.
type Notice string

const (
	NoticeNone          Notice = "none"
	NoticeCustomerFound Notice = "customerFound"
	NoticeNewCustomer   Notice = "newCustomer"
	NoticeLookupFailed  Notice = "lookupFailed"
	NoticeAutofilled    Notice = "autofilled"
)

const (
	phoneDigits         = 10
	subscriberBufferLen = 16
)

// LookupEvent describes the phone-watch state after a transition.
type LookupEvent struct {
	State         LookupState               `json:"state"`
	PhoneNumber   string                    `json:"phoneNumber"`
	Candidate     *domain.CustomerRecord    `json:"candidate,omitempty"`
	PromptVisible bool                      `json:"promptVisible"`
	Notice        Notice                    `json:"notice"`
	Autofill      *domain.RegistrationInput `json:"autofill,omitempty"`
}

// PhoneFinder looks up the first customer registered with a phone number.
type PhoneFinder interface {
	FindByPhone(ctx context.Context, phone string) (*domain.CustomerRecord, error)
}

// PhoneWatch reacts to edits of a form's phone field. For every complete
// 10-digit value it looks the number up asynchronously and, when a customer
// already exists, offers their details for auto-fill.
//
// Every effective change bumps a generation counter. A lookup result is applied
// only if its generation is still current, so an older, slower response can
// never overwrite the outcome for a newer phone value.
type PhoneWatch struct {
	finder  PhoneFinder
	timeout time.Duration
	logger  *zap.Logger

	mu        sync.Mutex
	state     LookupState
	phone     string
	candidate *domain.CustomerRecord
	prompt    bool
	gen       uint64
	cancel    context.CancelFunc
	subs      map[int]chan LookupEvent
	nextSub   int
	closed    bool

	inflight sync.WaitGroup
}

// NewPhoneWatch creates a watch in the idle state.
func NewPhoneWatch(finder PhoneFinder, timeout time.Duration, logger *zap.Logger) *PhoneWatch {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &PhoneWatch{
		finder:  finder,
		timeout: timeout,
		logger:  logger,
		state:   StateIdle,
		subs:    make(map[int]chan LookupEvent),
	}
}

// PhoneChanged records a new raw phone value. A value whose digits are unchanged is ignored.
func (w *PhoneWatch) PhoneChanged(raw string) {
	digits := validation.NormalizePhone(raw)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || digits == w.phone {
		return
	}

	w.phone = digits
	w.gen++
	w.cancelPending()
	w.candidate = nil
	w.prompt = false

	if len(digits) != phoneDigits {
		w.state = StateIdle
		w.emit(NoticeNone, nil)
		return
	}

	w.state = StateChecking
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	w.cancel = cancel
	w.emit(NoticeNone, nil)

	w.inflight.Add(1)
	go w.lookup(ctx, cancel, w.gen, digits)
}

func (w *PhoneWatch) lookup(ctx context.Context, cancel context.CancelFunc, gen uint64, digits string) {
	defer w.inflight.Done()
	defer cancel()

	record, err := w.finder.FindByPhone(ctx, digits)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || gen != w.gen {
		staleLookupsTotal.Inc()
		return
	}
	w.cancel = nil

	switch {
	case err != nil:
		w.logger.Warn("Phone lookup failed", zap.String("phone", digits), zap.Error(err))
		w.state = StateIdle
		w.candidate = nil
		w.emit(NoticeLookupFailed, nil)
	case record != nil:
		w.state = StateFound
		w.candidate = record.Redacted()
		w.prompt = true
		w.emit(NoticeCustomerFound, nil)
	default:
		w.state = StateNew
		w.candidate = nil
		w.emit(NoticeNewCustomer, nil)
	}
}

// Accept returns the candidate's details for the form, with both password fields empty.
// It fails with domain.ErrNoCandidate unless a customer was found for the current phone.
func (w *PhoneWatch) Accept() (domain.RegistrationInput, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateFound || w.candidate == nil {
		return domain.RegistrationInput{}, domain.ErrNoCandidate
	}

	fill := w.candidate.AutofillInput()
	w.state = StateIdle
	w.candidate = nil
	w.prompt = false
	w.emit(NoticeAutofilled, &fill)
	return fill, nil
}

// Decline hides the auto-fill prompt. The candidate is kept so the form can still
// be told a customer exists for this number.
func (w *PhoneWatch) Decline() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.prompt {
		return
	}
	w.prompt = false
	w.emit(NoticeNone, nil)
}

// Snapshot returns the current state.
func (w *PhoneWatch) Snapshot() LookupEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.eventLocked(NoticeNone, nil)
}

// Subscribe returns a stream of transitions and a function that ends the subscription.
// Slow subscribers miss events; Snapshot stays authoritative.
func (w *PhoneWatch) Subscribe() (<-chan LookupEvent, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch := make(chan LookupEvent, subscriberBufferLen)
	if w.closed {
		close(ch)
		return ch, func() {}
	}

	id := w.nextSub
	w.nextSub++
	w.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			if sub, ok := w.subs[id]; ok {
				delete(w.subs, id)
				close(sub)
			}
		})
	}
}

// Close cancels any pending lookup and ends every subscription.
func (w *PhoneWatch) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.closed = true
	w.gen++
	w.cancelPending()
	for id, ch := range w.subs {
		delete(w.subs, id)
		close(ch)
	}
}

// Wait blocks until every started lookup has returned.
func (w *PhoneWatch) Wait() {
	w.inflight.Wait()
}

func (w *PhoneWatch) cancelPending() {
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

func (w *PhoneWatch) eventLocked(notice Notice, fill *domain.RegistrationInput) LookupEvent {
	return LookupEvent{
		State:         w.state,
		PhoneNumber:   w.phone,
		Candidate:     w.candidate.Redacted(),
		PromptVisible: w.prompt,
		Notice:        notice,
		Autofill:      fill,
	}
}

// emit must be called with w.mu held.
func (w *PhoneWatch) emit(notice Notice, fill *domain.RegistrationInput) {
	event := w.eventLocked(notice, fill)
	for _, ch := range w.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
