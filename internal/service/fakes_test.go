package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ds124wfegd/cca-waitlist/internal/entity"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memWaitlist ведет себя как waitlist_entries с условными UPDATE/DELETE
type memWaitlist struct {
	mu      sync.Mutex
	clock   *fakeClock
	seq     int
	entries map[string]*entity.WaitlistEntry

	failRemoveByID error
	failRestore    error
}

func newMemWaitlist(clock *fakeClock) *memWaitlist {
	return &memWaitlist{clock: clock, entries: make(map[string]*entity.WaitlistEntry)}
}

func (m *memWaitlist) copyOf(e *entity.WaitlistEntry) *entity.WaitlistEntry {
	c := *e
	return &c
}

func (m *memWaitlist) find(eventID, userID string) *entity.WaitlistEntry {
	for _, e := range m.entries {
		if e.EventID == eventID && e.UserID == userID {
			return e
		}
	}
	return nil
}

func (m *memWaitlist) sorted(filter func(e *entity.WaitlistEntry) bool) []*entity.WaitlistEntry {
	out := []*entity.WaitlistEntry{}
	for _, e := range m.entries {
		if filter(e) {
			out = append(out, m.copyOf(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *memWaitlist) AddEntry(_ context.Context, eventID, userID string) (*entity.WaitlistEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e := m.find(eventID, userID); e != nil {
		return m.copyOf(e), false, nil
	}
	m.seq++
	e := &entity.WaitlistEntry{
		ID:       fmt.Sprintf("w%03d", m.seq),
		EventID:  eventID,
		UserID:   userID,
		JoinedAt: m.clock.Now(),
		Status:   entity.WaitlistStatusWaiting,
	}
	m.entries[e.ID] = e
	return m.copyOf(e), true, nil
}

func (m *memWaitlist) GetEntry(_ context.Context, eventID, userID string) (*entity.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.find(eventID, userID); e != nil {
		return m.copyOf(e), nil
	}
	return nil, nil
}

func (m *memWaitlist) GetEntryByID(_ context.Context, id string) (*entity.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		return m.copyOf(e), nil
	}
	return nil, nil
}

func (m *memWaitlist) ListForEvent(_ context.Context, eventID string) ([]*entity.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(e *entity.WaitlistEntry) bool { return e.EventID == eventID }), nil
}

func (m *memWaitlist) RemoveEntry(_ context.Context, eventID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.find(eventID, userID); e != nil {
		delete(m.entries, e.ID)
		return true, nil
	}
	return false, nil
}

func (m *memWaitlist) RemoveEntryByID(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRemoveByID != nil {
		return false, m.failRemoveByID
	}
	if _, ok := m.entries[id]; ok {
		delete(m.entries, id)
		return true, nil
	}
	return false, nil
}

func (m *memWaitlist) NextUnofferedCandidate(_ context.Context, eventID string) (*entity.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	waiting := m.sorted(func(e *entity.WaitlistEntry) bool {
		return e.EventID == eventID && e.Status == entity.WaitlistStatusWaiting
	})
	if len(waiting) == 0 {
		return nil, nil
	}
	return waiting[0], nil
}

func (m *memWaitlist) MarkOffered(_ context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.Status == entity.WaitlistStatusAccepted {
		return entity.ErrEntryNotFound
	}
	e.Status = entity.WaitlistStatusOffered
	e.PromotionExpiresAt = &expiresAt
	e.PromotedAt = nil
	return nil
}

func (m *memWaitlist) OfferIfWaiting(_ context.Context, id string, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.Status != entity.WaitlistStatusWaiting {
		return false, nil
	}
	e.Status = entity.WaitlistStatusOffered
	e.PromotionExpiresAt = &expiresAt
	return true, nil
}

func (m *memWaitlist) MarkAccepted(_ context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.Status != entity.WaitlistStatusOffered || !e.PromotionExpiresAt.After(now) {
		return entity.ErrOfferExpired
	}
	e.Status = entity.WaitlistStatusAccepted
	e.PromotedAt = &now
	return nil
}

func (m *memWaitlist) RestoreOffer(_ context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRestore != nil {
		return m.failRestore
	}
	e, ok := m.entries[id]
	if !ok || e.Status != entity.WaitlistStatusAccepted {
		return entity.ErrEntryNotFound
	}
	e.Status = entity.WaitlistStatusOffered
	e.PromotionExpiresAt = &expiresAt
	e.PromotedAt = nil
	return nil
}

func (m *memWaitlist) ClearOffer(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.Status == entity.WaitlistStatusAccepted {
		return entity.ErrEntryNotFound
	}
	e.Status = entity.WaitlistStatusWaiting
	e.PromotionExpiresAt = nil
	e.PromotedAt = nil
	return nil
}

func (m *memWaitlist) ActiveOfferFor(_ context.Context, eventID, userID string, now time.Time) (*entity.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.find(eventID, userID)
	if e == nil || e.Phase(now) != entity.PhaseOffered {
		return nil, nil
	}
	return m.copyOf(e), nil
}

func (m *memWaitlist) CountActiveOffers(_ context.Context, eventID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.entries {
		if e.EventID != eventID {
			continue
		}
		if phase := e.Phase(now); phase == entity.PhaseOffered || phase == entity.PhaseAccepted {
			count++
		}
	}
	return count, nil
}

func (m *memWaitlist) ListExpiredOffers(_ context.Context, now time.Time) ([]*entity.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(e *entity.WaitlistEntry) bool { return e.Phase(now) == entity.PhaseExpired }), nil
}

func (m *memWaitlist) ListExpiredOffersForEvent(_ context.Context, eventID string, now time.Time) ([]*entity.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(e *entity.WaitlistEntry) bool {
		return e.EventID == eventID && e.Phase(now) == entity.PhaseExpired
	}), nil
}

func (m *memWaitlist) DeleteExpiredOffer(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.Phase(now) != entity.PhaseExpired {
		return false, nil
	}
	delete(m.entries, id)
	return true, nil
}

func (m *memWaitlist) ListStaleAccepted(_ context.Context, before time.Time) ([]*entity.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(e *entity.WaitlistEntry) bool {
		return e.Status == entity.WaitlistStatusAccepted && e.PromotedAt.Before(before)
	}), nil
}

func (m *memWaitlist) get(id string) *entity.WaitlistEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		return m.copyOf(e)
	}
	return nil
}

func (m *memWaitlist) offered(eventID string, now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := []string{}
	for _, e := range m.sorted(func(e *entity.WaitlistEntry) bool {
		return e.EventID == eventID && e.Phase(now) == entity.PhaseOffered
	}) {
		users = append(users, e.UserID)
	}
	return users
}

type memEvents struct {
	mu         sync.Mutex
	events     map[string]*entity.Event
	signups    map[string]map[string]bool
	failInsert error
}

func newMemEvents() *memEvents {
	return &memEvents{events: map[string]*entity.Event{}, signups: map[string]map[string]bool{}}
}

func (m *memEvents) add(event *entity.Event, registered ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.ID] = event
	m.signups[event.ID] = map[string]bool{}
	for _, u := range registered {
		m.signups[event.ID][u] = true
	}
}

func (m *memEvents) GetEvent(_ context.Context, eventID string) (*entity.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok {
		return nil, entity.ErrEventNotFound
	}
	c := *e
	return &c, nil
}

func (m *memEvents) CountRegistered(_ context.Context, eventID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.signups[eventID]), nil
}

func (m *memEvents) IsRegistered(_ context.Context, eventID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signups[eventID][userID], nil
}

func (m *memEvents) InsertSignup(ctx context.Context, eventID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsert != nil {
		return m.failInsert
	}
	if m.signups[eventID] == nil {
		m.signups[eventID] = map[string]bool{}
	}
	m.signups[eventID][userID] = true
	return nil
}

func (m *memEvents) DeleteSignup(_ context.Context, eventID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.signups[eventID][userID] {
		return false, nil
	}
	delete(m.signups[eventID], userID)
	return true, nil
}

type memMembers struct {
	roles map[string]entity.MemberRole
}

func (m *memMembers) GetMembership(_ context.Context, userID, ccaID string) (*entity.Membership, error) {
	role, ok := m.roles[userID+"/"+ccaID]
	if !ok {
		return nil, nil
	}
	return &entity.Membership{UserID: userID, CCAID: ccaID, Role: role}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []entity.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n entity.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) kinds(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := []string{}
	for _, n := range r.sent {
		if n.UserID == userID {
			kinds = append(kinds, n.Kind)
		}
	}
	return kinds
}

type recordingRecorder struct {
	mu          sync.Mutex
	transitions []entity.WaitlistTransition
}

func (r *recordingRecorder) Record(_ context.Context, t entity.WaitlistTransition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recordingRecorder) reasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []string{}
	for _, t := range r.transitions {
		out = append(out, t.Reason)
	}
	return out
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, error) { return false, nil }

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, fmt.Errorf("redis: connection refused")
}

func intPtr(v int) *int { return &v }

// testEnv собранный движок на in-memory хранилищах
type testEnv struct {
	clock    *fakeClock
	waitlist *memWaitlist
	events   *memEvents
	members  *memMembers
	notifier *recordingNotifier
	recorder *recordingRecorder
	svc      WaitlistService
}

func newTestEnv(limiter RateLimiter) *testEnv {
	clock := newFakeClock()
	env := &testEnv{
		clock:    clock,
		waitlist: newMemWaitlist(clock),
		events:   newMemEvents(),
		members:  &memMembers{roles: map[string]entity.MemberRole{}},
		notifier: &recordingNotifier{},
		recorder: &recordingRecorder{},
	}
	env.svc = NewWaitlistService(
		env.waitlist,
		env.events,
		env.members,
		NewCapacityOracle(env.events, env.waitlist),
		env.notifier,
		env.recorder,
		limiter,
		WaitlistOptions{Now: clock.Now},
	)
	return env
}

// join ставит пользователей в очередь с шагом в минуту
func (e *testEnv) join(eventID string, users ...string) {
	for _, u := range users {
		if _, err := e.svc.Join(context.Background(), eventID, u); err != nil {
			panic(fmt.Sprintf("join %s: %v", u, err))
		}
		e.clock.Advance(time.Minute)
	}
}
