package service

import (
	"context"
	"strconv"
	"time"

	repository "github.com/ds124wfegd/cca-waitlist/internal/database/postgres"
	"github.com/ds124wfegd/cca-waitlist/internal/entity"
	"github.com/ds124wfegd/cca-waitlist/internal/metrics"

	"github.com/sirupsen/logrus"
)

// maxOfferRaces ограничивает повторы, когда кандидата забрал параллельный вызов
const maxOfferRaces = 3

// WaitlistOptions настройки движка. Нулевые значения заменяются значениями по умолчанию.
type WaitlistOptions struct {
	PromotionWindow time.Duration
	Now             func() time.Time
}

type waitlistService struct {
	repo     repository.WaitlistRepository
	events   repository.EventStore
	members  repository.MembershipStore
	capacity CapacityOracle
	notifier Notifier
	recorder TransitionRecorder
	limiter  RateLimiter

	window time.Duration
	now    func() time.Time
	locks  *keyedMutex
}

// NewWaitlistService создает новый экземпляр WaitlistService
func NewWaitlistService(
	repo repository.WaitlistRepository,
	events repository.EventStore,
	members repository.MembershipStore,
	capacity CapacityOracle,
	notifier Notifier,
	recorder TransitionRecorder,
	limiter RateLimiter,
	opts WaitlistOptions,
) WaitlistService {
	if opts.PromotionWindow <= 0 {
		opts.PromotionWindow = entity.PromotionWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if limiter == nil {
		limiter = NoopLimiter{}
	}

	return &waitlistService{
		repo:     repo,
		events:   events,
		members:  members,
		capacity: capacity,
		notifier: notifier,
		recorder: recorder,
		limiter:  limiter,
		window:   opts.PromotionWindow,
		now:      opts.Now,
		locks:    newKeyedMutex(),
	}
}

// Join ставит пользователя в очередь полного мероприятия
func (s *waitlistService) Join(ctx context.Context, eventID, actorID string) (*entity.WaitlistEntry, error) {
	if eventID == "" || actorID == "" {
		return nil, entity.Validation("event id and user id are required")
	}

	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	if event.CreatedBy == actorID {
		return nil, entity.ErrOrganiserCannotJoin
	}

	membership, err := s.members.GetMembership(ctx, actorID, event.CCAID)
	if err != nil {
		return nil, err
	}
	if membership != nil && membership.Role == entity.RoleExco {
		return nil, entity.ErrExcoCannotJoin
	}

	if event.DeadlinePassed(now) {
		return nil, entity.ErrDeadlinePassed
	}

	registered, err := s.events.IsRegistered(ctx, eventID, actorID)
	if err != nil {
		return nil, err
	}
	if registered {
		return nil, entity.ErrAlreadySignedUp
	}

	availability, err := s.capacity.Check(ctx, event, now)
	if err != nil {
		return nil, err
	}
	if !availability.Full {
		return nil, entity.ErrSlotsAvailable
	}

	existing, err := s.repo.GetEntry(ctx, eventID, actorID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, entity.ErrAlreadyOnWaitlist
	}

	if err := s.allow(ctx, "waitlist:join:"+actorID); err != nil {
		return nil, err
	}

	entry, created, err := s.repo.AddEntry(ctx, eventID, actorID)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, entity.ErrAlreadyOnWaitlist
	}

	s.record(ctx, entry, "", entity.PhaseWaiting, entity.ReasonJoined, actorID)

	logrus.WithFields(logrus.Fields{
		"event_id":    eventID,
		"user_id":     actorID,
		"waitlist_id": entry.ID,
	}).Info("User joined waitlist")

	return entry, nil
}

// OfferNextPromotion выдает предложения старейшим ожидающим, пока есть свободные места
func (s *waitlistService) OfferNextPromotion(ctx context.Context, eventID string) ([]*entity.WaitlistEntry, error) {
	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(eventID)
	defer unlock()

	return s.offerNextLocked(ctx, event)
}

// offerNextLocked вызывается под блокировкой мероприятия
func (s *waitlistService) offerNextLocked(ctx context.Context, event *entity.Event) ([]*entity.WaitlistEntry, error) {
	now := s.now()
	log := logrus.WithField("event_id", event.ID)

	// сначала убираем просроченные предложения этого мероприятия
	expired, err := s.repo.ListExpiredOffersForEvent(ctx, event.ID, now)
	if err != nil {
		return nil, err
	}
	for _, entry := range expired {
		if err := s.deleteExpired(ctx, event, entry, now, entity.ReasonExpired); err != nil {
			log.Errorf("Failed to clear expired offer %s: %v", entry.ID, err)
		}
	}

	availability, err := s.capacity.Check(ctx, event, now)
	if err != nil {
		return nil, err
	}
	free := availability.FreeSlots()
	if availability.Unlimited || free == 0 {
		log.WithFields(logrus.Fields{
			"registered": availability.Registered,
			"offers":     availability.OutstandingOffers,
			"capacity":   availability.Capacity,
		}).Debug("No free slot to offer")
		return nil, nil
	}

	var offered []*entity.WaitlistEntry
	races := 0
	for len(offered) < free {
		candidate, err := s.repo.NextUnofferedCandidate(ctx, event.ID)
		if err != nil {
			return offered, err
		}
		if candidate == nil {
			break
		}

		expiresAt := now.Add(s.window)
		ok, err := s.repo.OfferIfWaiting(ctx, candidate.ID, expiresAt)
		if err != nil {
			return offered, err
		}
		if !ok {
			races++
			if races > maxOfferRaces {
				log.Warn("Gave up offering after repeated concurrent updates")
				break
			}
			continue
		}

		candidate.Status = entity.WaitlistStatusOffered
		candidate.PromotionExpiresAt = &expiresAt
		offered = append(offered, candidate)

		s.record(ctx, candidate, entity.PhaseWaiting, entity.PhaseOffered, entity.ReasonOffered, "")
		s.notifyOffer(ctx, event, candidate)

		log.WithFields(logrus.Fields{
			"user_id":     candidate.UserID,
			"waitlist_id": candidate.ID,
			"expires_at":  expiresAt,
		}).Info("Promotion offered")
	}

	return offered, nil
}

// Accept превращает действующее предложение в подтвержденную запись
func (s *waitlistService) Accept(ctx context.Context, eventID, actorID string) error {
	if eventID == "" || actorID == "" {
		return entity.Validation("event id and user id are required")
	}
	now := s.now()

	if err := s.allow(ctx, "waitlist:accept:"+actorID); err != nil {
		return err
	}

	// под блокировкой мероприятия offerNext не увидит место между MarkAccepted и InsertSignup
	unlock := s.locks.Lock(eventID)
	defer unlock()

	offer, err := s.repo.ActiveOfferFor(ctx, eventID, actorID, now)
	if err != nil {
		return err
	}
	if offer == nil {
		return entity.ErrOfferExpired
	}
	originalExpiry := *offer.PromotionExpiresAt

	if err := s.repo.MarkAccepted(ctx, offer.ID, now); err != nil {
		return err
	}
	s.record(ctx, offer, entity.PhaseOffered, entity.PhaseAccepted, entity.ReasonAccepted, actorID)

	log := logrus.WithFields(logrus.Fields{
		"event_id":    eventID,
		"user_id":     actorID,
		"waitlist_id": offer.ID,
	})

	if err := s.events.InsertSignup(ctx, eventID, actorID); err != nil {
		if rerr := s.repo.RestoreOffer(ctx, offer.ID, originalExpiry); rerr != nil {
			// оставшуюся accepted запись подберет sweep
			log.Errorf("Failed to restore offer after signup failure: %v", rerr)
		} else {
			s.record(ctx, offer, entity.PhaseAccepted, entity.PhaseOffered, entity.ReasonAcceptRevert, "")
		}
		log.Errorf("Failed to insert signup on accept: %v", err)
		return err
	}

	if _, err := s.repo.RemoveEntryByID(ctx, offer.ID); err != nil {
		log.Warnf("Signup created but waitlist entry not removed: %v", err)
	}

	title := ""
	if event, err := s.events.GetEvent(ctx, eventID); err == nil {
		title = event.Title
	}
	s.notifier.Notify(ctx, entity.Notification{
		UserID:    actorID,
		Kind:      entity.NotificationPromotionClaimed,
		Metadata:  s.metadata(eventID, title, offer.ID, nil),
		CreatedAt: now,
	})

	log.Info("Promotion accepted")
	return nil
}

// Cancel удаляет запись из очереди. Чужую запись может удалить только персонал CCA.
func (s *waitlistService) Cancel(ctx context.Context, eventID, targetUserID, actorID string) error {
	if eventID == "" || actorID == "" {
		return entity.Validation("event id and user id are required")
	}
	if targetUserID == "" {
		targetUserID = actorID
	}

	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}

	if targetUserID != actorID {
		if err := s.requireStaff(ctx, actorID, event.CCAID, entity.ErrCancelForeign); err != nil {
			return err
		}
	}

	entry, err := s.repo.GetEntry(ctx, eventID, targetUserID)
	if err != nil {
		return err
	}
	if entry == nil {
		return entity.ErrEntryNotFound
	}

	removed, err := s.repo.RemoveEntry(ctx, eventID, targetUserID)
	if err != nil {
		return err
	}
	if !removed {
		return entity.ErrEntryNotFound
	}
	s.record(ctx, entry, entry.Phase(s.now()), "", entity.ReasonCancelled, actorID)

	logrus.WithFields(logrus.Fields{
		"event_id": eventID,
		"user_id":  targetUserID,
		"actor_id": actorID,
	}).Info("Waitlist entry cancelled")

	s.advance(ctx, event)
	return nil
}

// Unsign снимает подтвержденную запись и продвигает очередь
func (s *waitlistService) Unsign(ctx context.Context, eventID, actorID string) error {
	if eventID == "" || actorID == "" {
		return entity.Validation("event id and user id are required")
	}

	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}

	removed, err := s.events.DeleteSignup(ctx, eventID, actorID)
	if err != nil {
		return err
	}
	if !removed {
		return entity.ErrSignupNotFound
	}

	logrus.WithFields(logrus.Fields{
		"event_id": eventID,
		"user_id":  actorID,
	}).Info("User left event")

	s.advance(ctx, event)
	return nil
}

// ManualPromote выдает предложение вне очереди
func (s *waitlistService) ManualPromote(ctx context.Context, waitlistID, actorID string) (*entity.WaitlistEntry, error) {
	entry, event, err := s.staffEntry(ctx, waitlistID, actorID)
	if err != nil {
		return nil, err
	}
	if entry.Status == entity.WaitlistStatusAccepted {
		return nil, entity.ErrAlreadyAccepted
	}

	now := s.now()
	from := entry.Phase(now)
	expiresAt := now.Add(s.window)
	if err := s.repo.MarkOffered(ctx, entry.ID, expiresAt); err != nil {
		return nil, err
	}

	entry.Status = entity.WaitlistStatusOffered
	entry.PromotionExpiresAt = &expiresAt
	entry.PromotedAt = nil

	s.record(ctx, entry, from, entity.PhaseOffered, entity.ReasonManualOffer, actorID)
	s.notifyOffer(ctx, event, entry)

	logrus.WithFields(logrus.Fields{
		"event_id":    entry.EventID,
		"user_id":     entry.UserID,
		"waitlist_id": entry.ID,
		"actor_id":    actorID,
	}).Info("Promotion offered manually")

	return entry, nil
}

// Revoke возвращает запись в ожидание, не удаляя ее
func (s *waitlistService) Revoke(ctx context.Context, waitlistID, actorID string) error {
	entry, event, err := s.staffEntry(ctx, waitlistID, actorID)
	if err != nil {
		return err
	}
	if entry.Status == entity.WaitlistStatusAccepted {
		return entity.ErrAlreadyAccepted
	}

	now := s.now()
	from := entry.Phase(now)
	if err := s.repo.ClearOffer(ctx, entry.ID); err != nil {
		return err
	}

	s.record(ctx, entry, from, entity.PhaseWaiting, entity.ReasonRevoked, actorID)
	if from == entity.PhaseOffered {
		s.notifier.Notify(ctx, entity.Notification{
			UserID:    entry.UserID,
			Kind:      entity.NotificationPromotionRevoked,
			Metadata:  s.metadata(event.ID, event.Title, entry.ID, nil),
			CreatedAt: now,
		})
	}

	logrus.WithFields(logrus.Fields{
		"event_id":    entry.EventID,
		"waitlist_id": entry.ID,
		"actor_id":    actorID,
	}).Info("Promotion revoked")
	return nil
}

// ClearExpiredAndPromote удаляет просроченную запись и продвигает очередь.
// Отсутствующая запись не ошибка.
func (s *waitlistService) ClearExpiredAndPromote(ctx context.Context, waitlistID, eventID, actorID string) error {
	if waitlistID == "" || eventID == "" || actorID == "" {
		return entity.Validation("waitlist id, event id and user id are required")
	}

	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if err := s.requireStaff(ctx, actorID, event.CCAID, entity.ErrNotStaff); err != nil {
		return err
	}

	entry, err := s.repo.GetEntryByID(ctx, waitlistID)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	if entry.EventID != eventID {
		return entity.ErrEntryEventMismatch
	}

	now := s.now()
	switch entry.Phase(now) {
	case entity.PhaseExpired:
	case entity.PhaseOffered:
		return entity.ErrOfferStillActive
	default:
		return entity.ErrEntryNotExpired
	}

	unlock := s.locks.Lock(eventID)
	defer unlock()

	if err := s.deleteExpired(ctx, event, entry, now, entity.ReasonClearedByStaff); err != nil {
		return err
	}

	_, err = s.offerNextLocked(ctx, event)
	return err
}

// ListWaitlist возвращает очередь с позициями начиная с 1
func (s *waitlistService) ListWaitlist(ctx context.Context, eventID string) ([]*entity.WaitlistPosition, error) {
	if eventID == "" {
		return nil, entity.Validation("event id is required")
	}
	if _, err := s.events.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}

	entries, err := s.repo.ListForEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	positions := make([]*entity.WaitlistPosition, 0, len(entries))
	for i, entry := range entries {
		positions = append(positions, &entity.WaitlistPosition{
			WaitlistEntry: *entry,
			Position:      i + 1,
		})
	}
	return positions, nil
}

// MyStatus показывает пользователю его место в очереди и остаток времени на предложение
func (s *waitlistService) MyStatus(ctx context.Context, eventID, actorID string) (*entity.WaitlistStatusView, error) {
	if eventID == "" || actorID == "" {
		return nil, entity.Validation("event id and user id are required")
	}

	entries, err := s.repo.ListForEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var (
		own      *entity.WaitlistEntry
		position int
		waiting  int
	)
	for _, entry := range entries {
		if entry.Status == entity.WaitlistStatusWaiting {
			waiting++
		}
		if entry.UserID == actorID {
			own = entry
			if entry.Status == entity.WaitlistStatusWaiting {
				position = waiting
			}
		}
	}
	if own == nil {
		return nil, entity.ErrEntryNotFound
	}

	view := &entity.WaitlistStatusView{
		EventID:     eventID,
		WaitlistID:  own.ID,
		Phase:       own.Phase(now),
		Position:    position,
		QueueLength: waiting,
	}
	if view.Phase == entity.PhaseOffered {
		view.OfferExpiresAt = own.PromotionExpiresAt
		view.OfferSecondsLeft = int64(own.OfferTimeLeft(now).Seconds())
	}
	return view, nil
}

func (s *waitlistService) ListExpiredOffers(ctx context.Context, now time.Time) ([]*entity.WaitlistEntry, error) {
	return s.repo.ListExpiredOffers(ctx, now)
}

// ExpireOffer удаляет одно просроченное предложение и продвигает очередь его мероприятия.
// Повторный вызов для уже удаленной записи только продвигает очередь.
func (s *waitlistService) ExpireOffer(ctx context.Context, entry *entity.WaitlistEntry, now time.Time) error {
	event, err := s.events.GetEvent(ctx, entry.EventID)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(entry.EventID)
	defer unlock()

	if err := s.deleteExpired(ctx, event, entry, now, entity.ReasonExpired); err != nil {
		return err
	}

	_, err = s.offerNextLocked(ctx, event)
	return err
}

// PurgeStaleAccepted разбирает записи, застрявшие в accepted после прерванного Accept:
// если запись на мероприятие есть, удаляет запись очереди, иначе возвращает предложение.
func (s *waitlistService) PurgeStaleAccepted(ctx context.Context, before time.Time) (int, error) {
	stale, err := s.repo.ListStaleAccepted(ctx, before)
	if err != nil {
		return 0, err
	}

	fixed := 0
	for _, entry := range stale {
		log := logrus.WithFields(logrus.Fields{
			"event_id":    entry.EventID,
			"user_id":     entry.UserID,
			"waitlist_id": entry.ID,
		})

		registered, err := s.events.IsRegistered(ctx, entry.EventID, entry.UserID)
		if err != nil {
			log.Errorf("Failed to check signup of stale accepted entry: %v", err)
			continue
		}

		if registered {
			if _, err := s.repo.RemoveEntryByID(ctx, entry.ID); err != nil {
				log.Errorf("Failed to remove stale accepted entry: %v", err)
				continue
			}
			s.record(ctx, entry, entity.PhaseAccepted, "", entity.ReasonStalePurged, "")
		} else {
			expiresAt := before
			if entry.PromotionExpiresAt != nil {
				expiresAt = *entry.PromotionExpiresAt
			}
			if err := s.repo.RestoreOffer(ctx, entry.ID, expiresAt); err != nil {
				log.Errorf("Failed to restore stale accepted entry: %v", err)
				continue
			}
			s.record(ctx, entry, entity.PhaseAccepted, entity.PhaseOffered, entity.ReasonAcceptRevert, "")
		}
		fixed++
	}
	return fixed, nil
}

// deleteExpired удаляет запись только если предложение все еще просрочено
func (s *waitlistService) deleteExpired(ctx context.Context, event *entity.Event, entry *entity.WaitlistEntry, now time.Time, reason string) error {
	deleted, err := s.repo.DeleteExpiredOffer(ctx, entry.ID, now)
	if err != nil {
		return err
	}
	if !deleted {
		return nil
	}

	s.record(ctx, entry, entity.PhaseExpired, "", reason, "")
	s.notifier.Notify(ctx, entity.Notification{
		UserID:    entry.UserID,
		Kind:      entity.NotificationPromotionExpired,
		Metadata:  s.metadata(event.ID, event.Title, entry.ID, entry.PromotionExpiresAt),
		CreatedAt: now,
	})

	logrus.WithFields(logrus.Fields{
		"event_id":    entry.EventID,
		"user_id":     entry.UserID,
		"waitlist_id": entry.ID,
		"reason":      reason,
	}).Info("Expired promotion removed")
	return nil
}

// advance продвигает очередь после освобождения места. Ошибка не возвращается:
// основное действие уже выполнено, а sweep повторит продвижение.
func (s *waitlistService) advance(ctx context.Context, event *entity.Event) {
	unlock := s.locks.Lock(event.ID)
	defer unlock()

	if _, err := s.offerNextLocked(ctx, event); err != nil {
		logrus.WithField("event_id", event.ID).Errorf("Failed to offer next promotion: %v", err)
	}
}

func (s *waitlistService) staffEntry(ctx context.Context, waitlistID, actorID string) (*entity.WaitlistEntry, *entity.Event, error) {
	if waitlistID == "" || actorID == "" {
		return nil, nil, entity.Validation("waitlist id and user id are required")
	}

	entry, err := s.repo.GetEntryByID(ctx, waitlistID)
	if err != nil {
		return nil, nil, err
	}
	if entry == nil {
		return nil, nil, entity.ErrEntryNotFound
	}

	event, err := s.events.GetEvent(ctx, entry.EventID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.requireStaff(ctx, actorID, event.CCAID, entity.ErrNotStaff); err != nil {
		return nil, nil, err
	}
	return entry, event, nil
}

func (s *waitlistService) requireStaff(ctx context.Context, actorID, ccaID string, denied error) error {
	membership, err := s.members.GetMembership(ctx, actorID, ccaID)
	if err != nil {
		return err
	}
	if !membership.IsStaff() {
		return denied
	}
	return nil
}

func (s *waitlistService) allow(ctx context.Context, key string) error {
	ok, err := s.limiter.Allow(ctx, key)
	if err != nil {
		// лимитер не должен ломать запись в очередь
		logrus.WithField("key", key).Warnf("Rate limiter unavailable: %v", err)
		return nil
	}
	if !ok {
		return entity.ErrTooManyRequests
	}
	return nil
}

func (s *waitlistService) record(ctx context.Context, entry *entity.WaitlistEntry, from, to entity.WaitlistPhase, reason, actorID string) {
	label := string(to)
	if label == "" {
		label = "removed"
	}
	metrics.RecordTransition(label, reason)
	s.recorder.Record(ctx, entity.WaitlistTransition{
		WaitlistID: entry.ID,
		EventID:    entry.EventID,
		UserID:     entry.UserID,
		From:       from,
		To:         to,
		Reason:     reason,
		ActorID:    actorID,
		At:         s.now(),
	})
}

func (s *waitlistService) notifyOffer(ctx context.Context, event *entity.Event, entry *entity.WaitlistEntry) {
	s.notifier.Notify(ctx, entity.Notification{
		UserID:    entry.UserID,
		Kind:      entity.NotificationPromotionOffered,
		Metadata:  s.metadata(event.ID, event.Title, entry.ID, entry.PromotionExpiresAt),
		CreatedAt: s.now(),
	})
}

func (s *waitlistService) metadata(eventID, title, waitlistID string, expiresAt *time.Time) map[string]string {
	md := map[string]string{
		"event_id":    eventID,
		"event_title": title,
		"waitlist_id": waitlistID,
		"hours":       strconv.Itoa(int(s.window.Hours())),
	}
	if expiresAt != nil {
		md["expires_at"] = expiresAt.UTC().Format(time.RFC3339)
	}
	return md
}
