package service

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/PavloPoliakov/DonationRaffleBot/internal/models"
)

// Store is the persistence surface the raffle service needs. Implemented by
// *repository.Repository.
type Store interface {
	GetUsers(chatID int64) ([]models.User, error)
	GetDonationLimits(chatID int64) (models.DonationLimits, error)
	RecordWin(chatID, userID int64, winsDelta, donatedDelta int) error
	GetJarURL(chatID int64) (string, error)
	GetTriggerCooldownAt(chatID int64) (time.Time, error)
	SetTriggerCooldownAt(chatID int64, at time.Time) error
	ListScheduledChats() ([]models.ScheduledChat, error)
	SetScheduleLastRunKey(chatID int64, key string) error
}

// Sender posts a message into a chat. Failures are logged by the service and
// never retried.
type Sender interface {
	Send(chatID int64, text string) error
}

// Rand is the injected random source; *math/rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
}

const (
	// TriggerCooldown gates trigger-activated starts per chat.
	TriggerCooldown = 5 * time.Minute

	// DefaultStepDelay spaces the announcement steps; the full sequence is
	// five steps after the opening message.
	DefaultStepDelay = 1200 * time.Millisecond
)

var defaultPhrases = []string{
	"Обираю...",
	"Кручу барабан... 🥁",
	"Доля вже вирішує... 🎲",
	"Ще трішки... ⏳",
}

// Options tunes a Service. Zero values fall back to defaults.
type Options struct {
	DefaultJarURL string
	Phrases       []string
	StepDelay     time.Duration
	Cooldown      time.Duration
}

// Service runs raffle sessions: at most one per chat at a time, each a fixed
// sequence of delayed announcements ending in a random winner.
type Service struct {
	store         Store
	sender        Sender
	defaultJarURL string
	phrases       []string
	stepDelay     time.Duration
	cooldown      time.Duration

	mu       sync.Mutex
	rng      Rand
	sessions map[int64]*session
}

// session owns the pending timers of one running raffle. A step callback is
// live only while the chat's map slot still points at this session.
type session struct {
	timers []*time.Timer
}

func New(store Store, sender Sender, rng Rand, opts Options) *Service {
	s := &Service{
		store:         store,
		sender:        sender,
		rng:           rng,
		defaultJarURL: opts.DefaultJarURL,
		phrases:       opts.Phrases,
		stepDelay:     opts.StepDelay,
		cooldown:      opts.Cooldown,
		sessions:      make(map[int64]*session),
	}
	if len(s.phrases) == 0 {
		s.phrases = defaultPhrases
	}
	if s.stepDelay <= 0 {
		s.stepDelay = DefaultStepDelay
	}
	if s.cooldown <= 0 {
		s.cooldown = TriggerCooldown
	}
	return s
}

// StartOptions controls one start attempt.
type StartOptions struct {
	// ChatType is the Telegram chat type; checked unless SkipChatTypeCheck.
	ChatType string
	// SkipChatTypeCheck is set for schedule-driven starts, which act on a
	// stored chat id without a live chat object.
	SkipChatTypeCheck bool
	// EnforceCooldown gates the start on the trigger cooldown window and
	// records a new mark on success.
	EnforceCooldown bool
	// Silent suppresses the precondition-failure replies.
	Silent bool
	// TriggerWord names the matched trigger in the opening message.
	TriggerWord string
}

// StartRaffle begins a raffle for a chat. It returns false without side
// effects when a precondition fails: wrong chat type, session already
// running, cooldown still active, or nobody registered.
func (s *Service) StartRaffle(chatID int64, opts StartOptions) (bool, error) {
	if !opts.SkipChatTypeCheck && !models.IsGroupChat(opts.ChatType) {
		if !opts.Silent {
			s.send(chatID, "Використайте /raffle у груповому чаті. 👥")
		}
		return false, nil
	}

	if s.Running(chatID) {
		if !opts.Silent {
			s.send(chatID, "Розіграш уже триває. ⏳")
		}
		return false, nil
	}

	if opts.EnforceCooldown {
		lastTriggered, err := s.store.GetTriggerCooldownAt(chatID)
		if err != nil {
			return false, err
		}
		if !lastTriggered.IsZero() && time.Since(lastTriggered) < s.cooldown {
			return false, nil
		}
	}

	users, err := s.store.GetUsers(chatID)
	if err != nil {
		return false, err
	}
	if len(users) == 0 {
		if !opts.Silent {
			s.send(chatID, "Немає зареєстрованих користувачів. Попросіть /register. 📣")
		}
		return false, nil
	}

	// Claim the chat's session slot. The map insert is the authoritative
	// exclusivity gate: of two racing starts only one gets here first.
	s.mu.Lock()
	if _, exists := s.sessions[chatID]; exists {
		s.mu.Unlock()
		return false, nil
	}
	sess := &session{}
	s.sessions[chatID] = sess
	s.mu.Unlock()

	// Mark the cooldown before any delayed step runs, so a flood of trigger
	// messages inside the announcement window cannot each pass the gate.
	if opts.EnforceCooldown {
		if err := s.store.SetTriggerCooldownAt(chatID, time.Now()); err != nil {
			log.Printf("set trigger cooldown for chat %d: %v", chatID, err)
		}
	}

	if opts.TriggerWord != "" {
		s.send(chatID, fmt.Sprintf("Тригер «%s» спрацював. Розіграш стартує! 🎲", opts.TriggerWord))
	} else {
		s.send(chatID, "Розіграш стартує! Тримайтеся... 🎲")
	}

	d := s.stepDelay
	s.step(chatID, sess, 1*d, func() { s.send(chatID, s.pickPhrase()) })
	s.step(chatID, sess, 2*d, func() { s.send(chatID, s.pickPhrase()) })
	s.step(chatID, sess, 3*d, func() { s.send(chatID, s.pickPhrase()) })
	s.step(chatID, sess, 4*d, func() { s.send(chatID, "Обираю... 🔍") })
	s.step(chatID, sess, 5*d, func() { s.resolve(chatID, sess, users) })

	return true, nil
}

// step arms one delayed action owned by sess. The callback re-checks session
// liveness because a timer already queued for execution can outlive a
// concurrent cancel.
func (s *Service) step(chatID int64, sess *session, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[chatID] != sess {
		return
	}
	timer := time.AfterFunc(delay, func() {
		if !s.alive(chatID, sess) {
			return
		}
		fn()
	})
	sess.timers = append(sess.timers, timer)
}

func (s *Service) alive(chatID int64, sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[chatID] == sess
}

// resolve is the terminal step: draw a winner from the list captured at
// start time, roll the prize, persist, announce, release the slot.
func (s *Service) resolve(chatID int64, sess *session, users []models.User) {
	defer s.clear(chatID, sess)

	if len(users) == 0 {
		s.send(chatID, "Немає доступних учасників для вибору.")
		return
	}
	winner := users[s.intn(len(users))]

	limits, err := s.store.GetDonationLimits(chatID)
	if err != nil {
		log.Printf("get donation limits for chat %d: %v", chatID, err)
		limits = models.DonationLimits{Min: 10, Max: 100}
	}
	amount := s.rollDonation(limits)

	if err := s.store.RecordWin(chatID, winner.ID, 1, amount); err != nil {
		log.Printf("record win for chat %d user %d: %v", chatID, winner.ID, err)
	}

	jarURL, err := s.store.GetJarURL(chatID)
	if err != nil {
		log.Printf("get jar url for chat %d: %v", chatID, err)
	}
	if jarURL == "" {
		jarURL = s.defaultJarURL
	}

	s.send(chatID, fmt.Sprintf(
		"Переможець: %s! 🎉\nДонат %d грн на цю банку: %s 💛",
		FormatUserLine(winner), amount, BuildJarURL(jarURL, amount),
	))
}

// rollDonation picks a uniform amount from the inclusive normalized range.
func (s *Service) rollDonation(limits models.DonationLimits) int {
	lower, upper := limits.Min, limits.Max
	if lower > upper {
		lower, upper = upper, lower
	}
	return lower + s.intn(upper-lower+1)
}

func (s *Service) pickPhrase() string {
	return s.phrases[s.intn(len(s.phrases))]
}

// intn serializes access to the injected source; timer callbacks for
// different chats may draw concurrently.
func (s *Service) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// Cancel stops a running raffle: every pending timer is cancelled and the
// chat's slot is released. No-op when nothing is running.
func (s *Service) Cancel(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[chatID]
	if !ok {
		return false
	}
	for _, timer := range sess.timers {
		timer.Stop()
	}
	delete(s.sessions, chatID)
	return true
}

// Running reports whether a raffle is in flight for the chat.
func (s *Service) Running(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[chatID]
	return ok
}

// clear releases the slot if sess still owns it.
func (s *Service) clear(chatID int64, sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[chatID] != sess {
		return
	}
	for _, timer := range sess.timers {
		timer.Stop()
	}
	delete(s.sessions, chatID)
}

func (s *Service) send(chatID int64, text string) {
	if err := s.sender.Send(chatID, text); err != nil {
		log.Printf("send to chat %d: %v", chatID, err)
	}
}
