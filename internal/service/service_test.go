package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PavloPoliakov/DonationRaffleBot/internal/models"
)

// fakeStore is an in-memory Store for orchestrator tests.
type fakeStore struct {
	mu         sync.Mutex
	users      map[int64][]models.User
	limits     map[int64]models.DonationLimits
	jars       map[int64]string
	cooldowns  map[int64]time.Time
	scheduled  []models.ScheduledChat
	runKeys    map[int64]string
	winCalls   int
	runKeySets int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     make(map[int64][]models.User),
		limits:    make(map[int64]models.DonationLimits),
		jars:      make(map[int64]string),
		cooldowns: make(map[int64]time.Time),
		runKeys:   make(map[int64]string),
	}
}

func (f *fakeStore) GetUsers(chatID int64) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.User(nil), f.users[chatID]...), nil
}

func (f *fakeStore) GetDonationLimits(chatID int64) (models.DonationLimits, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limits, ok := f.limits[chatID]; ok {
		return limits, nil
	}
	return models.DonationLimits{Min: 10, Max: 100}, nil
}

func (f *fakeStore) RecordWin(chatID, userID int64, winsDelta, donatedDelta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.winCalls++
	users := f.users[chatID]
	for i := range users {
		if users[i].ID == userID {
			users[i].Wins += winsDelta
			users[i].Donated += donatedDelta
		}
	}
	return nil
}

func (f *fakeStore) GetJarURL(chatID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jars[chatID], nil
}

func (f *fakeStore) GetTriggerCooldownAt(chatID int64) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cooldowns[chatID], nil
}

func (f *fakeStore) SetTriggerCooldownAt(chatID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cooldowns[chatID] = at
	return nil
}

func (f *fakeStore) ListScheduledChats() ([]models.ScheduledChat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ScheduledChat(nil), f.scheduled...), nil
}

func (f *fakeStore) SetScheduleLastRunKey(chatID int64, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runKeySets++
	f.runKeys[chatID] = key
	return nil
}

func (f *fakeStore) user(chatID, userID int64) models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users[chatID] {
		if user.ID == userID {
			return user
		}
	}
	return models.User{}
}

// fakeSender records every outbound message.
type fakeSender struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeSender) Send(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeSender) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// zeroRand always draws 0: first participant wins, prize is the lower limit.
type zeroRand struct{}

func (zeroRand) Intn(int) int { return 0 }

func groupStart() StartOptions {
	return StartOptions{ChatType: "supergroup"}
}

func twoUsers() []models.User {
	return []models.User{
		{ID: 1, Name: "A", Username: "alice"},
		{ID: 2, Name: "B", Username: "bob"},
	}
}

func waitIdle(t *testing.T, svc *Service, chatID int64) {
	t.Helper()
	require.Eventually(t, func() bool { return !svc.Running(chatID) },
		3*time.Second, 5*time.Millisecond)
}

func TestStartRaffleEndToEnd(t *testing.T) {
	const chatID = int64(42)
	store := newFakeStore()
	store.users[chatID] = twoUsers()
	store.limits[chatID] = models.DonationLimits{Min: 10, Max: 100}
	store.jars[chatID] = "https://send.monobank.ua/jar/abc123"
	sender := &fakeSender{}
	svc := New(store, sender, zeroRand{}, Options{StepDelay: 20 * time.Millisecond})

	started, err := svc.StartRaffle(chatID, groupStart())
	require.NoError(t, err)
	require.True(t, started)

	waitIdle(t, svc, chatID)

	winner := store.user(chatID, 1)
	assert.Equal(t, 1, winner.Wins)
	assert.Equal(t, 10, winner.Donated)

	messages := sender.all()
	require.Len(t, messages, 6)
	assert.Contains(t, messages[0], "Розіграш стартує")
	assert.Contains(t, messages[4], "Обираю")
	assert.Contains(t, messages[5], "Переможець: A (@alice)")
	assert.Contains(t, messages[5], "10 грн")
	assert.Contains(t, messages[5], "a=10")
}

func TestStartRaffleExclusivity(t *testing.T) {
	const chatID = int64(42)
	store := newFakeStore()
	store.users[chatID] = twoUsers()
	sender := &fakeSender{}
	svc := New(store, sender, zeroRand{}, Options{StepDelay: time.Minute})

	var wg sync.WaitGroup
	results := make([]bool, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.StartRaffle(chatID, StartOptions{ChatType: "supergroup", Silent: true})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	assert.NotEqual(t, results[0], results[1], "exactly one start must win")
	assert.True(t, svc.Running(chatID))
	svc.Cancel(chatID)
}

func TestStartRaffleRequiresGroupChat(t *testing.T) {
	store := newFakeStore()
	store.users[1] = twoUsers()
	sender := &fakeSender{}
	svc := New(store, sender, zeroRand{}, Options{})

	started, err := svc.StartRaffle(1, StartOptions{ChatType: "private"})
	require.NoError(t, err)
	assert.False(t, started)
	assert.False(t, svc.Running(1))
	require.Equal(t, 1, sender.count())
	assert.Contains(t, sender.all()[0], "груповому чаті")
}

func TestStartRaffleNoParticipants(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	svc := New(store, sender, zeroRand{}, Options{})

	started, err := svc.StartRaffle(1, groupStart())
	require.NoError(t, err)
	assert.False(t, started)
	assert.False(t, svc.Running(1))
	assert.Contains(t, sender.all()[0], "Немає зареєстрованих")
}

func TestCooldownGatesTriggerStartsOnly(t *testing.T) {
	const chatID = int64(42)
	store := newFakeStore()
	store.users[chatID] = twoUsers()
	sender := &fakeSender{}
	svc := New(store, sender, zeroRand{}, Options{StepDelay: time.Minute})

	started, err := svc.StartRaffle(chatID, StartOptions{
		ChatType:        "supergroup",
		EnforceCooldown: true,
		Silent:          true,
		TriggerWord:     "донат",
	})
	require.NoError(t, err)
	require.True(t, started)
	assert.False(t, store.cooldowns[chatID].IsZero(), "cooldown mark must be recorded")
	require.True(t, svc.Cancel(chatID))

	// A second trigger start inside the window is silently declined.
	started, err = svc.StartRaffle(chatID, StartOptions{
		ChatType:        "supergroup",
		EnforceCooldown: true,
		Silent:          true,
	})
	require.NoError(t, err)
	assert.False(t, started)

	// A manual start is never gated by the cooldown.
	started, err = svc.StartRaffle(chatID, groupStart())
	require.NoError(t, err)
	assert.True(t, started)
	svc.Cancel(chatID)
}

func TestCancelStopsPendingSteps(t *testing.T) {
	const chatID = int64(42)
	store := newFakeStore()
	store.users[chatID] = twoUsers()
	sender := &fakeSender{}
	svc := New(store, sender, zeroRand{}, Options{StepDelay: time.Hour})

	started, err := svc.StartRaffle(chatID, groupStart())
	require.NoError(t, err)
	require.True(t, started)
	require.True(t, svc.Cancel(chatID))

	assert.False(t, svc.Running(chatID))
	assert.Equal(t, 0, store.winCalls, "no statistics may be touched")
	assert.Equal(t, 1, sender.count(), "only the opening message goes out")

	// Cancel is idempotent.
	assert.False(t, svc.Cancel(chatID))
}

func TestCancelledSessionFreesSlotForRestart(t *testing.T) {
	const chatID = int64(42)
	store := newFakeStore()
	store.users[chatID] = twoUsers()
	sender := &fakeSender{}
	svc := New(store, sender, zeroRand{}, Options{StepDelay: time.Millisecond})

	started, err := svc.StartRaffle(chatID, groupStart())
	require.NoError(t, err)
	require.True(t, started)
	require.True(t, svc.Cancel(chatID))

	started, err = svc.StartRaffle(chatID, groupStart())
	require.NoError(t, err)
	require.True(t, started)
	waitIdle(t, svc, chatID)
	assert.Equal(t, 1, store.winCalls)
}

func TestTriggerWordOpeningMessage(t *testing.T) {
	const chatID = int64(42)
	store := newFakeStore()
	store.users[chatID] = twoUsers()
	sender := &fakeSender{}
	svc := New(store, sender, zeroRand{}, Options{StepDelay: time.Minute})

	started, err := svc.StartRaffle(chatID, StartOptions{
		ChatType:        "supergroup",
		EnforceCooldown: true,
		Silent:          true,
		TriggerWord:     "донат",
	})
	require.NoError(t, err)
	require.True(t, started)
	assert.Contains(t, sender.all()[0], "донат")
	svc.Cancel(chatID)
}
