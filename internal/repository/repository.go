package repository

import (
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/PavloPoliakov/DonationRaffleBot/internal/models"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InitSchema creates all tables. Safe to call on every start.
func (r *Repository) InitSchema() error {
	_, err := r.db.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS chats (
	chat_id BIGINT PRIMARY KEY,
	jar_url TEXT,
	min_donation INT,
	max_donation INT,
	auto_register BOOLEAN NOT NULL DEFAULT TRUE,
	trigger_words TEXT,
	trigger_cooldown_at TIMESTAMPTZ,
	raffle_schedule TEXT,
	schedule_timezone TEXT,
	schedule_last_run_key TEXT
);

CREATE TABLE IF NOT EXISTS users (
	chat_id BIGINT NOT NULL REFERENCES chats(chat_id),
	user_id BIGINT NOT NULL,
	name TEXT,
	username TEXT,
	wins INT NOT NULL DEFAULT 0,
	donated INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (chat_id, user_id)
);

CREATE TABLE IF NOT EXISTS opt_outs (
	chat_id BIGINT NOT NULL,
	user_id BIGINT NOT NULL,
	PRIMARY KEY (chat_id, user_id)
);
`

// EnsureChat inserts the chat row if it does not exist yet.
func (r *Repository) EnsureChat(chatID int64) error {
	_, err := r.db.Exec(`
		INSERT INTO chats (chat_id) VALUES ($1)
		ON CONFLICT (chat_id) DO NOTHING
	`, chatID)
	return err
}

// User methods

// GetUsers returns the registered users of a chat, excluding opted-out ones.
func (r *Repository) GetUsers(chatID int64) ([]models.User, error) {
	rows, err := r.db.Query(`
		SELECT user_id, name, username, wins, donated
		FROM users u
		WHERE chat_id = $1
		AND NOT EXISTS (
			SELECT 1 FROM opt_outs o
			WHERE o.chat_id = u.chat_id AND o.user_id = u.user_id
		)
		ORDER BY created_at ASC
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		var name, username sql.NullString
		if err := rows.Scan(&user.ID, &name, &username, &user.Wins, &user.Donated); err != nil {
			return nil, err
		}
		user.Name = name.String
		user.Username = username.String
		users = append(users, user)
	}
	return users, rows.Err()
}

// GetUser returns one user record, or nil when not registered.
func (r *Repository) GetUser(chatID, userID int64) (*models.User, error) {
	var user models.User
	var name, username sql.NullString
	err := r.db.QueryRow(`
		SELECT user_id, name, username, wins, donated
		FROM users WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID).Scan(&user.ID, &name, &username, &user.Wins, &user.Donated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user.Name = name.String
	user.Username = username.String
	return &user, nil
}

func (r *Repository) UpsertUser(chatID int64, user models.User) error {
	if err := r.EnsureChat(chatID); err != nil {
		return err
	}
	_, err := r.db.Exec(`
		INSERT INTO users (chat_id, user_id, name, username, wins, donated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chat_id, user_id) DO UPDATE
		SET name = $3, username = $4, wins = $5, donated = $6
	`, chatID, user.ID, user.Name, user.Username, user.Wins, user.Donated)
	return err
}

// RemoveUser opts a user out of raffles. The stats row stays; the user just
// stops appearing in participant lists. Returns whether an active
// registration was actually removed.
func (r *Repository) RemoveUser(chatID, userID int64) (bool, error) {
	existing, err := r.GetUser(chatID, userID)
	if err != nil {
		return false, err
	}
	optedOut, err := r.IsOptedOut(chatID, userID)
	if err != nil {
		return false, err
	}
	_, err = r.db.Exec(`
		INSERT INTO opt_outs (chat_id, user_id) VALUES ($1, $2)
		ON CONFLICT (chat_id, user_id) DO NOTHING
	`, chatID, userID)
	if err != nil {
		return false, err
	}
	return existing != nil && !optedOut, nil
}

func (r *Repository) IsOptedOut(chatID, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM opt_outs WHERE chat_id = $1 AND user_id = $2
		)
	`, chatID, userID).Scan(&exists)
	return exists, err
}

func (r *Repository) ClearOptOut(chatID, userID int64) error {
	_, err := r.db.Exec(`
		DELETE FROM opt_outs WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID)
	return err
}

// RecordWin bumps a winner's counters in one statement, atomic with respect
// to concurrent reads of the same row.
func (r *Repository) RecordWin(chatID, userID int64, winsDelta, donatedDelta int) error {
	_, err := r.db.Exec(`
		UPDATE users SET wins = wins + $3, donated = donated + $4
		WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID, winsDelta, donatedDelta)
	return err
}

// Chat configuration methods

func (r *Repository) GetJarURL(chatID int64) (string, error) {
	var jarURL sql.NullString
	err := r.db.QueryRow(`
		SELECT jar_url FROM chats WHERE chat_id = $1
	`, chatID).Scan(&jarURL)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return jarURL.String, err
}

func (r *Repository) SetJarURL(chatID int64, jarURL string) error {
	if err := r.EnsureChat(chatID); err != nil {
		return err
	}
	_, err := r.db.Exec(`
		UPDATE chats SET jar_url = $2 WHERE chat_id = $1
	`, chatID, jarURL)
	return err
}

func (r *Repository) GetDonationLimits(chatID int64) (models.DonationLimits, error) {
	var min, max sql.NullInt64
	err := r.db.QueryRow(`
		SELECT min_donation, max_donation FROM chats WHERE chat_id = $1
	`, chatID).Scan(&min, &max)
	if err != nil && err != sql.ErrNoRows {
		return models.DonationLimits{}, err
	}
	limits := models.DonationLimits{Min: 10, Max: 100}
	if min.Valid {
		limits.Min = int(min.Int64)
	}
	if max.Valid {
		limits.Max = int(max.Int64)
	}
	return limits, nil
}

func (r *Repository) SetDonationLimits(chatID int64, min, max int) error {
	if err := r.EnsureChat(chatID); err != nil {
		return err
	}
	_, err := r.db.Exec(`
		UPDATE chats SET min_donation = $2, max_donation = $3 WHERE chat_id = $1
	`, chatID, min, max)
	return err
}

func (r *Repository) GetAutoRegister(chatID int64) (bool, error) {
	var enabled sql.NullBool
	err := r.db.QueryRow(`
		SELECT auto_register FROM chats WHERE chat_id = $1
	`, chatID).Scan(&enabled)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if !enabled.Valid {
		return true, nil
	}
	return enabled.Bool, nil
}

func (r *Repository) SetAutoRegister(chatID int64, enabled bool) error {
	if err := r.EnsureChat(chatID); err != nil {
		return err
	}
	_, err := r.db.Exec(`
		UPDATE chats SET auto_register = $2 WHERE chat_id = $1
	`, chatID, enabled)
	return err
}

// Trigger word methods. Words live in one JSON array column, normalized to
// lower case and kept sorted.

func (r *Repository) GetTriggerWords(chatID int64) ([]string, error) {
	var raw sql.NullString
	err := r.db.QueryRow(`
		SELECT trigger_words FROM chats WHERE chat_id = $1
	`, chatID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var words []string
	if err := json.Unmarshal([]byte(raw.String), &words); err != nil {
		return nil, nil
	}
	return words, nil
}

func (r *Repository) setTriggerWords(chatID int64, words []string) error {
	if err := r.EnsureChat(chatID); err != nil {
		return err
	}
	encoded, err := json.Marshal(words)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`
		UPDATE chats SET trigger_words = $2 WHERE chat_id = $1
	`, chatID, string(encoded))
	return err
}

func (r *Repository) AddTriggerWord(chatID int64, word string) (bool, error) {
	normalized := strings.ToLower(strings.TrimSpace(word))
	if normalized == "" {
		return false, nil
	}
	current, err := r.GetTriggerWords(chatID)
	if err != nil {
		return false, err
	}
	for _, existing := range current {
		if existing == normalized {
			return false, nil
		}
	}
	updated := append(current, normalized)
	sort.Strings(updated)
	return true, r.setTriggerWords(chatID, updated)
}

func (r *Repository) RemoveTriggerWord(chatID int64, word string) (bool, error) {
	normalized := strings.ToLower(strings.TrimSpace(word))
	if normalized == "" {
		return false, nil
	}
	current, err := r.GetTriggerWords(chatID)
	if err != nil {
		return false, err
	}
	updated := make([]string, 0, len(current))
	for _, existing := range current {
		if existing != normalized {
			updated = append(updated, existing)
		}
	}
	if len(updated) == len(current) {
		return false, nil
	}
	return true, r.setTriggerWords(chatID, updated)
}

// Cooldown mark methods

// GetTriggerCooldownAt returns the last trigger-activated start time, or the
// zero time when none is recorded.
func (r *Repository) GetTriggerCooldownAt(chatID int64) (time.Time, error) {
	var at sql.NullTime
	err := r.db.QueryRow(`
		SELECT trigger_cooldown_at FROM chats WHERE chat_id = $1
	`, chatID).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	if !at.Valid {
		return time.Time{}, nil
	}
	return at.Time, nil
}

func (r *Repository) SetTriggerCooldownAt(chatID int64, at time.Time) error {
	if err := r.EnsureChat(chatID); err != nil {
		return err
	}
	_, err := r.db.Exec(`
		UPDATE chats SET trigger_cooldown_at = $2 WHERE chat_id = $1
	`, chatID, at)
	return err
}

// Schedule cursor methods

func (r *Repository) GetSchedule(chatID int64) (string, error) {
	var text sql.NullString
	err := r.db.QueryRow(`
		SELECT raffle_schedule FROM chats WHERE chat_id = $1
	`, chatID).Scan(&text)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return text.String, err
}

// SetSchedule stores the normalized schedule text; an empty text disables
// the schedule and wipes the run-key cursor.
func (r *Repository) SetSchedule(chatID int64, text string) error {
	if err := r.EnsureChat(chatID); err != nil {
		return err
	}
	if text == "" {
		_, err := r.db.Exec(`
			UPDATE chats SET raffle_schedule = NULL, schedule_last_run_key = NULL
			WHERE chat_id = $1
		`, chatID)
		return err
	}
	_, err := r.db.Exec(`
		UPDATE chats SET raffle_schedule = $2 WHERE chat_id = $1
	`, chatID, text)
	return err
}

func (r *Repository) GetScheduleTimezone(chatID int64) (string, error) {
	var tz sql.NullString
	err := r.db.QueryRow(`
		SELECT schedule_timezone FROM chats WHERE chat_id = $1
	`, chatID).Scan(&tz)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return tz.String, err
}

func (r *Repository) SetScheduleTimezone(chatID int64, timezone string) error {
	if err := r.EnsureChat(chatID); err != nil {
		return err
	}
	_, err := r.db.Exec(`
		UPDATE chats SET schedule_timezone = $2 WHERE chat_id = $1
	`, chatID, timezone)
	return err
}

func (r *Repository) SetScheduleLastRunKey(chatID int64, key string) error {
	if err := r.EnsureChat(chatID); err != nil {
		return err
	}
	_, err := r.db.Exec(`
		UPDATE chats SET schedule_last_run_key = $2 WHERE chat_id = $1
	`, chatID, key)
	return err
}

// ListScheduledChats returns every chat with a non-empty schedule.
func (r *Repository) ListScheduledChats() ([]models.ScheduledChat, error) {
	rows, err := r.db.Query(`
		SELECT chat_id, raffle_schedule, schedule_timezone, schedule_last_run_key
		FROM chats WHERE raffle_schedule IS NOT NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []models.ScheduledChat
	for rows.Next() {
		var entry models.ScheduledChat
		var scheduleText, timezone, lastRunKey sql.NullString
		if err := rows.Scan(&entry.ChatID, &scheduleText, &timezone, &lastRunKey); err != nil {
			return nil, err
		}
		entry.Schedule = scheduleText.String
		entry.Timezone = timezone.String
		entry.LastRunKey = lastRunKey.String
		chats = append(chats, entry)
	}
	return chats, rows.Err()
}
