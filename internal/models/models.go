package models

// User represents one registered raffle participant within a chat.
type User struct {
	ID       int64  // Telegram ID of the user
	Name     string // Display name at registration time
	Username string // @nickname, may be empty
	Wins     int    // Total raffles won in this chat
	Donated  int    // Total donation amount assigned, in UAH
}

// DonationLimits is the inclusive prize range configured per chat.
type DonationLimits struct {
	Min int
	Max int
}

// ScheduledChat is one row of the schedule sweep: a chat with a
// non-empty recurrence rule.
type ScheduledChat struct {
	ChatID     int64
	Schedule   string // Normalized schedule text, e.g. "daily 09:00"
	Timezone   string // IANA zone name, may be empty
	LastRunKey string // Run key of the last fired instant, may be empty
}

// IsGroupChat reports whether a chat type is eligible for raffles.
func IsGroupChat(chatType string) bool {
	return chatType == "group" || chatType == "supergroup"
}
