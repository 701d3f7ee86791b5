package service

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/PavloPoliakov/DonationRaffleBot/internal/models"
)

// DisplayName returns a human-readable name for a participant.
func DisplayName(user models.User) string {
	if name := strings.TrimSpace(user.Name); name != "" {
		return name
	}
	if user.Username != "" {
		return user.Username
	}
	return "Користувач"
}

// FormatUserLine renders "Name (@username)" or just the name.
func FormatUserLine(user models.User) string {
	name := DisplayName(user)
	if user.Username != "" {
		return name + " (@" + user.Username + ")"
	}
	return name
}

// BuildJarURL injects the donation amount into a monobank jar link via the
// "a" query parameter. Any other link passes through untouched.
func BuildJarURL(jarURL string, amount int) string {
	if jarURL == "" || !strings.Contains(jarURL, "send.monobank.ua/jar") {
		return jarURL
	}
	parsed, err := url.Parse(jarURL)
	if err != nil {
		return jarURL
	}
	query := parsed.Query()
	query.Set("a", strconv.Itoa(amount))
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
