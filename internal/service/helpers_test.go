package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/PavloPoliakov/DonationRaffleBot/internal/models"
)

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Alice", DisplayName(models.User{Name: "Alice", Username: "alice"}))
	assert.Equal(t, "alice", DisplayName(models.User{Username: "alice"}))
	assert.Equal(t, "Користувач", DisplayName(models.User{}))
	assert.Equal(t, "alice", DisplayName(models.User{Name: "   ", Username: "alice"}))
}

func TestFormatUserLine(t *testing.T) {
	assert.Equal(t, "Alice (@alice)", FormatUserLine(models.User{Name: "Alice", Username: "alice"}))
	assert.Equal(t, "Alice", FormatUserLine(models.User{Name: "Alice"}))
}

func TestBuildJarURL(t *testing.T) {
	tests := []struct {
		name   string
		jarURL string
		amount int
		want   string
	}{
		{
			name:   "monobank jar gets amount",
			jarURL: "https://send.monobank.ua/jar/abc123",
			amount: 50,
			want:   "https://send.monobank.ua/jar/abc123?a=50",
		},
		{
			name:   "existing amount replaced",
			jarURL: "https://send.monobank.ua/jar/abc123?a=10",
			amount: 75,
			want:   "https://send.monobank.ua/jar/abc123?a=75",
		},
		{
			name:   "other links pass through",
			jarURL: "https://example.com/donate",
			amount: 50,
			want:   "https://example.com/donate",
		},
		{
			name:   "empty stays empty",
			jarURL: "",
			amount: 50,
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildJarURL(tt.jarURL, tt.amount))
		})
	}
}
