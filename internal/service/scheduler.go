package service

import (
	"context"
	"log"
	"time"

	"github.com/PavloPoliakov/DonationRaffleBot/internal/schedule"
)

// PollInterval is the cadence of the schedule sweep. Minute granularity is
// all the recurrence grammar can express.
const PollInterval = time.Minute

// StartScheduler runs the schedule sweep on a ticker until ctx is cancelled.
func (s *Service) StartScheduler(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunScheduledRaffles(time.Now())
			}
		}
	}()
}

// RunScheduledRaffles evaluates every stored schedule against now and fires
// the due ones. A firing only initiates a session; the announcement sequence
// proceeds on its own timers, so one chat's raffle never blocks the sweep.
// The run key is persisted after initiation — on either outcome — so the
// same instant cannot fire twice within one process lifetime.
func (s *Service) RunScheduledRaffles(now time.Time) {
	entries, err := s.store.ListScheduledChats()
	if err != nil {
		log.Printf("list scheduled chats: %v", err)
		return
	}

	for _, entry := range entries {
		spec, ok := schedule.Parse(entry.Schedule)
		if !ok || spec.Kind == schedule.Off {
			continue
		}

		timezone := entry.Timezone
		if timezone == "" {
			timezone = schedule.TimezoneDefault
		}
		parts, err := schedule.ZonedParts(now, timezone)
		if err != nil {
			log.Printf("⚠️ chat %d: %v, falling back to %s", entry.ChatID, err, schedule.TimezoneDefault)
			parts, err = schedule.ZonedParts(now, schedule.TimezoneDefault)
			if err != nil {
				log.Printf("load default timezone: %v", err)
				continue
			}
		}

		if !schedule.IsDue(spec, parts) {
			continue
		}
		runKey := schedule.RunKey(spec, parts)
		if runKey == "" || runKey == entry.LastRunKey {
			continue
		}

		if _, err := s.StartRaffle(entry.ChatID, StartOptions{
			SkipChatTypeCheck: true,
			Silent:            true,
		}); err != nil {
			log.Printf("scheduled raffle for chat %d: %v", entry.ChatID, err)
		}
		if err := s.store.SetScheduleLastRunKey(entry.ChatID, runKey); err != nil {
			log.Printf("persist run key for chat %d: %v", entry.ChatID, err)
		}
	}
}
