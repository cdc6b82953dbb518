package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/voicekeeper/platform"
	"github.com/onnwee/voicekeeper/telemetry"
)

// Janitor keeps the control panel channel clean: user chatter posted there is
// queued and deleted in batches on a fixed interval. Batching keeps the bot
// off the per-route rate limit when several messages land at once.
type Janitor struct {
	api       platform.API
	channelID string
	botID     string
	interval  time.Duration

	mu    sync.Mutex
	queue []string
}

func NewJanitor(api platform.API, channelID, botID string, interval time.Duration) *Janitor {
	return &Janitor{api: api, channelID: channelID, botID: botID, interval: interval}
}

// Observe enqueues a message for deletion if it is user chatter in the
// janitored channel. The bot's own messages (panels, prompts) are kept.
func (j *Janitor) Observe(m *discordgo.Message) {
	if m == nil || m.ChannelID != j.channelID {
		return
	}
	if m.Author != nil && m.Author.ID == j.botID {
		return
	}
	j.mu.Lock()
	j.queue = append(j.queue, m.ID)
	j.mu.Unlock()
}

// Run flushes the queue every interval until the context is cancelled. A
// final flush runs on shutdown.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.flush(context.Background())
			return
		case <-ticker.C:
			j.flush(ctx)
		}
	}
}

func (j *Janitor) flush(ctx context.Context) {
	j.mu.Lock()
	batch := j.queue
	j.queue = nil
	j.mu.Unlock()

	for _, id := range batch {
		if err := j.api.ChannelMessageDelete(j.channelID, id); err != nil {
			if !platform.IsBenignMissing(err) {
				telemetry.LoggerWithCorr(ctx).Warn("janitor delete failed",
					slog.Any("err", err), slog.String("message", id))
			}
		}
	}
}
