package panel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/voicekeeper/telemetry"
)

// ErrPromptTimeout is returned when a prompt elapses with no input.
var ErrPromptTimeout = errors.New("prompt timed out")

// Prompter collects one-shot text answers from the panel channel. At most one
// prompt is live per (user, channel); a new prompt supersedes the old one,
// which resolves as timed out.
type Prompter struct {
	mu      sync.Mutex
	waiters map[string]chan *discordgo.Message
}

func NewPrompter() *Prompter {
	return &Prompter{waiters: make(map[string]chan *discordgo.Message)}
}

func promptKey(userID, channelID string) string { return userID + "\x00" + channelID }

// Await blocks until the user posts a message in the channel, the timeout
// elapses, or the context is cancelled.
func (p *Prompter) Await(ctx context.Context, userID, channelID string, timeout time.Duration) (*discordgo.Message, error) {
	key := promptKey(userID, channelID)
	ch := make(chan *discordgo.Message, 1)

	p.mu.Lock()
	if old, ok := p.waiters[key]; ok {
		close(old)
	}
	p.waiters[key] = ch
	p.mu.Unlock()

	drop := func() {
		p.mu.Lock()
		if p.waiters[key] == ch {
			delete(p.waiters, key)
		}
		p.mu.Unlock()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m, ok := <-ch:
		if !ok {
			// superseded by a newer prompt
			return nil, ErrPromptTimeout
		}
		drop()
		return m, nil
	case <-timer.C:
		drop()
		if telemetry.PromptTimeouts != nil {
			telemetry.PromptTimeouts.Inc()
		}
		return nil, ErrPromptTimeout
	case <-ctx.Done():
		drop()
		return nil, ctx.Err()
	}
}

// Feed offers an incoming message to a waiting prompt. Returns true if the
// message was consumed as prompt input.
func (p *Prompter) Feed(m *discordgo.Message) bool {
	if m == nil || m.Author == nil {
		return false
	}
	key := promptKey(m.Author.ID, m.ChannelID)

	p.mu.Lock()
	ch, ok := p.waiters[key]
	if ok {
		delete(p.waiters, key)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	ch <- m
	return true
}
