package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// PermSet records one permission overwrite applied through the fake.
type PermSet struct {
	ChannelID string
	TargetID  string
	Type      discordgo.PermissionOverwriteType
	Allow     int64
	Deny      int64
}

// Move records one forced voice move (nil channel = disconnect).
type Move struct {
	UserID    string
	ChannelID *string
}

// RawRequest records one REST call issued outside the typed wrappers, with
// the body marshaled the way discordgo would send it.
type RawRequest struct {
	Method string
	URL    string
	Body   []byte
}

// FakeSession is an in-memory implementation of platform.API recording every
// call so tests can assert on mutations (or their absence).
type FakeSession struct {
	mu sync.Mutex

	// Seeded state
	Channels map[string]*discordgo.Channel
	Members  map[string]*discordgo.Member
	Messages map[string][]*discordgo.Message

	// Errors to inject, keyed by method name.
	FailWith map[string]error

	// Recorded effects
	Created        []*discordgo.Channel
	Deleted        []string
	Edits          map[string][]*discordgo.ChannelEdit
	PermSets       []PermSet
	PermDeletes    []PermSet
	Moves          []Move
	BulkDeleted    map[string][]string
	MessageDeletes map[string][]string
	Sent           map[string][]string
	SentEmbeds     map[string][]*discordgo.MessageEmbed
	Responses      []string
	Followups      []string
	Requests       []RawRequest

	nextID int
}

func NewFakeSession() *FakeSession {
	return &FakeSession{
		Channels:       make(map[string]*discordgo.Channel),
		Members:        make(map[string]*discordgo.Member),
		Messages:       make(map[string][]*discordgo.Message),
		FailWith:       make(map[string]error),
		Edits:          make(map[string][]*discordgo.ChannelEdit),
		BulkDeleted:    make(map[string][]string),
		MessageDeletes: make(map[string][]string),
		Sent:           make(map[string][]string),
		SentEmbeds:     make(map[string][]*discordgo.MessageEmbed),
	}
}

// AddMember seeds a guild member.
func (f *FakeSession) AddMember(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Members[userID] = &discordgo.Member{User: &discordgo.User{ID: userID, Username: "user-" + userID}}
}

// AddChannel seeds a channel.
func (f *FakeSession) AddChannel(id, name, parentID string, chType discordgo.ChannelType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Channels[id] = &discordgo.Channel{ID: id, Name: name, ParentID: parentID, Type: chType}
}

// MutationCount returns the number of recorded channel/member mutations
// (not counting user-visible replies), for ownership-check invariants.
func (f *FakeSession) MutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.Created) + len(f.Deleted) + len(f.PermSets) + len(f.PermDeletes) + len(f.Moves) + len(f.Requests)
	for _, e := range f.Edits {
		n += len(e)
	}
	for _, ids := range f.BulkDeleted {
		n += len(ids)
	}
	for _, ids := range f.MessageDeletes {
		n += len(ids)
	}
	return n
}

func (f *FakeSession) fail(method string) error {
	return f.FailWith[method]
}

// NotFoundErr builds the REST error Discord returns for a vanished member.
func NotFoundErr() error {
	return &discordgo.RESTError{
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownMember, Message: "Unknown Member"},
		Response: &http.Response{StatusCode: http.StatusNotFound},
	}
}

func (f *FakeSession) GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GuildChannelCreateComplex"); err != nil {
		return nil, err
	}
	f.nextID++
	ch := &discordgo.Channel{
		ID:        fmt.Sprintf("chan-%d", f.nextID),
		GuildID:   guildID,
		Name:      data.Name,
		Type:      data.Type,
		ParentID:  data.ParentID,
		UserLimit: data.UserLimit,
	}
	f.Channels[ch.ID] = ch
	f.Created = append(f.Created, ch)
	for _, po := range data.PermissionOverwrites {
		f.PermSets = append(f.PermSets, PermSet{ChannelID: ch.ID, TargetID: po.ID, Type: po.Type, Allow: po.Allow, Deny: po.Deny})
	}
	return ch, nil
}

func (f *FakeSession) ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ChannelDelete"); err != nil {
		return nil, err
	}
	ch, ok := f.Channels[channelID]
	if !ok {
		return nil, NotFoundErr()
	}
	delete(f.Channels, channelID)
	f.Deleted = append(f.Deleted, channelID)
	return ch, nil
}

func (f *FakeSession) ChannelEdit(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ChannelEdit"); err != nil {
		return nil, err
	}
	ch, ok := f.Channels[channelID]
	if !ok {
		return nil, NotFoundErr()
	}
	if data.Name != "" {
		ch.Name = data.Name
	}
	if data.UserLimit != 0 {
		ch.UserLimit = data.UserLimit
	}
	f.Edits[channelID] = append(f.Edits[channelID], data)
	return ch, nil
}

func (f *FakeSession) Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("Channel"); err != nil {
		return nil, err
	}
	ch, ok := f.Channels[channelID]
	if !ok {
		return nil, NotFoundErr()
	}
	return ch, nil
}

func (f *FakeSession) GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GuildChannels"); err != nil {
		return nil, err
	}
	var out []*discordgo.Channel
	for _, ch := range f.Channels {
		out = append(out, ch)
	}
	return out, nil
}

func (f *FakeSession) ChannelPermissionSet(channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ChannelPermissionSet"); err != nil {
		return err
	}
	f.PermSets = append(f.PermSets, PermSet{ChannelID: channelID, TargetID: targetID, Type: targetType, Allow: allow, Deny: deny})
	return nil
}

func (f *FakeSession) ChannelPermissionDelete(channelID, targetID string, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ChannelPermissionDelete"); err != nil {
		return err
	}
	f.PermDeletes = append(f.PermDeletes, PermSet{ChannelID: channelID, TargetID: targetID})
	return nil
}

func (f *FakeSession) GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GuildMember"); err != nil {
		return nil, err
	}
	m, ok := f.Members[userID]
	if !ok {
		return nil, NotFoundErr()
	}
	return m, nil
}

func (f *FakeSession) GuildMemberMove(guildID, userID string, channelID *string, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GuildMemberMove"); err != nil {
		return err
	}
	f.Moves = append(f.Moves, Move{UserID: userID, ChannelID: channelID})
	return nil
}

func (f *FakeSession) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ChannelMessages"); err != nil {
		return nil, err
	}
	msgs := f.Messages[channelID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (f *FakeSession) ChannelMessagesBulkDelete(channelID string, messages []string, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ChannelMessagesBulkDelete"); err != nil {
		return err
	}
	f.BulkDeleted[channelID] = append(f.BulkDeleted[channelID], messages...)
	return nil
}

func (f *FakeSession) ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ChannelMessageDelete"); err != nil {
		return err
	}
	f.MessageDeletes[channelID] = append(f.MessageDeletes[channelID], messageID)
	return nil
}

func (f *FakeSession) ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ChannelMessageSend"); err != nil {
		return nil, err
	}
	f.Sent[channelID] = append(f.Sent[channelID], content)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (f *FakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ChannelMessageSendComplex"); err != nil {
		return nil, err
	}
	f.Sent[channelID] = append(f.Sent[channelID], data.Content)
	for _, e := range data.Embeds {
		f.SentEmbeds[channelID] = append(f.SentEmbeds[channelID], e)
	}
	return &discordgo.Message{ChannelID: channelID, Content: data.Content}, nil
}

func (f *FakeSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ChannelMessageSendEmbed"); err != nil {
		return nil, err
	}
	f.SentEmbeds[channelID] = append(f.SentEmbeds[channelID], embed)
	return &discordgo.Message{ChannelID: channelID}, nil
}

func (f *FakeSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UserChannelCreate"); err != nil {
		return nil, err
	}
	id := "dm-" + recipientID
	if _, ok := f.Channels[id]; !ok {
		f.Channels[id] = &discordgo.Channel{ID: id, Type: discordgo.ChannelTypeDM}
	}
	return f.Channels[id], nil
}

func (f *FakeSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("InteractionRespond"); err != nil {
		return err
	}
	if resp.Data != nil {
		f.Responses = append(f.Responses, resp.Data.Content)
	} else {
		f.Responses = append(f.Responses, "")
	}
	return nil
}

func (f *FakeSession) FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("FollowupMessageCreate"); err != nil {
		return nil, err
	}
	f.Followups = append(f.Followups, data.Content)
	return &discordgo.Message{Content: data.Content}, nil
}

func (f *FakeSession) InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("InteractionResponseEdit"); err != nil {
		return nil, err
	}
	content := ""
	if newresp.Content != nil {
		content = *newresp.Content
	}
	f.Followups = append(f.Followups, content)
	return &discordgo.Message{Content: content}, nil
}

func (f *FakeSession) RequestWithBucketID(method, urlStr string, data interface{}, bucketID string, options ...discordgo.RequestOption) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("RequestWithBucketID"); err != nil {
		return nil, err
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	f.Requests = append(f.Requests, RawRequest{Method: method, URL: urlStr, Body: body})
	return nil, nil
}

// FakePresence implements platform.Presence over a fixed user→channel map.
type FakePresence struct {
	mu     sync.Mutex
	States map[string]string // userID -> channelID
}

func NewFakePresence() *FakePresence {
	return &FakePresence{States: make(map[string]string)}
}

// Join places the user in the channel ("" removes them).
func (p *FakePresence) Join(userID, channelID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if channelID == "" {
		delete(p.States, userID)
		return
	}
	p.States[userID] = channelID
}

func (p *FakePresence) VoiceStates(guildID string) []*discordgo.VoiceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*discordgo.VoiceState
	for u, c := range p.States {
		out = append(out, &discordgo.VoiceState{GuildID: guildID, UserID: u, ChannelID: c})
	}
	return out
}

// FakeMembers implements the store.MemberChecker shape over a fixed set.
type FakeMembers map[string]bool

func (m FakeMembers) IsMember(_ context.Context, userID string) bool { return m[userID] }
