// Package slacktest provides an in-memory Slack workspace implementing
// slack.Client for tests.
package slacktest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/eventsync/internal/slack"
	"github.com/kiranshivaraju/eventsync/pkg/models"
)

// Call is one recorded client invocation.
type Call struct {
	Method string
	Target string
	IDs    []string
}

// Channel is a channel in the fake workspace.
type Channel struct {
	ID       string
	Name     string
	Topic    string
	Archived bool
	Members  []string
}

var readMethods = map[string]bool{
	"FindUserByEmail":     true,
	"FindChannelByName":   true,
	"GetChannelMembers":   true,
	"GetUsergroupMembers": true,
}

// Fake is a stateful workspace. The zero value is not usable; call New.
type Fake struct {
	// PendingInvites makes InviteUser return a pending ref instead of creating
	// the account straight away.
	PendingInvites bool

	mu         sync.Mutex
	users      map[string]slack.UserRef
	channels   map[string]*Channel
	usergroups map[string][]string
	failures   map[string]error
	panics     map[string]bool
	calls      []Call
	seq        int
}

// New creates an empty workspace.
func New() *Fake {
	return &Fake{
		users:      make(map[string]slack.UserRef),
		channels:   make(map[string]*Channel),
		usergroups: make(map[string][]string),
		failures:   make(map[string]error),
		panics:     make(map[string]bool),
	}
}

// ForTenant returns f for any tenant.
func (f *Fake) ForTenant(*models.Tenant) slack.Client { return f }

// AddUser registers an existing account.
func (f *Fake) AddUser(email, id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[strings.ToLower(email)] = slack.UserRef{ID: id, Name: name}
}

// AddChannel registers an existing channel and returns its id.
func (f *Fake) AddChannel(name string, members ...string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID("C")
	f.channels[id] = &Channel{ID: id, Name: name, Members: members}
	return id
}

// SetUsergroup replaces a usergroup's members.
func (f *Fake) SetUsergroup(id string, members ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usergroups[id] = append([]string(nil), members...)
}

// Usergroup returns a usergroup's members, sorted.
func (f *Fake) Usergroup(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.usergroups[id]...)
	sort.Strings(out)
	return out
}

// Channel returns a copy of the channel with the given id, or nil.
func (f *Fake) Channel(id string) *Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[id]
	if !ok {
		return nil
	}
	cp := *ch
	cp.Members = append([]string(nil), ch.Members...)
	sort.Strings(cp.Members)
	return &cp
}

// FailOn makes every call to method return err.
func (f *Fake) FailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = err
}

// FailOnTarget makes calls to method for one email, channel or group return err.
func (f *Fake) FailOnTarget(method, target string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method+"|"+target] = err
}

// PanicOn makes every call to method panic.
func (f *Fake) PanicOn(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panics[method] = true
}

// Calls returns every recorded call.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded calls to method.
func (f *Fake) CallsTo(method string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Mutations returns the recorded calls that change workspace state.
func (f *Fake) Mutations() []Call {
	var out []Call
	for _, c := range f.Calls() {
		if !readMethods[c.Method] {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls forgets recorded calls but keeps workspace state.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%04d", prefix, f.seq)
}

// record logs the call and returns the injected failure for method, if any.
// Callers hold f.mu.
func (f *Fake) record(method, target string, ids []string) error {
	f.calls = append(f.calls, Call{Method: method, Target: target, IDs: append([]string(nil), ids...)})
	if f.panics[method] {
		panic("slacktest: injected panic in " + method)
	}
	if err, ok := f.failures[method+"|"+target]; ok {
		return err
	}
	return f.failures[method]
}

func apiError(method, code string, kind slack.Kind) error {
	return &slack.APIError{Kind: kind, Method: method, Code: code, StatusCode: 200}
}

func (f *Fake) FindUserByEmail(_ context.Context, email string) (slack.UserRef, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("FindUserByEmail", email, nil); err != nil {
		return slack.UserRef{}, false, err
	}
	ref, ok := f.users[strings.ToLower(email)]
	return ref, ok, nil
}

func (f *Fake) InviteUser(_ context.Context, email string) (slack.UserRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("InviteUser", email, nil); err != nil {
		return slack.UserRef{}, err
	}
	if ref, ok := f.users[strings.ToLower(email)]; ok {
		return ref, nil
	}
	if f.PendingInvites {
		return slack.UserRef{}, nil
	}
	ref := slack.UserRef{ID: f.nextID("U"), Name: strings.SplitN(email, "@", 2)[0]}
	f.users[strings.ToLower(email)] = ref
	return ref, nil
}

func (f *Fake) CreateChannel(_ context.Context, name string) (slack.ChannelRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateChannel", name, nil); err != nil {
		return slack.ChannelRef{}, err
	}
	for _, ch := range f.channels {
		if ch.Name == name {
			return slack.ChannelRef{}, apiError("conversations.create", "name_taken", slack.KindConflict)
		}
	}
	id := f.nextID("C")
	f.channels[id] = &Channel{ID: id, Name: name}
	return slack.ChannelRef{ID: id, Name: name}, nil
}

func (f *Fake) FindChannelByName(_ context.Context, name string) (slack.ChannelRef, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("FindChannelByName", name, nil); err != nil {
		return slack.ChannelRef{}, false, err
	}
	for _, ch := range f.channels {
		if ch.Name == name && !ch.Archived {
			return slack.ChannelRef{ID: ch.ID, Name: ch.Name}, true, nil
		}
	}
	return slack.ChannelRef{}, false, nil
}

func (f *Fake) channel(method, id string) (*Channel, error) {
	ch, ok := f.channels[id]
	if !ok {
		return nil, apiError(method, "channel_not_found", slack.KindNotFound)
	}
	return ch, nil
}

func (f *Fake) RenameChannel(_ context.Context, channelID, name string) (slack.ChannelRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RenameChannel", channelID, []string{name}); err != nil {
		return slack.ChannelRef{}, err
	}
	ch, err := f.channel("conversations.rename", channelID)
	if err != nil {
		return slack.ChannelRef{}, err
	}
	ch.Name = name
	return slack.ChannelRef{ID: ch.ID, Name: ch.Name}, nil
}

func (f *Fake) ArchiveChannel(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ArchiveChannel", channelID, nil); err != nil {
		return err
	}
	ch, err := f.channel("conversations.archive", channelID)
	if err != nil {
		return err
	}
	ch.Archived = true
	return nil
}

func (f *Fake) SetChannelTopic(_ context.Context, channelID, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetChannelTopic", channelID, []string{topic}); err != nil {
		return err
	}
	ch, err := f.channel("conversations.setTopic", channelID)
	if err != nil {
		return err
	}
	ch.Topic = topic
	return nil
}

func (f *Fake) InviteToChannel(_ context.Context, channelID string, userIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("InviteToChannel", channelID, userIDs); err != nil {
		return err
	}
	ch, err := f.channel("conversations.invite", channelID)
	if err != nil {
		return err
	}
	ch.Members = union(ch.Members, userIDs)
	return nil
}

func (f *Fake) RemoveFromChannel(_ context.Context, channelID string, userIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RemoveFromChannel", channelID, userIDs); err != nil {
		return err
	}
	ch, err := f.channel("conversations.kick", channelID)
	if err != nil {
		return err
	}
	ch.Members = subtract(ch.Members, userIDs)
	return nil
}

func (f *Fake) GetChannelMembers(_ context.Context, channelID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetChannelMembers", channelID, nil); err != nil {
		return nil, err
	}
	ch, err := f.channel("conversations.members", channelID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), ch.Members...), nil
}

func (f *Fake) usergroup(method, id string) ([]string, error) {
	members, ok := f.usergroups[id]
	if !ok {
		return nil, apiError(method, "no_such_subteam", slack.KindNotFound)
	}
	return members, nil
}

func (f *Fake) GetUsergroupMembers(_ context.Context, groupID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetUsergroupMembers", groupID, nil); err != nil {
		return nil, err
	}
	members, err := f.usergroup("usergroups.users.list", groupID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), members...), nil
}

func (f *Fake) AddUsergroupMembers(_ context.Context, groupID string, userIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AddUsergroupMembers", groupID, userIDs); err != nil {
		return err
	}
	members, err := f.usergroup("usergroups.users.update", groupID)
	if err != nil {
		return err
	}
	f.usergroups[groupID] = union(members, userIDs)
	return nil
}

func (f *Fake) RemoveUsergroupMembers(_ context.Context, groupID string, userIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RemoveUsergroupMembers", groupID, userIDs); err != nil {
		return err
	}
	members, err := f.usergroup("usergroups.users.update", groupID)
	if err != nil {
		return err
	}
	next := subtract(members, userIDs)
	if len(next) == 0 && len(members) > 0 {
		return &slack.APIError{
			Kind:   slack.KindInvalid,
			Method: "usergroups.users.update",
			Code:   "empty_usergroup",
			Err:    slack.ErrEmptyUsergroup,
		}
	}
	f.usergroups[groupID] = next
	return nil
}

func union(a, b []string) []string {
	out := append([]string(nil), a...)
	seen := make(map[string]bool, len(a))
	for _, id := range a {
		seen[id] = true
	}
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func subtract(a, b []string) []string {
	drop := make(map[string]bool, len(b))
	for _, id := range b {
		drop[id] = true
	}
	var out []string
	for _, id := range a {
		if !drop[id] {
			out = append(out, id)
		}
	}
	return out
}

// Workspaces hands out one Fake per tenant.
type Workspaces struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*Fake
}

// NewWorkspaces creates an empty set of workspaces.
func NewWorkspaces() *Workspaces {
	return &Workspaces{byID: make(map[uuid.UUID]*Fake)}
}

// Get returns the tenant's workspace, creating it on first use.
func (w *Workspaces) Get(tenantID uuid.UUID) *Fake {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, ok := w.byID[tenantID]
	if !ok {
		f = New()
		w.byID[tenantID] = f
	}
	return f
}

// ForTenant returns the tenant's workspace.
func (w *Workspaces) ForTenant(t *models.Tenant) slack.Client {
	return w.Get(t.ID)
}

var _ slack.Client = (*Fake)(nil)
