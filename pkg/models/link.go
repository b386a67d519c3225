package models

import "time"

// MemberLink is the link state between a person and a Slack user. It is one of
// MemberUnlinked, MemberInvited or MemberLinked. A nil MemberLink means unlinked.
type MemberLink interface {
	isMemberLink()
}

// MemberUnlinked means no Slack account is known for the person.
type MemberUnlinked struct{}

// MemberInvited means an invite was sent but the workspace has not materialised
// an account id yet. The person is never invited twice.
type MemberInvited struct {
	InvitedAt time.Time `json:"invited_at"`
}

// MemberLinked holds the durable Slack user id for the person.
type MemberLinked struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

func (MemberUnlinked) isMemberLink() {}
func (MemberInvited) isMemberLink()  {}
func (MemberLinked) isMemberLink()   {}

// SlackUserID returns the linked Slack user id, or "" when the person is not linked.
func (p *Person) SlackUserID() string {
	if l, ok := p.Link.(MemberLinked); ok {
		return l.UserID
	}
	return ""
}

// ChannelLink is the link state between a team and a Slack channel. It is one of
// ChannelUnlinked or ChannelLinked. A nil ChannelLink means unlinked.
type ChannelLink interface {
	isChannelLink()
}

// ChannelUnlinked means the team has no channel yet.
type ChannelUnlinked struct{}

// ChannelLinked holds the channel id together with the name and topic last
// written to Slack, so unchanged values are never written again.
type ChannelLinked struct {
	ChannelID   string `json:"channel_id"`
	SyncedName  string `json:"synced_name"`
	SyncedTopic string `json:"synced_topic"`
	Archived    bool   `json:"archived"`
}

func (ChannelUnlinked) isChannelLink() {}
func (ChannelLinked) isChannelLink()   {}

// SlackChannelID returns the linked channel id, or "" when the team has no channel.
func (t *Team) SlackChannelID() string {
	if l, ok := t.Link.(ChannelLinked); ok {
		return l.ChannelID
	}
	return ""
}
