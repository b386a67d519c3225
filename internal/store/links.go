package store

import (
	"time"

	"github.com/kiranshivaraju/eventsync/pkg/models"
)

// memberColumns is the nullable column projection of a MemberLink.
type memberColumns struct {
	UserID    *string
	Username  *string
	InvitedAt *time.Time
}

func memberLinkFromColumns(c memberColumns) models.MemberLink {
	switch {
	case c.UserID != nil && *c.UserID != "":
		l := models.MemberLinked{UserID: *c.UserID}
		if c.Username != nil {
			l.Username = *c.Username
		}
		return l
	case c.InvitedAt != nil:
		return models.MemberInvited{InvitedAt: c.InvitedAt.UTC()}
	default:
		return models.MemberUnlinked{}
	}
}

func memberLinkToColumns(link models.MemberLink) memberColumns {
	switch l := link.(type) {
	case models.MemberLinked:
		c := memberColumns{UserID: &l.UserID}
		if l.Username != "" {
			c.Username = &l.Username
		}
		return c
	case models.MemberInvited:
		return memberColumns{InvitedAt: &l.InvitedAt}
	default:
		return memberColumns{}
	}
}

// channelColumns is the column projection of a ChannelLink.
type channelColumns struct {
	ChannelID *string
	Name      *string
	Topic     *string
	Archived  bool
}

func channelLinkFromColumns(c channelColumns) models.ChannelLink {
	if c.ChannelID == nil || *c.ChannelID == "" {
		return models.ChannelUnlinked{}
	}
	l := models.ChannelLinked{ChannelID: *c.ChannelID, Archived: c.Archived}
	if c.Name != nil {
		l.SyncedName = *c.Name
	}
	if c.Topic != nil {
		l.SyncedTopic = *c.Topic
	}
	return l
}

func channelLinkToColumns(link models.ChannelLink) channelColumns {
	l, ok := link.(models.ChannelLinked)
	if !ok {
		return channelColumns{}
	}
	return channelColumns{
		ChannelID: &l.ChannelID,
		Name:      &l.SyncedName,
		Topic:     &l.SyncedTopic,
		Archived:  l.Archived,
	}
}
