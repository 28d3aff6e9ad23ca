package restbucket

import (
	"net/http"
	"time"
)

// Well-known routes of the REST API. Routes with a major parameter are
// rate limited per channel, guild or webhook.
var (
	Gateway    = &Endpoint{Name: "gateway", Route: "/gateway", MajorParam: NoMajorParam}
	GatewayBot = &Endpoint{Name: "gateway-bot", Route: "/gateway/bot", MajorParam: NoMajorParam}

	ChannelMessages = &Endpoint{Name: "channel-messages", Route: "/channels/%s/messages", MajorParam: 0}
	// MessageDelete shares its route with ChannelMessages but has its own bucket.
	MessageDelete      = &Endpoint{Name: "message-delete", Route: "/channels/%s/messages", Method: http.MethodDelete, MajorParam: 0}
	MessagesBulkDelete = &Endpoint{Name: "messages-bulk-delete", Route: "/channels/%s/messages/bulk-delete", MajorParam: 0}
	ChannelTyping      = &Endpoint{Name: "channel-typing", Route: "/channels/%s/typing", MajorParam: 0}
	ChannelInvites     = &Endpoint{Name: "channel-invites", Route: "/channels/%s/invites", MajorParam: 0}
	ChannelPins        = &Endpoint{Name: "channel-pins", Route: "/channels/%s/pins", MajorParam: 0}
	ChannelWebhooks    = &Endpoint{Name: "channel-webhooks", Route: "/channels/%s/webhooks", MajorParam: 0}
	Channel            = &Endpoint{Name: "channel", Route: "/channels/%s", MajorParam: 0}

	// Reactions report no usable reset, so a fixed 250ms window is applied.
	Reaction = &Endpoint{Name: "reaction", Route: "/channels/%s/messages/%s/reactions", MajorParam: 0, FixedWindow: 250 * time.Millisecond}

	User        = &Endpoint{Name: "user", Route: "/users/%s", MajorParam: NoMajorParam}
	CurrentUser = &Endpoint{Name: "current-user", Route: "/users/@me", MajorParam: NoMajorParam}
	UserChannel = &Endpoint{Name: "user-channel", Route: "/users/@me/channels", MajorParam: NoMajorParam}

	Guild             = &Endpoint{Name: "guild", Route: "/guilds", MajorParam: NoMajorParam}
	GuildChannels     = &Endpoint{Name: "guild-channels", Route: "/guilds/%s/channels", MajorParam: 0}
	GuildRoles        = &Endpoint{Name: "guild-roles", Route: "/guilds/%s/roles", MajorParam: 0}
	GuildMember       = &Endpoint{Name: "guild-member", Route: "/guilds/%s/members/%s", MajorParam: 0}
	GuildMemberRole   = &Endpoint{Name: "guild-member-role", Route: "/guilds/%s/members/%s/roles/%s", MajorParam: 0}
	GuildBans         = &Endpoint{Name: "guild-bans", Route: "/guilds/%s/bans", MajorParam: 0}
	GuildEmojis       = &Endpoint{Name: "guild-emojis", Route: "/guilds/%s/emojis", MajorParam: 0}
	GuildAuditLog     = &Endpoint{Name: "guild-audit-log", Route: "/guilds/%s/audit-logs", MajorParam: 0}
	GuildWebhooks     = &Endpoint{Name: "guild-webhooks", Route: "/guilds/%s/webhooks", MajorParam: 0}
	OwnNickname       = &Endpoint{Name: "own-nickname", Route: "/guilds/%s/members/@me/nick", MajorParam: 0}
	GuildActiveThread = &Endpoint{Name: "guild-active-threads", Route: "/guilds/%s/threads/active", MajorParam: 0}

	Webhook        = &Endpoint{Name: "webhook", Route: "/webhooks/%s", MajorParam: 0}
	WebhookExecute = &Endpoint{Name: "webhook-execute", Route: "/webhooks/%s/%s", MajorParam: 0}
	WebhookMessage = &Endpoint{Name: "webhook-message", Route: "/webhooks/%s/%s/messages/%s", MajorParam: 0}

	Invite = &Endpoint{Name: "invite", Route: "/invites/%s", MajorParam: NoMajorParam}

	InteractionResponse = &Endpoint{Name: "interaction-response", Route: "/interactions/%s/%s/callback", MajorParam: NoMajorParam}
	ApplicationCommands = &Endpoint{Name: "application-commands", Route: "/applications/%s/commands", MajorParam: NoMajorParam}
	GuildCommands       = &Endpoint{Name: "guild-commands", Route: "/applications/%s/guilds/%s/commands", MajorParam: 0}
)

// Endpoints returns the well-known endpoints in declaration order.
func Endpoints() []*Endpoint {
	return []*Endpoint{
		Gateway, GatewayBot,
		ChannelMessages, MessageDelete, MessagesBulkDelete, ChannelTyping,
		ChannelInvites, ChannelPins, ChannelWebhooks, Channel, Reaction,
		User, CurrentUser, UserChannel,
		Guild, GuildChannels, GuildRoles, GuildMember, GuildMemberRole,
		GuildBans, GuildEmojis, GuildAuditLog, GuildWebhooks, OwnNickname,
		GuildActiveThread,
		Webhook, WebhookExecute, WebhookMessage,
		Invite,
		InteractionResponse, ApplicationCommands, GuildCommands,
	}
}
