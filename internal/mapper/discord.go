package mapper

import (
	"encoding/json"

	"github.com/bwmarrin/discordgo"

	"omni/pkg/models"
)

const MetaGuildID = "guild_id"

// Discord maps message-create events forwarded by a gateway bridge.
type Discord struct {
	base
}

func NewDiscord(coercer *models.Coercer) *Discord {
	return &Discord{base: newBase(models.ChannelDiscord, coercer)}
}

func (d *Discord) Normalize(payload []byte) (models.Envelope, error) {
	var msg discordgo.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return models.Envelope{}, d.malformed("payload is not a message: %v", err)
	}

	if msg.Author == nil || msg.Author.ID == "" {
		return models.Envelope{}, d.malformed("message has no author")
	}
	if msg.Author.Bot {
		return models.Envelope{}, ErrIgnored
	}
	if msg.ChannelID == "" {
		return models.Envelope{}, d.malformed("message has no channel_id")
	}

	name := msg.Author.GlobalName
	if name == "" {
		name = msg.Author.Username
	}

	eb := d.inbound().
		From(d.qualify(msg.Author.ID)).
		To(d.qualify(msg.ChannelID)).
		Text(msg.Content).
		Timestamp(msg.Timestamp).
		Meta(models.MetaSourceMessageID, optional(msg.ID)).
		Meta(models.MetaDisplayName, optional(name)).
		Meta(MetaGuildID, optional(msg.GuildID))

	if msg.MessageReference != nil {
		eb.Meta(models.MetaInReplyTo, optional(msg.MessageReference.MessageID))
	}
	return d.coerce(eb)
}

func (d *Discord) Render(env models.Envelope) (SendRequest, error) {
	if err := d.checkOutbound(env); err != nil {
		return SendRequest{}, err
	}

	channelID := models.Address(d.channel, env.To.ID)
	send := discordgo.MessageSend{Content: env.Text}
	if id := replyTo(env); id != "" {
		send.Reference = &discordgo.MessageReference{MessageID: id, ChannelID: channelID}
	}
	return d.jsonRequest("/channels/"+channelID+"/messages", send)
}
