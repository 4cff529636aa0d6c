package mapper

import (
	"encoding/json"
	"fmt"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"omni/pkg/models"
)

const (
	MetaTeamID  = "team_id"
	MetaEventID = "event_id"
)

// Slack maps Events API callbacks. Request signatures are checked by the
// gateway's bearer auth, so token verification is skipped here.
type Slack struct {
	base
}

func NewSlack(coercer *models.Coercer) *Slack {
	return &Slack{base: newBase(models.ChannelSlack, coercer)}
}

func (s *Slack) Normalize(payload []byte) (models.Envelope, error) {
	event, err := slackevents.ParseEvent(json.RawMessage(payload), slackevents.OptionNoVerifyToken())
	if err != nil {
		return models.Envelope{}, s.malformed("cannot parse event: %v", err)
	}

	switch event.Type {
	case slackevents.URLVerification:
		v, ok := event.Data.(*slackevents.EventsAPIURLVerificationEvent)
		if !ok || v.Challenge == "" {
			return models.Envelope{}, s.malformed("url verification without challenge")
		}
		return models.Envelope{}, &Challenge{Channel: s.channel, Value: v.Challenge}
	case slackevents.CallbackEvent:
	default:
		return models.Envelope{}, s.malformed("unsupported event type %q", event.Type)
	}

	var eventID string
	if cb, ok := event.Data.(*slackevents.EventsAPICallbackEvent); ok {
		eventID = cb.EventID
	}

	var user, channel, text, ts, threadTS, botID, subType string
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		user, channel, text, ts, threadTS = ev.User, ev.Channel, ev.Text, ev.TimeStamp, ev.ThreadTimeStamp
		botID, subType = ev.BotID, ev.SubType
	case *slackevents.AppMentionEvent:
		user, channel, text, ts, threadTS = ev.User, ev.Channel, ev.Text, ev.TimeStamp, ev.ThreadTimeStamp
		botID = ev.BotID
	default:
		return models.Envelope{}, s.malformed("unsupported inner event %q", event.InnerEvent.Type)
	}

	if botID != "" || (subType != "" && subType != "file_share") {
		return models.Envelope{}, fmt.Errorf("slack %s message: %w", subTypeOr(subType, "bot"), ErrIgnored)
	}
	if user == "" {
		return models.Envelope{}, s.malformed("message has no user")
	}
	if channel == "" {
		return models.Envelope{}, s.malformed("message has no channel")
	}

	return s.coerce(s.inbound().
		From(s.qualify(user)).
		To(s.qualify(channel)).
		Text(text).
		Timestamp(unixSeconds(ts)).
		Meta(models.MetaSourceMessageID, optional(ts)).
		Meta(models.MetaThreadID, optional(threadTS)).
		Meta(MetaTeamID, optional(event.TeamID)).
		Meta(MetaEventID, optional(eventID)))
}

func subTypeOr(subType, fallback string) string {
	if subType == "" {
		return fallback
	}
	return subType
}

// Render produces a chat.postMessage body. Replies stay in the thread of
// the message they answer.
func (s *Slack) Render(env models.Envelope) (SendRequest, error) {
	if err := s.checkOutbound(env); err != nil {
		return SendRequest{}, err
	}

	msg := slack.Msg{
		Channel: models.Address(s.channel, env.To.ID),
		Text:    env.Text,
	}
	if thread, ok := env.Metadata.GetString(models.MetaThreadID); ok && thread != "" {
		msg.ThreadTimestamp = thread
	} else if id := replyTo(env); id != "" {
		msg.ThreadTimestamp = id
	}
	return s.jsonRequest("/chat.postMessage", msg)
}
