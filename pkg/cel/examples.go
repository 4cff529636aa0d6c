package cel

// RuleExamples lists outbound rule expressions accepted by channels.rules.
var RuleExamples = map[string]string{
	"text_not_empty":     `text != ""`,
	"sms_length":         `size(text) <= 1600`,
	"slack_channel_id":   `to.startsWith("slack:C") || to.startsWith("slack:D")`,
	"telegram_chat_id":   `to.matches("^telegram:-?[0-9]+$")`,
	"has_subject":        `has(metadata.subject) && metadata.subject != ""`,
	"no_links":           `!text.contains("http://")`,
	"business_hours":     `timestamp.getHours("UTC") >= 8 && timestamp.getHours("UTC") < 20`,
	"outbound_only":      `direction == "out"`,
	"reply_requires_ctx": `!has(metadata.in_reply_to) || metadata.in_reply_to != ""`,
	"discord_short":      `channel != "discord" || size(text) <= 2000`,
}
