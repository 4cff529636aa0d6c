package cel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni/pkg/errors"
	"omni/pkg/models"
)

func outboundEnvelope() models.Envelope {
	return models.Envelope{
		Direction: models.DirectionOutbound,
		Channel:   models.ChannelSMS,
		From:      models.Party{ID: "sms:+15550000000"},
		To:        models.Party{ID: "sms:+15557654321"},
		Text:      "Your code is 1234",
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Metadata:  models.Metadata{"subject": models.String("otp")},
	}
}

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.NotNil(t, eval)
}

func TestRuleExamplesCompile(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	for name, expr := range RuleExamples {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, eval.ValidateRuleExpression(expr))
		})
	}
}

func TestValidateRuleExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{name: "valid bool expression", expr: `channel == "sms"`},
		{name: "non-bool expression", expr: `size(text)`, wantError: true},
		{name: "invalid syntax", expr: `text ==`, wantError: true},
		{name: "undefined variable", expr: `payload.status == "active"`, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateRuleExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvaluate(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{name: "text length", expr: RuleExamples["sms_length"], want: true},
		{name: "metadata lookup", expr: RuleExamples["has_subject"], want: true},
		{name: "timestamp hours", expr: RuleExamples["business_hours"], want: true},
		{name: "recipient prefix", expr: `to.startsWith("sms:+1")`, want: true},
		{name: "direction", expr: `direction == "in"`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.Evaluate(context.Background(), tt.expr, outboundEnvelope())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPredicate(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	pred, err := eval.Predicate(Rule{
		Name:       "short",
		Expression: `size(text) <= 5`,
		Field:      "text",
		Message:    "too long for this channel",
	})
	require.NoError(t, err)

	err = pred(outboundEnvelope())
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "text", verr.Field)
	assert.Equal(t, "too long for this channel", verr.Message)

	_, err = eval.Predicate(Rule{Name: "broken", Expression: `text`})
	assert.Error(t, err)
}

func TestAttachRejectsOutbound(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	set := models.DefaultChannels()
	err = eval.Attach(set, map[string][]Rule{
		"web": {{Name: "no_links", Expression: RuleExamples["no_links"], Field: "text"}},
	})
	require.NoError(t, err)

	coercer := models.NewCoercer(set)
	_, err = coercer.CoerceOutboundMap(map[string]interface{}{
		"channel": "web",
		"to":      map[string]interface{}{"id": "web:session-1"},
		"text":    "see http://example.com",
	})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindOutboundInvalid))

	_, err = coercer.CoerceOutboundMap(map[string]interface{}{
		"channel": "web",
		"to":      map[string]interface{}{"id": "web:session-1"},
		"text":    "plain text",
	})
	assert.NoError(t, err)
}

func TestAttachUnknownChannel(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	err = eval.Attach(models.DefaultChannels(), map[string][]Rule{
		"fax": {{Name: "any", Expression: `true`}},
	})
	assert.Error(t, err)
}
