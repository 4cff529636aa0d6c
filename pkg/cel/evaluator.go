package cel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"omni/pkg/models"
)

// Rule is a boolean CEL expression over an envelope. The rule passes when the
// expression evaluates to true.
type Rule struct {
	Name       string `mapstructure:"name" json:"name"`
	Expression string `mapstructure:"expression" json:"expression"`
	Field      string `mapstructure:"field" json:"field"`
	Message    string `mapstructure:"message" json:"message"`
}

type Evaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("direction", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("from", cel.StringType),
		cel.Variable("to", cel.StringType),
		cel.Variable("text", cel.StringType),
		cel.Variable("timestamp", cel.TimestampType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	return nil
}

func (e *Evaluator) ValidateRuleExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("rule expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

func (e *Evaluator) Evaluate(ctx context.Context, expression string, env models.Envelope) (bool, error) {
	program, err := e.program(expression)
	if err != nil {
		return false, err
	}

	result, _, err := program.ContextEval(ctx, Vars(env))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

// Predicate compiles rule up front and returns it as an outbound channel check.
func (e *Evaluator) Predicate(rule Rule) (models.Predicate, error) {
	if _, err := e.program(rule.Expression); err != nil {
		return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
	}

	field := rule.Field
	if field == "" {
		field = "envelope"
	}
	message := rule.Message
	if message == "" {
		message = fmt.Sprintf("rule %q not satisfied", rule.Name)
	}

	return func(env models.Envelope) error {
		ok, err := e.Evaluate(context.Background(), rule.Expression, env)
		if err != nil {
			return &models.ValidationError{Field: field, Message: err.Error()}
		}
		if !ok {
			return &models.ValidationError{Field: field, Message: message}
		}
		return nil
	}, nil
}

// Attach compiles every rule and appends it to the channel's outbound checks.
func (e *Evaluator) Attach(set *models.ChannelSet, rules map[string][]Rule) error {
	for ch, list := range rules {
		for _, rule := range list {
			pred, err := e.Predicate(rule)
			if err != nil {
				return fmt.Errorf("channel %s: %w", ch, err)
			}
			if err := set.AddOutboundRule(models.Channel(ch), pred); err != nil {
				return err
			}
		}
	}
	return nil
}

// Vars exposes an envelope to CEL. Party ids are flattened to strings.
func Vars(env models.Envelope) map[string]interface{} {
	return map[string]interface{}{
		"direction": string(env.Direction),
		"channel":   string(env.Channel),
		"from":      env.From.ID,
		"to":        env.To.ID,
		"text":      env.Text,
		"timestamp": env.Timestamp,
		"metadata":  env.Metadata.ToMap(),
	}
}

func (e *Evaluator) program(expression string) (cel.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := e.CompileExpression(expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.programs[expression] = program
	e.mu.Unlock()
	return program, nil
}

func (e *Evaluator) CompileExpression(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return program, nil
}
