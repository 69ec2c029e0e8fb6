// Package planner turns a user utterance into a validated Plan by asking
// the LLM gateway for a structured JSON object. The planner is the only
// component that trusts the model: everything downstream operates on
// validated plans and never revalidates.
package planner

import (
	"context"
	"fmt"

	"github.com/voicepilot/voicepilot/pkg/models"
)

// InvalidPlanError means the model's output does not match the plan schema.
type InvalidPlanError struct {
	Reason string
}

func (e *InvalidPlanError) Error() string {
	return "invalid plan from model: " + e.Reason
}

// EmptyPlanError means the plan validated but contains zero steps.
type EmptyPlanError struct{}

func (e *EmptyPlanError) Error() string {
	return "plan contains no steps"
}

// PlanSource produces the raw plan object; satisfied by *llm.Client.
type PlanSource interface {
	GetPlanJSON(ctx context.Context, userMessage string) (map[string]interface{}, error)
}

// Planner validates model output into Plans.
type Planner struct {
	llm PlanSource
}

// New creates a planner on top of an LLM gateway.
func New(source PlanSource) *Planner {
	return &Planner{llm: source}
}

// BuildPlan requests a plan for the user message and validates it.
func (p *Planner) BuildPlan(ctx context.Context, userMessage string) (*models.Plan, error) {
	raw, err := p.llm.GetPlanJSON(ctx, userMessage)
	if err != nil {
		return nil, fmt.Errorf("request plan: %w", err)
	}

	plan, err := validatePlan(raw)
	if err != nil {
		return nil, err
	}
	if len(plan.Steps) == 0 {
		return nil, &EmptyPlanError{}
	}
	return plan, nil
}

// validatePlan checks the raw object against the plan schema:
//
//	{"goal": string,
//	 "steps": [{"tool": string, "args": object, "needs_ok": bool, "ok_prompt": string|null}, ...]}
//
// goal and tool are required; args defaults to {}, needs_ok to false and
// ok_prompt to null when omitted.
func validatePlan(raw map[string]interface{}) (*models.Plan, error) {
	goalVal, ok := raw["goal"]
	if !ok {
		return nil, &InvalidPlanError{Reason: `missing required field "goal"`}
	}
	goal, ok := goalVal.(string)
	if !ok {
		return nil, &InvalidPlanError{Reason: `field "goal" must be a string`}
	}

	stepsVal, ok := raw["steps"]
	if !ok {
		return nil, &InvalidPlanError{Reason: `missing required field "steps"`}
	}
	rawSteps, ok := stepsVal.([]interface{})
	if !ok {
		return nil, &InvalidPlanError{Reason: `field "steps" must be an array`}
	}

	plan := &models.Plan{Goal: goal, Steps: make([]models.PlanStep, 0, len(rawSteps))}
	for i, rs := range rawSteps {
		stepObj, ok := rs.(map[string]interface{})
		if !ok {
			return nil, &InvalidPlanError{Reason: fmt.Sprintf("step %d must be an object", i)}
		}
		step, err := validateStep(i, stepObj)
		if err != nil {
			return nil, err
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan, nil
}

func validateStep(i int, obj map[string]interface{}) (models.PlanStep, error) {
	var step models.PlanStep

	toolVal, ok := obj["tool"]
	if !ok {
		return step, &InvalidPlanError{Reason: fmt.Sprintf(`step %d: missing required field "tool"`, i)}
	}
	tool, ok := toolVal.(string)
	if !ok || tool == "" {
		return step, &InvalidPlanError{Reason: fmt.Sprintf(`step %d: field "tool" must be a non-empty string`, i)}
	}
	step.Tool = tool

	step.Args = map[string]interface{}{}
	if argsVal, present := obj["args"]; present && argsVal != nil {
		args, ok := argsVal.(map[string]interface{})
		if !ok {
			return step, &InvalidPlanError{Reason: fmt.Sprintf(`step %d: field "args" must be an object`, i)}
		}
		step.Args = args
	}

	if okVal, present := obj["needs_ok"]; present && okVal != nil {
		needsOK, ok := okVal.(bool)
		if !ok {
			return step, &InvalidPlanError{Reason: fmt.Sprintf(`step %d: field "needs_ok" must be a boolean`, i)}
		}
		step.NeedsOK = needsOK
	}

	if promptVal, present := obj["ok_prompt"]; present && promptVal != nil {
		prompt, ok := promptVal.(string)
		if !ok {
			return step, &InvalidPlanError{Reason: fmt.Sprintf(`step %d: field "ok_prompt" must be a string or null`, i)}
		}
		step.OKPrompt = &prompt
	}

	return step, nil
}
