package script

import (
	"fmt"
)

// MenuAction is what a menu key press does.
type MenuAction string

const (
	ActionRepeat           MenuAction = "repeat"
	ActionTransfer         MenuAction = "transfer"
	ActionScheduleCallback MenuAction = "schedule_callback"
	ActionEscalate         MenuAction = "escalate"
	ActionTerminate        MenuAction = "terminate"
)

func (a MenuAction) Valid() bool {
	switch a {
	case ActionRepeat, ActionTransfer, ActionScheduleCallback, ActionEscalate, ActionTerminate:
		return true
	default:
		return false
	}
}

// EndsCall reports whether the action terminates the call after its message.
func (a MenuAction) EndsCall() bool {
	return a == ActionScheduleCallback || a == ActionEscalate || a == ActionTerminate
}

// MenuOption binds a single DTMF digit to an action.
// ActionValue carries per-action payload: the transfer number for transfer,
// an outcome-specific closing line for terminate.
type MenuOption struct {
	Key         string     `json:"key" koanf:"key"`
	Prompt      string     `json:"prompt" koanf:"prompt"`
	Action      MenuAction `json:"action" koanf:"action"`
	ActionValue string     `json:"action_value,omitempty" koanf:"action_value"`
}

// PhoneScript is an immutable IVR script template. Scripts are loaded once
// at startup and never mutated at runtime.
type PhoneScript struct {
	Name            string       `json:"name" koanf:"name"`
	Greeting        string       `json:"greeting" koanf:"greeting"`
	MainMessage     string       `json:"main_message" koanf:"main_message"`
	MenuOptions     []MenuOption `json:"menu_options,omitempty" koanf:"menu_options"`
	FallbackMessage string       `json:"fallback_message" koanf:"fallback_message"`
	TransferTarget  string       `json:"transfer_target,omitempty" koanf:"transfer_target"`
	ClosingMessage  string       `json:"closing_message,omitempty" koanf:"closing_message"`
}

func (s *PhoneScript) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("script name cannot be empty")
	}
	if s.Greeting == "" {
		return fmt.Errorf("script %s: greeting cannot be empty", s.Name)
	}
	if s.MainMessage == "" {
		return fmt.Errorf("script %s: main message cannot be empty", s.Name)
	}
	if s.FallbackMessage == "" {
		return fmt.Errorf("script %s: fallback message cannot be empty", s.Name)
	}
	seen := make(map[string]bool, len(s.MenuOptions))
	for i, opt := range s.MenuOptions {
		if len(opt.Key) != 1 || opt.Key[0] < '0' || opt.Key[0] > '9' {
			return fmt.Errorf("script %s: option %d key must be a single digit, got %q", s.Name, i, opt.Key)
		}
		if seen[opt.Key] {
			return fmt.Errorf("script %s: duplicate menu key %s", s.Name, opt.Key)
		}
		seen[opt.Key] = true
		if !opt.Action.Valid() {
			return fmt.Errorf("script %s: option %s has invalid action %q", s.Name, opt.Key, opt.Action)
		}
		if opt.Action == ActionTransfer && opt.ActionValue == "" && s.TransferTarget == "" {
			return fmt.Errorf("script %s: option %s transfers but no target is configured", s.Name, opt.Key)
		}
	}
	return nil
}

// Option returns the menu option bound to the pressed key, if any.
func (s *PhoneScript) Option(key string) (*MenuOption, bool) {
	for i := range s.MenuOptions {
		if s.MenuOptions[i].Key == key {
			return &s.MenuOptions[i], true
		}
	}
	return nil, false
}

// TransferNumber resolves the dial target for a transfer option, preferring
// the option-level value over the script default.
func (s *PhoneScript) TransferNumber(opt *MenuOption) string {
	if opt != nil && opt.ActionValue != "" {
		return opt.ActionValue
	}
	return s.TransferTarget
}
