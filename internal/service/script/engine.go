package script

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/collections-call-engine/internal/domain/errors"
	"github.com/davidleathers/collections-call-engine/internal/domain/script"
)

var placeholderPattern = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)

// MissingVariableReporter is notified of placeholders that had no binding.
// Missing variables are deliberately non-fatal: the placeholder is spoken
// verbatim rather than failing the call.
type MissingVariableReporter interface {
	ReportMissing(scriptName, variable string)
}

// MenuResult describes what a key press produced: markup to play and,
// when the action is terminal, which side effect the caller must trigger.
type MenuResult struct {
	Markup      string
	Action      script.MenuAction
	ActionValue string
	EndsCall    bool
}

// Engine renders phone scripts into provider markup.
type Engine struct {
	scripts       map[string]*script.PhoneScript
	gatherTimeout time.Duration
	ringTimeout   time.Duration
	reporter      MissingVariableReporter
	logger        *zap.Logger
}

func NewEngine(scripts map[string]*script.PhoneScript, gatherTimeout, ringTimeout time.Duration, reporter MissingVariableReporter, logger *zap.Logger) *Engine {
	return &Engine{
		scripts:       scripts,
		gatherTimeout: gatherTimeout,
		ringTimeout:   ringTimeout,
		reporter:      reporter,
		logger:        logger,
	}
}

// Script looks a script up by name.
func (e *Engine) Script(name string) (*script.PhoneScript, error) {
	s, ok := e.scripts[name]
	if !ok {
		// Copy the sentinel so callers can attach details without
		// mutating the shared value.
		scErr := *errors.ErrScriptNotFound
		return nil, scErr.WithDetails(map[string]interface{}{"script": name})
	}
	return s, nil
}

// Render produces the initial call markup: greeting, pause, main message,
// then the key-press menu if the script defines one, and finally the
// fallback message reached when no key is pressed.
func (e *Engine) Render(s *script.PhoneScript, variables map[string]string) (string, error) {
	resp := &Response{}
	resp.Append(
		Say{Text: e.substitute(s, s.Greeting, variables)},
		Pause{Length: 1},
		Say{Text: e.substitute(s, s.MainMessage, variables)},
	)

	if len(s.MenuOptions) > 0 {
		resp.Append(Gather{
			NumDigits: 1,
			Timeout:   int(e.gatherTimeout.Seconds()),
			Verbs:     []interface{}{Say{Text: e.menuPrompt(s, variables)}},
		})
	}

	resp.Append(Say{Text: e.substitute(s, s.FallbackMessage, variables)})

	return resp.Render()
}

// MenuResponse produces the markup answering a pressed key. Unknown keys
// repeat the menu rather than ending the call.
func (e *Engine) MenuResponse(s *script.PhoneScript, pressedKey string, variables map[string]string) (*MenuResult, error) {
	opt, ok := s.Option(pressedKey)
	if !ok {
		markup, err := e.repeatMenu(s, variables)
		if err != nil {
			return nil, err
		}
		return &MenuResult{Markup: markup, Action: script.ActionRepeat}, nil
	}

	switch opt.Action {
	case script.ActionRepeat:
		markup, err := e.repeatMenu(s, variables)
		if err != nil {
			return nil, err
		}
		return &MenuResult{Markup: markup, Action: script.ActionRepeat}, nil

	case script.ActionTransfer:
		resp := &Response{}
		resp.Append(
			Say{Text: "Please hold while I transfer you to a representative."},
			Dial{Timeout: int(e.ringTimeout.Seconds()), Number: s.TransferNumber(opt)},
			Say{Text: "I'm sorry, no one is available to take your call right now. Please try again later."},
		)
		markup, err := resp.Render()
		if err != nil {
			return nil, err
		}
		return &MenuResult{Markup: markup, Action: script.ActionTransfer, ActionValue: s.TransferNumber(opt)}, nil

	case script.ActionScheduleCallback:
		markup, err := terminalMessage("A callback has been scheduled. We will contact you again soon. Goodbye.")
		if err != nil {
			return nil, err
		}
		return &MenuResult{Markup: markup, Action: script.ActionScheduleCallback, ActionValue: opt.ActionValue, EndsCall: opt.Action.EndsCall()}, nil

	case script.ActionEscalate:
		markup, err := terminalMessage("Your request has been escalated to a specialist who will contact you shortly. Goodbye.")
		if err != nil {
			return nil, err
		}
		return &MenuResult{Markup: markup, Action: script.ActionEscalate, ActionValue: opt.ActionValue, EndsCall: opt.Action.EndsCall()}, nil

	case script.ActionTerminate:
		closing := s.ClosingMessage
		if opt.ActionValue != "" {
			// Outcome-specific closing line, e.g. payment confirmation.
			closing = opt.ActionValue
		}
		if closing == "" {
			closing = "Thank you for your time. Goodbye."
		}
		markup, err := terminalMessage(e.substitute(s, closing, variables))
		if err != nil {
			return nil, err
		}
		return &MenuResult{Markup: markup, Action: script.ActionTerminate, EndsCall: opt.Action.EndsCall()}, nil

	default:
		return nil, fmt.Errorf("unhandled menu action %q", opt.Action)
	}
}

// repeatMenu regenerates the options prompt prefaced by a repeat line.
func (e *Engine) repeatMenu(s *script.PhoneScript, variables map[string]string) (string, error) {
	resp := &Response{}
	resp.Append(
		Say{Text: "Let me repeat your options."},
		Gather{
			NumDigits: 1,
			Timeout:   int(e.gatherTimeout.Seconds()),
			Verbs:     []interface{}{Say{Text: e.menuPrompt(s, variables)}},
		},
		Say{Text: e.substitute(s, s.FallbackMessage, variables)},
	)
	return resp.Render()
}

func terminalMessage(text string) (string, error) {
	resp := &Response{}
	resp.Append(Say{Text: text}, Hangup{})
	return resp.Render()
}

// menuPrompt concatenates all option prompts in declaration order.
func (e *Engine) menuPrompt(s *script.PhoneScript, variables map[string]string) string {
	prompts := make([]string, 0, len(s.MenuOptions))
	for _, opt := range s.MenuOptions {
		prompts = append(prompts, e.substitute(s, opt.Prompt, variables))
	}
	return strings.Join(prompts, " ")
}

// substitute replaces {{name}} placeholders. Unresolved placeholders stay
// verbatim and are reported, never treated as errors.
func (e *Engine) substitute(s *script.PhoneScript, text string, variables map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if value, ok := variables[name]; ok {
			return value
		}
		if e.reporter != nil {
			e.reporter.ReportMissing(s.Name, name)
		}
		e.logger.Warn("unresolved script variable",
			zap.String("script", s.Name),
			zap.String("variable", name))
		return match
	})
}
