package session

import (
	"maps"

	"github.com/walteh/livetmpl/pkg/choice"
	"github.com/walteh/livetmpl/pkg/postprocess"
)

// VariableProcessor vets the value of the focused variable before each recomputation.
// Returning false finishes the session.
type VariableProcessor func(name, value string) bool

type options struct {
	provider          choice.Provider
	processors        []postprocess.Processor
	settings          postprocess.Settings
	predefined        map[string]string
	properties        map[string]string
	variableProcessor VariableProcessor
	advanceOnChoice   bool
	capFactor         int
	listeners         []Listener
}

func defaultOptions() options {
	return options{
		provider:        choice.First{},
		processors:      []postprocess.Processor{postprocess.Reformat{}, postprocess.Indent{}},
		settings:        postprocess.DefaultSettings(),
		predefined:      map[string]string{},
		properties:      map[string]string{},
		advanceOnChoice: true,
		capFactor:       3,
	}
}

type Option func(*options)

// WithChoiceProvider sets who answers multi-candidate choices. The default picks the
// preselected candidate.
func WithChoiceProvider(p choice.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithProcessors replaces the post processors run over the templated range.
func WithProcessors(p ...postprocess.Processor) Option {
	return func(o *options) { o.processors = p }
}

func WithSettings(s postprocess.Settings) Option {
	return func(o *options) { o.settings = s }
}

// WithPredefined supplies variable values known before the expansion starts. A predefined
// variable ignores its always-stop flag and only becomes a tab stop when its expression
// yields nothing. Once edited at its tab stop, the buffer text replaces the predefined value.
func WithPredefined(values map[string]string) Option {
	return func(o *options) { maps.Copy(o.predefined, values) }
}

// WithProperties adds entries to the property bag visible to expressions.
func WithProperties(props map[string]string) Option {
	return func(o *options) { maps.Copy(o.properties, props) }
}

func WithVariableProcessor(p VariableProcessor) Option {
	return func(o *options) { o.variableProcessor = p }
}

// WithAdvanceOnChoice controls whether resolving a choice moves on to the next tab stop.
func WithAdvanceOnChoice(advance bool) Option {
	return func(o *options) { o.advanceOnChoice = advance }
}

// WithRecomputeCap sets the recomputation budget to (variables+1)*factor sweeps.
func WithRecomputeCap(factor int) Option {
	return func(o *options) {
		if factor > 0 {
			o.capFactor = factor
		}
	}
}

func WithListener(l Listener) Option {
	return func(o *options) { o.listeners = append(o.listeners, l) }
}
