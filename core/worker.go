package core

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	gobsargs "github.com/gobs/args"

	"github.com/netresearch/fleetagent/core/domain"
	"github.com/netresearch/fleetagent/core/ports"
)

// reservedReloadModules is the one function name the dispatcher intercepts
// instead of forwarding to the registry: it triggers a registry refresh
// and is otherwise never executed as a normal job.
const reservedReloadModules = "sys.reload_modules"

// worker runs a single (fun, arg) invocation for one job id and produces
// the JobResult the dispatcher hands to the controller channel.
type worker struct {
	registry ports.FunctionRegistry
	reload   func()
	logger   Logger
	agentID  string
	emit     func(event string, payload any) // progress/event emission hook
}

// invoke resolves fun, parses args/kwargs per the argument-parsing rule,
// and runs it. jid/index identify the job for progress-event tagging.
func (w *worker) invoke(ctx context.Context, jid string, index int, fun string, rawArgs []string, kwarg map[string]any, raw map[string]any) (any, error) {
	if fun == reservedReloadModules {
		if w.reload != nil {
			w.reload()
		}
		return nil, nil
	}

	inv, ok := w.registry.Lookup(fun)
	if !ok {
		return nil, WrapCommandNotFoundError(fun, nil)
	}

	args, kwargs, err := w.parseArguments(inv, rawArgs, kwarg, raw)
	if err != nil {
		return nil, WrapInvalidInvocationError(jid, err)
	}

	result, err := inv.Call(args, kwargs)
	if err != nil {
		return nil, WrapCommandExecutionError(jid, err)
	}

	if seq, ok := result.(ports.LazySequence); ok {
		return w.drainSequence(jid, index, seq), nil
	}

	return result, nil
}

// parseArguments tokenizes each positional argument and promotes key=value
// tokens to keyword arguments only when the target accepts them
// positionally or declares a variadic-keywords parameter. __pub_-prefixed
// fields from the envelope's passthrough map are added the same way.
func (w *worker) parseArguments(inv ports.Invocable, rawArgs []string, kwarg map[string]any, raw map[string]any) ([]string, map[string]any, error) {
	positional := make([]string, 0, len(rawArgs))
	kwargs := make(map[string]any, len(kwarg))
	for k, v := range kwarg {
		kwargs[k] = v
	}

	acceptsKwargs := inv.AcceptsKwargs()
	paramNames := positionalParamNames(inv.Type())

	for _, raw := range rawArgs {
		tokens := gobsargs.GetArgs(raw)
		for _, tok := range tokens {
			key, value, isPair := splitKeyValue(tok)
			if !isPair {
				positional = append(positional, tok)
				continue
			}
			if acceptsKwargs || paramNames[key] {
				kwargs[key] = value
				continue
			}
			return nil, nil, fmt.Errorf("%w: %q is not a declared parameter of %v", ErrInvalidInvocation, key, inv.Type())
		}
	}

	if acceptsKwargs {
		for k, v := range parsePubFields(raw) {
			kwargs[k] = v
		}
	}

	return positional, kwargs, nil
}

func splitKeyValue(tok string) (key, value string, ok bool) {
	idx := strings.IndexByte(tok, '=')
	if idx <= 0 {
		return "", "", false
	}
	return tok[:idx], tok[idx+1:], true
}

// positionalParamNames returns the set of parameter names t declares
// positionally, keyed by name when t carries struct field names (for
// function types this is necessarily empty — Go has no named
// parameters — so registries exposing struct-shaped Invocables populate
// this via reflection over the struct's fields).
func positionalParamNames(t reflect.Type) map[string]bool {
	names := make(map[string]bool)
	if t == nil {
		return names
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return names
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		names[strings.ToLower(f.Name)] = true
	}
	return names
}

// drainSequence iterates a LazySequence, emitting each element as an
// intermediate progress event, and folds the elements into one final
// return: dicts merge key-wise, everything else appends to a list.
func (w *worker) drainSequence(jid string, index int, seq ports.LazySequence) any {
	var (
		merged map[string]any
		list   []any
	)

	i := 0
	for {
		v, ok := seq.Next()
		if !ok {
			break
		}

		if w.emit != nil {
			w.emit(fmt.Sprintf("job/%s/prog/%s/%d", jid, w.agentID, i), v)
		}

		if m, isMap := v.(map[string]any); isMap {
			if merged == nil {
				merged = make(map[string]any)
			}
			for k, val := range m {
				merged[k] = val
			}
		} else {
			list = append(list, v)
		}
		i++
	}

	if merged != nil {
		return merged
	}
	return list
}

// funcInvocation bundles one (fun, arg) pair for multi-function jobs so
// dispatch can run them in declared order and accumulate per-function
// results keyed by function name.
type funcInvocation struct {
	Fun string
	Arg []string
}

func pairInvocations(env domain.CommandEnvelope) []funcInvocation {
	out := make([]funcInvocation, 0, len(env.Fun))
	for i, fun := range env.Fun {
		var arg []string
		if i < len(env.Arg) {
			arg = env.Arg[i]
		}
		out = append(out, funcInvocation{Fun: fun, Arg: arg})
	}
	return out
}
