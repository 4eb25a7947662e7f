package enricher

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dop251/goja"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"claim-enricher/internal/common/logging"
)

// Evaluator evaluates a query-building expression against a set of string
// variables. Implementations must be total: any failure yields "".
type Evaluator interface {
	Evaluate(script string, vars map[string]string) string
}

const (
	scriptTimeout     = 2 * time.Second
	programCacheTTL   = 10 * time.Minute
	programCacheSweep = 15 * time.Minute
	evaluationsPerSec = 100
	evaluationsBurst  = 200
)

// identifier restricts variable names to valid, harmless bindings
var identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// ScriptEvaluator runs JavaScript expressions in a sandboxed goja runtime.
//
// Variable values are bound by emitting "var name = <literal>;" declarations
// where the literal is produced by JSON encoding. Values containing quotes,
// newlines or script syntax therefore stay inert data and can never change
// the structure of the evaluated expression. The runtime has no access to
// eval, Function, filesystem, network or environment.
type ScriptEvaluator struct {
	programs *gocache.Cache
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   logging.Logger
}

// NewScriptEvaluator creates a sandboxed evaluator with a compiled-program
// cache and a process-wide evaluation rate limit.
func NewScriptEvaluator(logger logging.Logger) *ScriptEvaluator {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &ScriptEvaluator{
		programs: gocache.New(programCacheTTL, programCacheSweep),
		limiter:  rate.NewLimiter(rate.Limit(evaluationsPerSec), evaluationsBurst),
		timeout:  scriptTimeout,
		logger:   logger,
	}
}

// Evaluate runs the expression with the supplied variable bindings and
// returns its string result. It never panics or returns an error: an empty,
// failed, timed-out or non-string evaluation yields "".
func (e *ScriptEvaluator) Evaluate(script string, vars map[string]string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("Query script evaluation panicked",
				logging.Field{Key: "panic", Value: r})
			result = ""
		}
	}()

	if strings.TrimSpace(script) == "" {
		return ""
	}

	if !e.limiter.Allow() {
		e.logger.Warn("Query script evaluation rate limit exceeded")
		return ""
	}

	source := e.buildSource(script, vars)

	program, err := e.compile(source)
	if err != nil {
		e.logger.Warn("Query script failed to compile",
			logging.String("script", script),
			logging.String("error", err.Error()))
		return ""
	}

	vm := goja.New()
	applySandbox(vm)

	value, err := e.runWithTimeout(vm, program)
	if err != nil {
		e.logger.Warn("Query script evaluation failed",
			logging.String("script", script),
			logging.String("error", err.Error()))
		return ""
	}

	str, ok := value.Export().(string)
	if !ok {
		e.logger.Warn("Query script did not evaluate to a string",
			logging.String("script", script))
		return ""
	}
	return str
}

// buildSource prepends one JSON-escaped variable declaration per binding.
// Names are emitted in sorted order so identical inputs produce identical
// source and hit the compiled-program cache.
func (e *ScriptEvaluator) buildSource(script string, vars map[string]string) string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		if !identifier.MatchString(name) {
			e.logger.Warn("Skipping script variable with invalid name",
				logging.String("name", name))
			continue
		}
		literal, err := json.Marshal(vars[name])
		if err != nil {
			e.logger.Warn("Failed to encode script variable",
				logging.String("name", name))
			continue
		}
		b.WriteString("var ")
		b.WriteString(name)
		b.WriteString(" = ")
		b.Write(literal)
		b.WriteString(";\n")
	}
	b.WriteString(script)
	return b.String()
}

func (e *ScriptEvaluator) compile(source string) (*goja.Program, error) {
	key := sourceKey(source)
	if cached, found := e.programs.Get(key); found {
		return cached.(*goja.Program), nil
	}

	program, err := goja.Compile("query", source, false)
	if err != nil {
		return nil, err
	}
	e.programs.SetDefault(key, program)
	return program, nil
}

func (e *ScriptEvaluator) runWithTimeout(vm *goja.Runtime, program *goja.Program) (goja.Value, error) {
	var (
		value goja.Value
		err   error
	)
	done := make(chan struct{})

	go func() {
		defer close(done)
		value, err = vm.RunProgram(program)
	}()

	select {
	case <-done:
		return value, err
	case <-time.After(e.timeout):
		vm.Interrupt("query script timeout")
		<-done
		return nil, err
	}
}

// applySandbox removes the runtime's code-generation escape hatches
func applySandbox(vm *goja.Runtime) {
	vm.Set("eval", goja.Undefined())
	vm.Set("Function", goja.Undefined())
}

func sourceKey(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}
