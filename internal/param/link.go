package param

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
)

var refPattern = regexp.MustCompile(`^p([0-9]+)$`)

var linkFunctions = map[string]govaluate.ExpressionFunction{
	"exp":   unary(math.Exp),
	"log":   unary(math.Log),
	"log10": unary(math.Log10),
	"sqrt":  unary(math.Sqrt),
	"abs":   unary(math.Abs),
	"sin":   unary(math.Sin),
	"cos":   unary(math.Cos),
	"tan":   unary(math.Tan),
}

func unary(fn func(float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		x, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("non-numeric argument %v", args[0])
		}
		return fn(x), nil
	}
}

type link struct {
	expression string
	compiled   *govaluate.EvaluableExpression
	refs       []int
}

func compileLink(expression string) (*link, error) {
	expression = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(expression), "="))
	if expression == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrBadLinkReference)
	}
	// a bare number or index means "same as that parameter"
	if n, err := strconv.Atoi(expression); err == nil {
		expression = "p" + strconv.Itoa(n)
	}
	compiled, err := govaluate.NewEvaluableExpressionWithFunctions(expression, linkFunctions)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadLinkReference, expression, err)
	}
	seen := make(map[int]bool)
	var refs []int
	for _, token := range compiled.Tokens() {
		if token.Kind != govaluate.VARIABLE {
			continue
		}
		name, _ := token.Value.(string)
		m := refPattern.FindStringSubmatch(name)
		if m == nil {
			return nil, fmt.Errorf("%w: unknown symbol %q", ErrBadLinkReference, name)
		}
		idx, _ := strconv.Atoi(m[1])
		if !seen[idx] {
			seen[idx] = true
			refs = append(refs, idx)
		}
	}
	return &link{expression: expression, compiled: compiled, refs: refs}, nil
}

func (l *link) eval(t *Table) (float64, error) {
	if t == nil {
		return 0, fmt.Errorf("%w: link outside table", ErrBadLinkReference)
	}
	vars := make(map[string]interface{}, len(l.refs))
	for _, idx := range l.refs {
		p, err := t.Get(idx)
		if err != nil {
			return 0, err
		}
		v, err := p.Eval()
		if err != nil {
			return 0, err
		}
		vars["p"+strconv.Itoa(idx)] = v
	}
	out, err := l.compiled.Evaluate(vars)
	if err != nil {
		return 0, err
	}
	v, ok := out.(float64)
	if !ok {
		return 0, fmt.Errorf("link %q evaluated to non-numeric %v", l.expression, out)
	}
	return v, nil
}
