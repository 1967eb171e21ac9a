package component

import (
	"fmt"
	"strings"
	"unicode"
)

type nodeKind int

const (
	nodeName nodeKind = iota
	nodeSum
	nodeProduct
)

type exprNode struct {
	kind     nodeKind
	name     string
	seq      int
	pos      int
	arg      *exprNode
	children []*exprNode
}

type token struct {
	text string
	pos  int
}

func lex(expression string) ([]token, error) {
	var tokens []token
	runes := []rune(expression)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '+' || r == '*' || r == '(' || r == ')':
			tokens = append(tokens, token{text: string(r), pos: i})
			i++
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, token{text: string(runes[start:i]), pos: start})
		default:
			return nil, fmt.Errorf("%w: unexpected %q at %d", ErrMalformedModel, r, i)
		}
	}
	return tokens, nil
}

type parser struct {
	tokens []token
	next   int
	seq    int
}

// parse turns an expression such as "expabs*gsmooth(powerlaw + gaussian)"
// into a syntax tree. Components are numbered left to right from 1.
func parse(expression string) (*exprNode, error) {
	tokens, err := lex(expression)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty expression", ErrMalformedModel)
	}
	p := &parser{tokens: tokens}
	root, err := p.sum()
	if err != nil {
		return nil, err
	}
	if tok, ok := p.peek(); ok {
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrMalformedModel, tok.text, tok.pos)
	}
	return root, nil
}

func (p *parser) peek() (token, bool) {
	if p.next >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.next], true
}

func (p *parser) sum() (*exprNode, error) {
	first, err := p.product()
	if err != nil {
		return nil, err
	}
	node := &exprNode{kind: nodeSum, pos: first.pos, children: []*exprNode{first}}
	for {
		tok, ok := p.peek()
		if !ok || tok.text != "+" {
			break
		}
		p.next++
		term, err := p.product()
		if err != nil {
			return nil, err
		}
		node.children = append(node.children, term)
	}
	if len(node.children) == 1 {
		return first, nil
	}
	return node, nil
}

func (p *parser) product() (*exprNode, error) {
	first, err := p.factor()
	if err != nil {
		return nil, err
	}
	node := &exprNode{kind: nodeProduct, pos: first.pos, children: []*exprNode{first}}
	for {
		tok, ok := p.peek()
		if !ok || tok.text != "*" {
			break
		}
		p.next++
		f, err := p.factor()
		if err != nil {
			return nil, err
		}
		node.children = append(node.children, f)
	}
	if len(node.children) == 1 {
		return first, nil
	}
	return node, nil
}

func (p *parser) factor() (*exprNode, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("%w: unexpected end of expression", ErrMalformedModel)
	}
	switch {
	case tok.text == "(":
		p.next++
		inner, err := p.sum()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return inner, nil
	case isName(tok.text):
		p.next++
		p.seq++
		node := &exprNode{kind: nodeName, name: tok.text, seq: p.seq, pos: tok.pos}
		if nxt, ok := p.peek(); ok && nxt.text == "(" {
			p.next++
			arg, err := p.sum()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			node.arg = arg
		}
		return node, nil
	default:
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrMalformedModel, tok.text, tok.pos)
	}
}

func (p *parser) expect(text string) error {
	tok, ok := p.peek()
	if !ok {
		return fmt.Errorf("%w: missing %q", ErrMalformedModel, text)
	}
	if tok.text != text {
		return fmt.Errorf("%w: expected %q at %d, got %q", ErrMalformedModel, text, tok.pos, tok.text)
	}
	p.next++
	return nil
}

func isName(s string) bool {
	if s == "" {
		return false
	}
	r := []rune(s)[0]
	return unicode.IsLetter(r) || r == '_'
}

func (n *exprNode) String() string {
	switch n.kind {
	case nodeSum:
		parts := make([]string, len(n.children))
		for i, c := range n.children {
			parts[i] = c.String()
		}
		return strings.Join(parts, " + ")
	case nodeProduct:
		parts := make([]string, len(n.children))
		for i, c := range n.children {
			s := c.String()
			if c.kind == nodeSum {
				s = "(" + s + ")"
			}
			parts[i] = s
		}
		return strings.Join(parts, "*")
	default:
		if n.arg != nil {
			return n.name + "(" + n.arg.String() + ")"
		}
		return n.name
	}
}
