package expr

import (
	"fmt"
)

// parser is a standard recursive-descent/Pratt parser over the token
// stream, implementing the precedence climb spec §4.1 lists:
//
//	pipe | ternary | || | && | ==/!= | comparisons/=~ | + - | * / % | unary | call/path/literal
type parser struct {
	toks []token
	pos  int
}

// Parse compiles src (the text inside `{{ }}`, or a standalone
// condition expression) into a Node.
func Parse(src string) (Node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parsePipe()
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokEOF {
		return nil, fmt.Errorf("unexpected token %q at position %d", p.cur().text, p.cur().pos)
	}
	return n, nil
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) isPunct(s string) bool {
	return p.cur().kind == tokPunct && p.cur().text == s
}

func (p *parser) expectPunct(s string) error {
	if !p.isPunct(s) {
		return fmt.Errorf("expected %q, got %q at position %d", s, p.cur().text, p.cur().pos)
	}
	p.advance()
	return nil
}

// parsePipe: expr ( '|' filterName (':' args)? )*
func (p *parser) parsePipe() (Node, error) {
	left, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	for p.isPunct("|") {
		p.advance()
		if p.cur().kind != tokIdent {
			return nil, fmt.Errorf("expected filter name after '|' at position %d", p.cur().pos)
		}
		name := p.advance().text
		var args []Node
		if p.isPunct(":") {
			p.advance()
			for {
				a, err := p.parseTernary()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if p.isPunct(",") {
					p.advance()
					continue
				}
				break
			}
		}
		left = &PipeNode{Expr: left, Filter: name, Args: args}
	}
	return left, nil
}

func (p *parser) parseTernary() (Node, error) {
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.isPunct("?") {
		p.advance()
		thenExpr, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		elseExpr, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		return &TernaryNode{Cond: cond, Then: thenExpr, Else: elseExpr}, nil
	}
	return cond, nil
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isPunct("||") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: "||", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.isPunct("&&") {
		p.advance()
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: "&&", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseEquality() (Node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.isPunct("==") || p.isPunct("!=") {
		op := p.advance().text
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.isPunct("<") || p.isPunct("<=") || p.isPunct(">") || p.isPunct(">=") || p.isPunct("=~") {
		op := p.advance().text
		if op == "=~" {
			if p.cur().kind != tokRegex {
				return nil, fmt.Errorf("expected regex literal after '=~' at position %d", p.cur().pos)
			}
			rt := p.advance()
			left = &RegexMatchNode{Expr: left, Pattern: rt.text, Flags: rt.flags}
			continue
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isPunct("+") || p.isPunct("-") {
		op := p.advance().text
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isPunct("*") || p.isPunct("/") || p.isPunct("%") {
		op := p.advance().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.isPunct("!") || p.isPunct("-") {
		op := p.advance().text
		expr, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryNode{Op: op, Expr: expr}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.cur()
	switch {
	case t.kind == tokNumber:
		p.advance()
		return &LiteralNode{Value: Number(t.num)}, nil
	case t.kind == tokString:
		p.advance()
		return &LiteralNode{Value: String(t.text)}, nil
	case p.isPunct("("):
		p.advance()
		inner, err := p.parsePipe()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return inner, nil
	case p.isPunct("["):
		return p.parseArrayLit()
	case p.isPunct("{"):
		return p.parseObjectLit()
	case t.kind == tokIdent:
		return p.parseIdentOrKeyword()
	default:
		return nil, fmt.Errorf("unexpected token %q at position %d", t.text, t.pos)
	}
}

func (p *parser) parseArrayLit() (Node, error) {
	p.advance() // '['
	var elems []Node
	for !p.isPunct("]") {
		e, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct("]"); err != nil {
		return nil, err
	}
	return &ArrayLitNode{Elems: elems}, nil
}

func (p *parser) parseObjectLit() (Node, error) {
	p.advance() // '{'
	var keys []string
	var vals []Node
	for !p.isPunct("}") {
		var key string
		switch p.cur().kind {
		case tokIdent:
			key = p.advance().text
		case tokString:
			key = p.advance().text
		default:
			return nil, fmt.Errorf("expected object key at position %d", p.cur().pos)
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		v, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
		vals = append(vals, v)
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	return &ObjectLitNode{Keys: keys, Vals: vals}, nil
}

func (p *parser) parseIdentOrKeyword() (Node, error) {
	name := p.advance().text
	switch name {
	case "true":
		return &LiteralNode{Value: Bool(true)}, nil
	case "false":
		return &LiteralNode{Value: Bool(false)}, nil
	case "null":
		return &LiteralNode{Value: Null()}, nil
	case "undefined":
		return &LiteralNode{Value: Undefined()}, nil
	}
	if p.isPunct("(") {
		return p.parseCall(name)
	}
	return p.parsePathFrom(name)
}

func (p *parser) parseCall(name string) (Node, error) {
	p.advance() // '('
	var args []Node
	for !p.isPunct(")") {
		a, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return &CallNode{Name: name, Args: args}, nil
}

func (p *parser) parsePathFrom(root string) (Node, error) {
	segs := []PathSegment{{Name: root}}
	for {
		switch {
		case p.isPunct("."):
			p.advance()
			if p.cur().kind != tokIdent {
				return nil, fmt.Errorf("expected identifier after '.' at position %d", p.cur().pos)
			}
			segs = append(segs, PathSegment{Name: p.advance().text})
		case p.isPunct("["):
			p.advance()
			idxNode, err := p.parseTernary()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct("]"); err != nil {
				return nil, err
			}
			segs = append(segs, PathSegment{Index: idxNode})
		default:
			return &PathNode{Segments: segs}, nil
		}
	}
}
