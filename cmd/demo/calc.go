package main

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// evaluate computes an arithmetic expression with the usual precedence.
// ^ is right associative and binds tighter than unary minus.
func evaluate(expr string) (float64, error) {
	p := &parser{src: expr}
	v, err := p.sum()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return 0, fmt.Errorf("unexpected %q at %d", p.src[p.pos], p.pos)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("result is not a finite number")
	}
	return v, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *parser) accept(c byte) bool {
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *parser) sum() (float64, error) {
	v, err := p.product()
	if err != nil {
		return 0, err
	}
	for {
		switch {
		case p.accept('+'):
			r, err := p.product()
			if err != nil {
				return 0, err
			}
			v += r
		case p.accept('-'):
			r, err := p.product()
			if err != nil {
				return 0, err
			}
			v -= r
		default:
			return v, nil
		}
	}
}

func (p *parser) product() (float64, error) {
	v, err := p.unary()
	if err != nil {
		return 0, err
	}
	for {
		switch {
		case p.accept('*'):
			r, err := p.unary()
			if err != nil {
				return 0, err
			}
			v *= r
		case p.accept('/'):
			r, err := p.unary()
			if err != nil {
				return 0, err
			}
			if r == 0 {
				return 0, errors.New("division by zero")
			}
			v /= r
		default:
			return v, nil
		}
	}
}

func (p *parser) unary() (float64, error) {
	if p.accept('-') {
		v, err := p.unary()
		return -v, err
	}
	p.accept('+')
	return p.power()
}

func (p *parser) power() (float64, error) {
	base, err := p.primary()
	if err != nil {
		return 0, err
	}
	if p.accept('^') {
		exp, err := p.unary()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *parser) primary() (float64, error) {
	p.skipSpace()
	if p.accept('(') {
		v, err := p.sum()
		if err != nil {
			return 0, err
		}
		if !p.accept(')') {
			return 0, errors.New("missing )")
		}
		return v, nil
	}

	start := p.pos
	for p.pos < len(p.src) && unicode.IsLetter(rune(p.src[p.pos])) {
		p.pos++
	}
	if name := p.src[start:p.pos]; name != "" {
		return p.call(strings.ToLower(name))
	}

	for p.pos < len(p.src) && (p.src[p.pos] == '.' || (p.src[p.pos] >= '0' && p.src[p.pos] <= '9')) {
		p.pos++
	}
	if start == p.pos {
		if p.pos >= len(p.src) {
			return 0, errors.New("unexpected end of expression")
		}
		return 0, fmt.Errorf("unexpected %q at %d", p.src[p.pos], p.pos)
	}
	return strconv.ParseFloat(p.src[start:p.pos], 64)
}

func (p *parser) call(name string) (float64, error) {
	switch name {
	case "pi":
		return math.Pi, nil
	case "e":
		return math.E, nil
	}

	fn, ok := map[string]func(float64) float64{
		"sqrt": math.Sqrt,
		"abs":  math.Abs,
		"sin":  math.Sin,
		"cos":  math.Cos,
		"log":  math.Log,
	}[name]
	if !ok {
		return 0, fmt.Errorf("unknown function %q", name)
	}
	if !p.accept('(') {
		return 0, fmt.Errorf("%s needs an argument in parentheses", name)
	}
	v, err := p.sum()
	if err != nil {
		return 0, err
	}
	if !p.accept(')') {
		return 0, errors.New("missing )")
	}
	return fn(v), nil
}
