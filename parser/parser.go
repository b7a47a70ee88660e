// Package parser reads and writes textual opcode trees. Parse allocates
// into a caller-supplied node manager so loaded code lands directly in
// the owning entity's pool; Unparse is the exact inverse for trees
// without shared structure, which is what persistence depends on.
package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/amlg-lang/amlg/vm"
)

// Codec is the stateless parse/unparse implementation wired into the
// interpreter and the asset manager.
type Codec struct{}

// Parse implements vm.SourceCodec.
func (Codec) Parse(code string, m *vm.NodeManager) (vm.NodeReference, error) {
	return Parse(code, m)
}

// Unparse implements vm.SourceCodec.
func (Codec) Unparse(n *vm.EvaluableNode, pool *vm.StringInternPool, pretty, sortKeys bool) string {
	return Unparse(n, pool, pretty, sortKeys)
}

// Parse parses source into a tree allocated from m. The result is
// unique. A leading UTF-8 byte order mark is tolerated.
func Parse(code string, m *vm.NodeManager) (vm.NodeReference, error) {
	code = strings.TrimPrefix(code, "\uFEFF")
	p := &parser{lex: newLexer(code), m: m, pool: m.StringPool()}
	if err := p.advance(); err != nil {
		return vm.NullReference(), err
	}
	node, err := p.parseNode()
	if err != nil {
		return vm.NullReference(), err
	}
	if p.tok.kind != tokenEOF {
		// ignore trailing comments, reject trailing code
		for p.tok.kind == tokenComment {
			if err := p.advance(); err != nil {
				return vm.NullReference(), err
			}
		}
		if p.tok.kind != tokenEOF {
			return vm.NullReference(), fmt.Errorf("line %d: unexpected trailing content", p.tok.line)
		}
	}
	return vm.NewNodeReference(node, true), nil
}

type parser struct {
	lex  *lexer
	tok  token
	m    *vm.NodeManager
	pool *vm.StringInternPool
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

// parseNode parses one node with its preceding comments, labels, and
// concurrency marker.
func (p *parser) parseNode() (*vm.EvaluableNode, error) {
	var comments []string
	var labels []string
	concurrent := false

	for {
		switch p.tok.kind {
		case tokenComment:
			comments = append(comments, p.tok.text)
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		case tokenLabel:
			labels = append(labels, p.tok.text)
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		case tokenConcurrent:
			concurrent = true
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}

	node, err := p.parseValue()
	if err != nil {
		return nil, err
	}

	if len(comments) > 0 {
		node.SetCommentsWithHandoff(p.pool,
			p.pool.CreateStringReference(strings.Join(comments, "\n")))
	}
	for _, l := range labels {
		node.AppendLabelWithHandoff(p.pool.CreateStringReference(l))
	}
	if concurrent {
		node.SetConcurrency(true)
	}
	return node, nil
}

func (p *parser) parseValue() (*vm.EvaluableNode, error) {
	switch p.tok.kind {
	case tokenOpenParen:
		return p.parseList()
	case tokenString:
		node := p.m.AllocStringNode(p.tok.text)
		return node, p.advance()
	case tokenAtom:
		return p.parseAtom()
	case tokenEOF:
		return p.m.AllocNode(vm.OpNull), nil
	default:
		return nil, fmt.Errorf("line %d: unexpected token", p.tok.line)
	}
}

func (p *parser) parseList() (*vm.EvaluableNode, error) {
	openLine := p.tok.line
	if err := p.advance(); err != nil {
		return nil, err
	}

	// empty list shorthand parses as null
	if p.tok.kind == tokenCloseParen {
		node := p.m.AllocNode(vm.OpNull)
		return node, p.advance()
	}
	if p.tok.kind != tokenAtom {
		return nil, fmt.Errorf("line %d: expected opcode keyword", p.tok.line)
	}

	opType, known := vm.OpcodeFromName(p.tok.text)
	if !known {
		return nil, fmt.Errorf("line %d: unknown opcode %q", p.tok.line, p.tok.text)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	node := p.m.AllocNode(opType)
	idempotent := opType.CanBeIdempotent()

	if opType.UsesMappedData() {
		// assoc literals carry key-value pairs
		for p.tok.kind != tokenCloseParen {
			if p.tok.kind == tokenEOF {
				return nil, fmt.Errorf("line %d: unterminated assoc", openLine)
			}
			if p.tok.kind != tokenAtom && p.tok.kind != tokenString {
				return nil, fmt.Errorf("line %d: expected assoc key", p.tok.line)
			}
			key := p.tok.text
			if err := p.advance(); err != nil {
				return nil, err
			}
			value, err := p.parseNode()
			if err != nil {
				return nil, err
			}
			node.SetMappedChildNode(p.pool, p.pool.CreateStringReference(key), value)
			idempotent = idempotent && value.GetIsIdempotent()
		}
	} else {
		for p.tok.kind != tokenCloseParen {
			if p.tok.kind == tokenEOF {
				return nil, fmt.Errorf("line %d: unterminated list", openLine)
			}
			child, err := p.parseNode()
			if err != nil {
				return nil, err
			}
			node.AppendOrderedChildNode(child)
			idempotent = idempotent && child.GetIsIdempotent()
		}
	}

	node.SetIsIdempotent(idempotent && !node.HasLabels())
	return node, p.advance()
}

func (p *parser) parseAtom() (*vm.EvaluableNode, error) {
	text := p.tok.text
	if err := p.advance(); err != nil {
		return nil, err
	}

	switch text {
	case "true":
		return p.m.AllocNode(vm.OpTrue), nil
	case "false":
		return p.m.AllocNode(vm.OpFalse), nil
	case "null":
		return p.m.AllocNode(vm.OpNull), nil
	case ".infinity":
		return p.m.AllocNumberNode(math.Inf(1)), nil
	case "-.infinity":
		return p.m.AllocNumberNode(math.Inf(-1)), nil
	case ".nan":
		return p.m.AllocNumberNode(math.NaN()), nil
	}

	if v, err := strconv.ParseFloat(text, 64); err == nil {
		return p.m.AllocNumberNode(v), nil
	}

	// a bare atom in operand position is a symbol reference
	return p.m.AllocStringNodeWithHandoff(vm.OpSymbol,
		p.pool.CreateStringReference(text)), nil
}
