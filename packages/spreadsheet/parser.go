package spreadsheet

import (
	"fmt"
	"strconv"
	"strings"
)

type NodePosition struct {
	Start int
	End   int
}

// Node is one element of a parsed formula. evaluation lives in the
// Evaluator, so the same tree can be shared by every cell that uses the
// formula.
type Node interface {
	Position() NodePosition
	String() string
}

// NumberNode represents a numeric literal
type NumberNode struct {
	Value float64
	Pos   NodePosition
}

func (n *NumberNode) Position() NodePosition { return n.Pos }

func (n *NumberNode) String() string {
	return formatNumber(n.Value)
}

// StringNode represents a string literal
type StringNode struct {
	Value string
	Pos   NodePosition
}

func (n *StringNode) Position() NodePosition { return n.Pos }

func (n *StringNode) String() string {
	return `"` + strings.ReplaceAll(n.Value, `"`, `""`) + `"`
}

// BooleanNode represents a boolean literal
type BooleanNode struct {
	Value bool
	Pos   NodePosition
}

func (n *BooleanNode) Position() NodePosition { return n.Pos }

func (n *BooleanNode) String() string {
	if n.Value {
		return "TRUE"
	}
	return "FALSE"
}

// ErrorNode is an error literal such as #REF!, left behind when a shift
// deletes a referenced cell.
type ErrorNode struct {
	Kind ErrorKind
	Pos  NodePosition
}

func (n *ErrorNode) Position() NodePosition { return n.Pos }

func (n *ErrorNode) String() string { return n.Kind.String() }

// ReferenceNode is a single cell reference. the absolute markers only matter
// when a formula is copied, they do not change what the reference reads.
type ReferenceNode struct {
	Ref    Ref
	AbsCol bool
	AbsRow bool
	Pos    NodePosition
}

func (n *ReferenceNode) Position() NodePosition { return n.Pos }

func (n *ReferenceNode) String() string { return n.Ref.String() }

// RangeNode represents a range of cells
type RangeNode struct {
	Range Range
	Pos   NodePosition
}

func (n *RangeNode) Position() NodePosition { return n.Pos }

func (n *RangeNode) String() string { return n.Range.String() }

// BinaryOpNode represents a binary operation
type BinaryOpNode struct {
	Op    BinaryOp
	Left  Node
	Right Node
	Pos   NodePosition
}

func (n *BinaryOpNode) Position() NodePosition { return n.Pos }

func (n *BinaryOpNode) String() string {
	return fmt.Sprintf("(%s%s%s)", n.Left.String(), n.Op.String(), n.Right.String())
}

// UnaryOpNode represents a unary operation
type UnaryOpNode struct {
	Op      UnaryOp
	Operand Node
	Pos     NodePosition
}

func (n *UnaryOpNode) Position() NodePosition { return n.Pos }

func (n *UnaryOpNode) String() string {
	return n.Op.String() + n.Operand.String()
}

// FunctionCallNode represents a function call. ID is resolved while parsing
// so evaluation never looks names up again.
type FunctionCallNode struct {
	Name string
	ID   FunctionID
	Args []Node
	Pos  NodePosition
}

func (n *FunctionCallNode) Position() NodePosition { return n.Pos }

func (n *FunctionCallNode) String() string {
	args := make([]string, len(n.Args))
	for i, arg := range n.Args {
		args[i] = arg.String()
	}
	return fmt.Sprintf("%s(%s)", strings.ToUpper(n.Name), strings.Join(args, ","))
}

// ParenNode keeps explicit grouping in the tree. it prints as its inner node:
// operators already print parenthesized, so redundant parentheses do not
// change the canonical text.
type ParenNode struct {
	Inner Node
	Pos   NodePosition
}

func (n *ParenNode) Position() NodePosition { return n.Pos }

func (n *ParenNode) String() string {
	return n.Inner.String()
}

// Parser parses tokens into an AST
type Parser struct {
	tokens []Token
	pos    int
}

// NewParser creates a parser over tokens as produced by Tokenize. whitespace
// is dropped here.
func NewParser(tokens []Token, length int) *Parser {
	return &Parser{tokens: significant(tokens, length)}
}

// Parse parses formula text, without its leading "=", into an expression
// tree.
func Parse(text string) (Node, error) {
	return NewParser(Tokenize(text), len(text)).Parse()
}

// Parse parses the tokens into an AST
func (p *Parser) Parse() (Node, error) {
	if p.peek().Type == TokenEOF {
		return nil, &SyntaxError{Start: 0, Stop: 0, Message: "empty formula"}
	}

	node, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	if tok := p.peek(); tok.Type != TokenEOF {
		if tok.Type == TokenRightParen {
			return nil, p.errorAt(tok, "unbalanced parenthesis")
		}
		return nil, p.errorAt(tok, "unexpected token after expression")
	}
	return node, nil
}

func (p *Parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *Parser) next() Token {
	tok := p.tokens[p.pos]
	if tok.Type != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *Parser) errorAt(tok Token, message string) *SyntaxError {
	return &SyntaxError{Start: tok.Start, Stop: tok.Stop, Token: tok.Value, Message: message}
}

func (p *Parser) binary(op BinaryOp, left, right Node) Node {
	return &BinaryOpNode{
		Op:    op,
		Left:  left,
		Right: right,
		Pos:   NodePosition{Start: left.Position().Start, End: right.Position().End},
	}
}

var comparisonOps = map[string]BinaryOp{
	"=":  BinOpEqual,
	"<>": BinOpNotEqual,
	"<":  BinOpLess,
	"<=": BinOpLessEqual,
	">":  BinOpGreater,
	">=": BinOpGreaterEqual,
}

// parseComparison handles comparison operators (lowest precedence)
func (p *Parser) parseComparison() (Node, error) {
	left, err := p.parseConcatenation()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.Type != TokenOperator {
			return left, nil
		}
		op, ok := comparisonOps[tok.Value]
		if !ok {
			return left, nil
		}
		p.next()
		right, err := p.parseConcatenation()
		if err != nil {
			return nil, err
		}
		left = p.binary(op, left, right)
	}
}

// parseConcatenation handles string concatenation operator
func (p *Parser) parseConcatenation() (Node, error) {
	left, err := p.parseAddition()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenOperator && p.peek().Value == "&" {
		p.next()
		right, err := p.parseAddition()
		if err != nil {
			return nil, err
		}
		left = p.binary(BinOpConcat, left, right)
	}
	return left, nil
}

// parseAddition handles addition and subtraction, left-associative
func (p *Parser) parseAddition() (Node, error) {
	left, err := p.parseMultiplication()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.Type != TokenOperator || (tok.Value != "+" && tok.Value != "-") {
			return left, nil
		}
		p.next()
		right, err := p.parseMultiplication()
		if err != nil {
			return nil, err
		}
		op := BinOpAdd
		if tok.Value == "-" {
			op = BinOpSubtract
		}
		left = p.binary(op, left, right)
	}
}

// parseMultiplication handles multiplication and division, left-associative
func (p *Parser) parseMultiplication() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.Type != TokenOperator || (tok.Value != "*" && tok.Value != "/") {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		op := BinOpMultiply
		if tok.Value == "/" {
			op = BinOpDivide
		}
		left = p.binary(op, left, right)
	}
}

// parseUnary handles unary operators
func (p *Parser) parseUnary() (Node, error) {
	tok := p.peek()
	if tok.Type == TokenOperator && (tok.Value == "+" || tok.Value == "-") {
		p.next()
		operand, err := p.parseUnary() // recurse for chained unary operators
		if err != nil {
			return nil, err
		}
		op := UnaryOpPlus
		if tok.Value == "-" {
			op = UnaryOpMinus
		}
		return &UnaryOpNode{
			Op:      op,
			Operand: operand,
			Pos:     NodePosition{Start: tok.Start, End: operand.Position().End},
		}, nil
	}
	return p.parsePrimary()
}

// parsePrimary handles primary expressions (literals, references,
// functions, parentheses)
func (p *Parser) parsePrimary() (Node, error) {
	tok := p.peek()
	pos := NodePosition{Start: tok.Start, End: tok.Stop}

	switch tok.Type {
	case TokenNumber:
		p.next()
		val, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, p.errorAt(tok, "invalid number")
		}
		return &NumberNode{Value: val, Pos: pos}, nil

	case TokenString:
		p.next()
		return &StringNode{Value: unquote(tok.Value), Pos: pos}, nil

	case TokenBoolean:
		p.next()
		return &BooleanNode{Value: strings.EqualFold(tok.Value, "TRUE"), Pos: pos}, nil

	case TokenErrorLiteral:
		p.next()
		kind, ok := ParseErrorKind(tok.Value)
		if !ok {
			return nil, p.errorAt(tok, "unknown error literal")
		}
		return &ErrorNode{Kind: kind, Pos: pos}, nil

	case TokenReference:
		p.next()
		ref, absCol, absRow, err := parseRefParts(tok.Value)
		if err != nil {
			return nil, p.errorAt(tok, err.Error())
		}
		return &ReferenceNode{Ref: ref, AbsCol: absCol, AbsRow: absRow, Pos: pos}, nil

	case TokenRange:
		p.next()
		rng, err := ParseRange(strings.ReplaceAll(tok.Value, "$", ""))
		if err != nil {
			return nil, p.errorAt(tok, err.Error())
		}
		return &RangeNode{Range: rng, Pos: pos}, nil

	case TokenFunction:
		return p.parseFunctionCall()

	case TokenLeftParen:
		p.next()
		inner, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		closing := p.peek()
		if closing.Type != TokenRightParen {
			return nil, p.errorAt(closing, "missing closing parenthesis")
		}
		p.next()
		return &ParenNode{Inner: inner, Pos: NodePosition{Start: tok.Start, End: closing.Stop}}, nil

	case TokenEOF:
		return nil, p.errorAt(tok, "missing operand")

	case TokenIdentifier:
		return nil, p.errorAt(tok, "unknown name")

	case TokenOperator, TokenComma, TokenRightParen, TokenColon:
		return nil, p.errorAt(tok, "missing operand")

	default:
		return nil, p.errorAt(tok, "unexpected token")
	}
}

// parseFunctionCall parses a function call
func (p *Parser) parseFunctionCall() (Node, error) {
	nameTok := p.next()
	if open := p.next(); open.Type != TokenLeftParen {
		return nil, p.errorAt(open, "expected '(' after function name")
	}

	call := &FunctionCallNode{
		Name: nameTok.Value,
		ID:   LookupFunction(nameTok.Value),
		Args: []Node{},
	}

	// empty argument list
	if p.peek().Type == TokenRightParen {
		closing := p.next()
		call.Pos = NodePosition{Start: nameTok.Start, End: closing.Stop}
		return call, nil
	}

	for {
		arg, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)

		tok := p.next()
		switch tok.Type {
		case TokenComma:
			continue
		case TokenRightParen:
			call.Pos = NodePosition{Start: nameTok.Start, End: tok.Stop}
			return call, nil
		case TokenEOF:
			return nil, p.errorAt(tok, "missing closing parenthesis")
		default:
			return nil, p.errorAt(tok, "expected ',' or ')' in function arguments")
		}
	}
}
