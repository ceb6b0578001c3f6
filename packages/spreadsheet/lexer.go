package spreadsheet

import (
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
)

// TokenType represents different types of tokens in formulas
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenNumber
	TokenString
	TokenBoolean
	TokenErrorLiteral
	TokenReference
	TokenRange
	TokenFunction
	TokenOperator
	TokenComma
	TokenColon
	TokenLeftParen
	TokenRightParen
	TokenIdentifier
	TokenWhitespace
	TokenError
)

var tokenNames = map[TokenType]string{
	TokenEOF:          "EOF",
	TokenNumber:       "NUMBER",
	TokenString:       "STRING",
	TokenBoolean:      "BOOLEAN",
	TokenErrorLiteral: "ERROR_LITERAL",
	TokenReference:    "REFERENCE",
	TokenRange:        "RANGE",
	TokenFunction:     "FUNCNAME",
	TokenOperator:     "OPERATOR",
	TokenComma:        "COMMA",
	TokenColon:        "COLON",
	TokenLeftParen:    "LPAREN",
	TokenRightParen:   "RPAREN",
	TokenIdentifier:   "IDENT",
	TokenWhitespace:   "WHITESPACE",
	TokenError:        "ERROR",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// BinaryOp represents binary operators in AST nodes
type BinaryOp int

const (
	BinOpAdd BinaryOp = iota
	BinOpSubtract
	BinOpMultiply
	BinOpDivide
	BinOpConcat
	BinOpEqual
	BinOpNotEqual
	BinOpLess
	BinOpLessEqual
	BinOpGreater
	BinOpGreaterEqual
)

var binaryOpSymbols = map[BinaryOp]string{
	BinOpAdd:          "+",
	BinOpSubtract:     "-",
	BinOpMultiply:     "*",
	BinOpDivide:       "/",
	BinOpConcat:       "&",
	BinOpEqual:        "=",
	BinOpNotEqual:     "<>",
	BinOpLess:         "<",
	BinOpLessEqual:    "<=",
	BinOpGreater:      ">",
	BinOpGreaterEqual: ">=",
}

func (op BinaryOp) String() string {
	return binaryOpSymbols[op]
}

// UnaryOp represents unary operators in AST nodes
type UnaryOp int

const (
	UnaryOpPlus UnaryOp = iota
	UnaryOpMinus
)

func (op UnaryOp) String() string {
	if op == UnaryOpMinus {
		return "-"
	}
	return "+"
}

// Token represents a lexical token with position information. Start and
// Stop are byte offsets into the formula text, Stop is exclusive.
type Token struct {
	Type  TokenType
	Value string
	Start int
	Stop  int
}

// formulaLexer holds the rule table. rules are tried in order and the first
// match wins, so ranges come before single references and references before
// identifiers. the last rule swallows any single character so lexing never
// fails.
var formulaLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "String", Pattern: `"(?:[^"]|"")*"`},
	{Name: "ErrorLiteral", Pattern: `(?i)#(?:REF!|VALUE!|N/A!?|DIV/0!|ERROR!)`},
	{Name: "Range", Pattern: `\$?[A-Za-z]+\$?[0-9]+:\$?[A-Za-z]+\$?[0-9]+`},
	{Name: "Reference", Pattern: `\$?[A-Za-z]+\$?[0-9]+`},
	{Name: "Number", Pattern: `(?:[0-9]+(?:\.[0-9]*)?|\.[0-9]+)(?:[eE][+-]?[0-9]+)?`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_.]*`},
	{Name: "Operator", Pattern: `<>|<=|>=|[-+*/=<>&]`},
	{Name: "Punct", Pattern: `[(),:]`},
	{Name: "Error", Pattern: `(?s).`},
})

var ruleTokenTypes = func() map[lexer.TokenType]TokenType {
	symbols := formulaLexer.Symbols()
	return map[lexer.TokenType]TokenType{
		symbols["Whitespace"]:   TokenWhitespace,
		symbols["String"]:       TokenString,
		symbols["ErrorLiteral"]: TokenErrorLiteral,
		symbols["Range"]:        TokenRange,
		symbols["Reference"]:    TokenReference,
		symbols["Number"]:       TokenNumber,
		symbols["Ident"]:        TokenIdentifier,
		symbols["Operator"]:     TokenOperator,
		symbols["Punct"]:        TokenError, // narrowed per character below
		symbols["Error"]:        TokenError,
	}
}()

// Tokenize splits formula text into tokens, whitespace included. it never
// fails: characters that start no valid token become TokenError tokens so an
// editor can still highlight them. concatenating the values of the returned
// tokens reproduces text exactly.
func Tokenize(text string) []Token {
	tokens := []Token{}
	lex, err := formulaLexer.LexString("", text)
	if err != nil {
		return append(tokens, Token{Type: TokenError, Value: text, Start: 0, Stop: len(text)})
	}
	for {
		tok, err := lex.Next()
		if err != nil {
			// unreachable with the catch-all rule, but keep the remainder
			// visible rather than dropping it
			offset := 0
			if n := len(tokens); n > 0 {
				offset = tokens[n-1].Stop
			}
			return append(tokens, Token{Type: TokenError, Value: text[offset:], Start: offset, Stop: len(text)})
		}
		if tok.EOF() {
			break
		}
		tokens = append(tokens, Token{
			Type:  classify(tok),
			Value: tok.Value,
			Start: tok.Pos.Offset,
			Stop:  tok.Pos.Offset + len(tok.Value),
		})
	}
	return reclassify(tokens)
}

func classify(tok lexer.Token) TokenType {
	typ := ruleTokenTypes[tok.Type]
	if typ != TokenError {
		return typ
	}
	switch tok.Value {
	case "(":
		return TokenLeftParen
	case ")":
		return TokenRightParen
	case ",":
		return TokenComma
	case ":":
		return TokenColon
	}
	return TokenError
}

// reclassify applies the context-dependent rules the regex table cannot
// express: a name directly followed by "(" is a function, TRUE and FALSE are
// booleans.
func reclassify(tokens []Token) []Token {
	for i := range tokens {
		tok := &tokens[i]
		switch tok.Type {
		case TokenIdentifier, TokenReference:
			if i+1 < len(tokens) && tokens[i+1].Type == TokenLeftParen {
				tok.Type = TokenFunction
				continue
			}
			if tok.Type == TokenIdentifier {
				upper := strings.ToUpper(tok.Value)
				if upper == "TRUE" || upper == "FALSE" {
					tok.Type = TokenBoolean
				}
			}
		}
	}
	return tokens
}

// significant drops whitespace and appends the EOF token the parser expects
func significant(tokens []Token, length int) []Token {
	out := make([]Token, 0, len(tokens)+1)
	for _, tok := range tokens {
		if tok.Type != TokenWhitespace {
			out = append(out, tok)
		}
	}
	return append(out, Token{Type: TokenEOF, Start: length, Stop: length})
}

// unquote strips the surrounding quotes of a string literal and collapses
// doubled quotes.
func unquote(literal string) string {
	if len(literal) >= 2 {
		literal = literal[1 : len(literal)-1]
	}
	return strings.ReplaceAll(literal, `""`, `"`)
}
