package lexer

import "testing"

func scanAll(src string) []Token {
	s := New(src)
	var toks []Token
	for {
		tok := s.NextToken()
		toks = append(toks, tok)
		if tok.Type == TokenEOF {
			return toks
		}
	}
}

func TestNextTokenPunctuationAndOperators(t *testing.T) {
	toks := scanAll("(){};,.+-*/ ! != = == < <= > >=")
	want := []TokenType{
		TokenLeftParen, TokenRightParen, TokenLeftBrace, TokenRightBrace,
		TokenSemicolon, TokenComma, TokenDot, TokenPlus, TokenMinus,
		TokenStar, TokenSlash, TokenBang, TokenBangEqual, TokenEqual,
		TokenEqualEqual, TokenLess, TokenLessEqual, TokenGreater,
		TokenGreaterEqual, TokenEOF,
	}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(toks), len(want))
	}
	for i, tok := range toks {
		if tok.Type != want[i] {
			t.Errorf("token %d: type = %v, want %v", i, tok.Type, want[i])
		}
	}
}

func TestKeywordsAndIdentifiers(t *testing.T) {
	tests := []struct {
		src  string
		want TokenType
	}{
		{"and", TokenAnd}, {"class", TokenClass}, {"else", TokenElse},
		{"false", TokenFalse}, {"for", TokenFor}, {"fun", TokenFun},
		{"if", TokenIf}, {"null", TokenNull}, {"or", TokenOr},
		{"print", TokenPrint}, {"return", TokenReturn}, {"super", TokenSuper},
		{"this", TokenThis}, {"true", TokenTrue}, {"var", TokenVar},
		{"while", TokenWhile}, {"classic", TokenIdentifier}, {"_x1", TokenIdentifier},
	}
	for _, tt := range tests {
		toks := scanAll(tt.src)
		if toks[0].Type != tt.want {
			t.Errorf("scan(%q) = %v, want %v", tt.src, toks[0].Type, tt.want)
		}
		if toks[0].Lexeme != tt.src {
			t.Errorf("scan(%q) lexeme = %q, want %q", tt.src, toks[0].Lexeme, tt.src)
		}
	}
}

func TestNumberLiteral(t *testing.T) {
	for _, src := range []string{"123", "3.14", "0.5"} {
		toks := scanAll(src)
		if toks[0].Type != TokenNumber || toks[0].Lexeme != src {
			t.Errorf("scan(%q) = %v %q, want TokenNumber %q", src, toks[0].Type, toks[0].Lexeme, src)
		}
	}
}

func TestStringLiteral(t *testing.T) {
	toks := scanAll(`"hello world"`)
	if toks[0].Type != TokenString {
		t.Fatalf("type = %v, want TokenString", toks[0].Type)
	}
	if toks[0].Lexeme != `"hello world"` {
		t.Fatalf("lexeme = %q, want the quoted source", toks[0].Lexeme)
	}
}

func TestUnterminatedString(t *testing.T) {
	toks := scanAll(`"abc`)
	if toks[0].Type != TokenError {
		t.Fatalf("type = %v, want TokenError", toks[0].Type)
	}
}

func TestLineCommentsAndWhitespaceSkipped(t *testing.T) {
	toks := scanAll("1 // a comment\n+ 2")
	want := []TokenType{TokenNumber, TokenPlus, TokenNumber, TokenEOF}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(toks), len(want))
	}
	for i, tok := range toks {
		if tok.Type != want[i] {
			t.Errorf("token %d = %v, want %v", i, tok.Type, want[i])
		}
	}
	if toks[2].Line != 2 {
		t.Errorf("second number's line = %d, want 2", toks[2].Line)
	}
}

func TestUnexpectedCharacter(t *testing.T) {
	toks := scanAll("@")
	if toks[0].Type != TokenError {
		t.Fatalf("type = %v, want TokenError", toks[0].Type)
	}
}

func TestEOFIsSticky(t *testing.T) {
	s := New("")
	first := s.NextToken()
	second := s.NextToken()
	if first.Type != TokenEOF || second.Type != TokenEOF {
		t.Fatalf("expected TokenEOF twice, got %v then %v", first.Type, second.Type)
	}
}
