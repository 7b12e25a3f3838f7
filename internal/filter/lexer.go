package filter

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// isKeyword matches and/or/not/in case-insensitively.
func (t token) isKeyword(kw string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

func lex(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	i := 0

	emit := func(kind tokenKind, text string, pos int) {
		tokens = append(tokens, token{kind: kind, text: text, pos: pos})
	}

	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '(':
			emit(tokLParen, "(", i)
			i++
		case r == ')':
			emit(tokRParen, ")", i)
			i++
		case r == '[':
			emit(tokLBracket, "[", i)
			i++
		case r == ']':
			emit(tokRBracket, "]", i)
			i++
		case r == ',':
			emit(tokComma, ",", i)
			i++

		case r == '\'' || r == '"':
			quote := r
			j := i + 1
			for j < len(runes) && runes[j] != quote {
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("unterminated string at position %d", i)
			}
			emit(tokString, string(runes[i+1:j]), i)
			i = j + 1

		case r == '=':
			if i+1 < len(runes) && runes[i+1] == '=' {
				emit(tokOp, "==", i)
				i += 2
			} else {
				emit(tokOp, "=", i)
				i++
			}
		case r == '!':
			if i+1 < len(runes) && runes[i+1] == '=' {
				emit(tokOp, "!=", i)
				i += 2
			} else {
				return nil, fmt.Errorf("unexpected '!' at position %d", i)
			}
		case r == '<':
			if i+1 < len(runes) && runes[i+1] == '=' {
				emit(tokOp, "<=", i)
				i += 2
			} else {
				emit(tokOp, "<", i)
				i++
			}
		case r == '>':
			if i+1 < len(runes) && runes[i+1] == '=' {
				emit(tokOp, ">=", i)
				i += 2
			} else {
				emit(tokOp, ">", i)
				i++
			}

		case unicode.IsDigit(r) || r == '-' || r == '.':
			j := i
			if runes[j] == '-' {
				j++
			}
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.' || runes[j] == '/') {
				j++
			}
			text := string(runes[i:j])
			// Dates like 15/03/2019 are lexed here too; anything else must
			// be a valid number.
			if !strings.Contains(text, "/") {
				if _, err := strconv.ParseFloat(text, 64); err != nil {
					return nil, fmt.Errorf("malformed number %q at position %d", text, i)
				}
			}
			emit(tokNumber, text, i)
			i = j

		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			emit(tokIdent, string(runes[i:j]), i)
			i = j

		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", string(r), i)
		}
	}

	emit(tokEOF, "", len(runes))
	return tokens, nil
}
