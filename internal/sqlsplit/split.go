// Package sqlsplit breaks migration file text into individually executable
// statements. The scan is a single left-to-right pass that tracks quoting and
// comment state so that a ';' only ends a statement when it appears in plain
// SQL text.
//
// Custom DELIMITER blocks (stored procedure bodies written for the mysql
// client) are not supported.
package sqlsplit

import "strings"

// Statement is one command taken from a migration file.
type Statement struct {
	// Pos is the 1-based position of the statement within its file.
	Pos int `json:"pos" yaml:"pos"`
	// Line is the 1-based line the statement text starts on.
	Line int    `json:"line" yaml:"line"`
	SQL  string `json:"sql" yaml:"sql"`
}

// Option tunes the scanner for an engine's lexical rules.
type Option func(*splitter)

// WithHashComments treats '#' as the start of a line comment (MySQL).
func WithHashComments() Option {
	return func(s *splitter) { s.hashComments = true }
}

// WithBackslashEscapes makes a backslash inside a quoted string consume the
// following character (MySQL default sql_mode).
func WithBackslashEscapes() Option {
	return func(s *splitter) { s.backslashEscapes = true }
}

type state int

const (
	stateCode state = iota
	stateSingleQuote
	stateDoubleQuote
	stateIdentifier
	stateLineComment
	stateBlockComment
)

type splitter struct {
	hashComments     bool
	backslashEscapes bool
}

// Split returns the statements of text in source order. Statements are
// trimmed and never empty; a file made only of comments and whitespace
// yields no statements. Content after the last ';' is returned as a final
// statement.
func Split(text string, opts ...Option) []Statement {
	var s splitter
	for _, opt := range opts {
		opt(&s)
	}
	return s.split(text)
}

func (s *splitter) split(text string) []Statement {
	var (
		out         []Statement
		current     strings.Builder
		st          = stateCode
		identClose  byte
		keepComment bool
		line        = 1
		startLine   int
	)

	write := func(b byte) {
		if startLine == 0 && !isSpace(b) {
			startLine = line
		}
		current.WriteByte(b)
	}
	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			out = append(out, Statement{Pos: len(out) + 1, Line: startLine, SQL: stmt})
		}
		current.Reset()
		startLine = 0
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		var next byte
		if i+1 < len(text) {
			next = text[i+1]
		}

		switch st {
		case stateCode:
			switch {
			case c == '\'':
				st = stateSingleQuote
				write(c)
			case c == '"':
				st = stateDoubleQuote
				write(c)
			case c == '`':
				st, identClose = stateIdentifier, '`'
				write(c)
			case c == '[':
				st, identClose = stateIdentifier, ']'
				write(c)
			case c == '-' && next == '-':
				st = stateLineComment
				i++
			case c == '#' && s.hashComments:
				st = stateLineComment
			case c == '/' && next == '*':
				st = stateBlockComment
				// /*! ... */ and /*+ ... */ are executed by MySQL, keep them.
				keepComment = i+2 < len(text) && (text[i+2] == '!' || text[i+2] == '+')
				if keepComment {
					write(c)
					write(next)
				} else {
					write(' ')
				}
				i++
			case c == ';':
				flush()
			default:
				write(c)
			}

		case stateSingleQuote, stateDoubleQuote:
			quote := byte('\'')
			if st == stateDoubleQuote {
				quote = '"'
			}
			write(c)
			switch {
			case c == '\\' && s.backslashEscapes && i+1 < len(text):
				write(next)
				if next == '\n' {
					line++
				}
				i++
			case c == quote && next == quote:
				write(next)
				i++
			case c == quote:
				st = stateCode
			}

		case stateIdentifier:
			write(c)
			if c == identClose {
				if next == identClose {
					write(next)
					i++
				} else {
					st = stateCode
				}
			}

		case stateLineComment:
			if c == '\n' {
				st = stateCode
				write(c)
			}

		case stateBlockComment:
			if c == '*' && next == '/' {
				if keepComment {
					write(c)
					write(next)
				}
				st = stateCode
				i++
			} else if keepComment {
				write(c)
			}
		}

		if c == '\n' {
			line++
		}
	}
	flush()
	return out
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}
