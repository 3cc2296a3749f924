// Package command implements the instrument's line-oriented G/M-code
// interface.
package command

import (
	"fmt"
	"strconv"
)

// Command is one parsed line.
type Command struct {
	Type   byte // 'G' or 'M'
	Number int

	// Params holds the numeric value of each letter word. Words keeps the
	// raw text after the letter so forms like S100:900 survive.
	Params map[byte]float64
	Words  map[byte]string

	// Args are bare positional tokens such as the two durations in
	// "M100 100 900".
	Args []string

	Comment string
}

// Name returns the command word, e.g. "G1".
func (c *Command) Name() string {
	return fmt.Sprintf("%c%d", c.Type, c.Number)
}

// HasParameter checks if a letter word is present.
func (c *Command) HasParameter(param byte) bool {
	_, ok := c.Words[param]
	return ok
}

// GetParameter gets a parameter value, or returns the default if not present
// or not numeric.
func (c *Command) GetParameter(param byte, defaultValue float64) float64 {
	if val, ok := c.Params[param]; ok {
		return val
	}
	return defaultValue
}

// Word returns the raw text of a letter word.
func (c *Command) Word(param byte) (string, bool) {
	w, ok := c.Words[param]
	return w, ok
}

// Parser handles G-code parsing
type Parser struct{}

// NewParser creates a new G-code parser
func NewParser() *Parser {
	return &Parser{}
}

// ParseLine parses a single line. Blank lines and comment-only lines return
// a nil command.
func (p *Parser) ParseLine(line string) (*Command, error) {
	i := skipSpace(line, 0)
	if i >= len(line) || isComment(line[i]) {
		return nil, nil
	}

	c := toUpper(line[i])
	if c != 'G' && c != 'M' {
		return nil, fmt.Errorf("unknown command word %q", line[i:wordEnd(line, i)])
	}
	cmd := &Command{
		Type:   c,
		Params: make(map[byte]float64),
		Words:  make(map[byte]string),
	}
	i++
	num, next := parseInt(line, i)
	if next <= i {
		return nil, fmt.Errorf("command %c without a number", c)
	}
	cmd.Number = num
	i = next

	// Parse parameters
	for {
		i = skipSpace(line, i)
		if i >= len(line) {
			break
		}
		if isComment(line[i]) {
			cmd.Comment = line[i:]
			break
		}
		end := wordEnd(line, i)
		if isLetter(line[i]) {
			letter := toUpper(line[i])
			raw := line[i+1 : end]
			cmd.Words[letter] = raw
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				cmd.Params[letter] = v
			}
		} else {
			cmd.Args = append(cmd.Args, line[i:end])
		}
		i = end
	}

	return cmd, nil
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\r' || s[i] == '\n') {
		i++
	}
	return i
}

// wordEnd returns the index just past the token starting at i.
func wordEnd(s string, i int) int {
	for i < len(s) && s[i] != ' ' && s[i] != '\t' && s[i] != '\r' && s[i] != '\n' && !isComment(s[i]) {
		i++
	}
	return i
}

func isComment(c byte) bool { return c == ';' || c == '(' }

// parseInt parses an integer from the string starting at pos
func parseInt(s string, pos int) (int, int) {
	start := pos
	value := 0
	for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
		value = value*10 + int(s[pos]-'0')
		pos++
	}
	if pos == start {
		return 0, start
	}
	return value, pos
}

// isLetter checks if a byte is a letter
func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// toUpper converts a byte to uppercase
func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
