package parser

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

// Race pages embed lap data as JS assignments of the form
//
//	racerLaps[<source driver id>] = { 'driverName': '…', 'laps': [ … ] };
//
// The object literal is JSON except for its single quotes, so parsing is
// a two-step affair: slice out each balanced object, then try a strict
// JSON pass over a quote-swapped copy and fall back to a literal
// evaluator over the original text when the swap corrupts a string (an
// apostrophe in a driver name, for instance).

var racerLapsStartRe = regexp.MustCompile(`racerLaps\[(\d+)\]\s*=\s*\{`)

// lapBlock is one decoded racerLaps assignment.
type lapBlock struct {
	driverName string
	laps       []racedata.ParsedLap
}

// raceLapBlocks extracts and decodes every racerLaps assignment, keyed by
// source driver id. Zero assignments is a LapTableMissing error; a block
// that fails to decode is skipped with a warning.
func (p *Parser) raceLapBlocks(html string) (map[string]lapBlock, error) {
	matches := racerLapsStartRe.FindAllStringSubmatchIndex(html, -1)
	if len(matches) == 0 {
		return nil, racedata.NewError(racedata.CodeLapTableMissing, "page has no racerLaps blocks", nil)
	}

	blocks := make(map[string]lapBlock, len(matches))

	for _, m := range matches {
		driverID := html[m[2]:m[3]]
		braceStart := m[1] - 1

		objText, ok := balancedSlice(html[braceStart:])
		if !ok {
			p.logger.Warn("skipping unterminated racerLaps block",
				slog.String("driver_id", driverID))

			continue
		}

		obj, err := parseJSValue(objText)
		if err != nil {
			p.logger.Warn("skipping undecodable racerLaps block",
				slog.String("driver_id", driverID),
				slog.String("error", err.Error()))

			continue
		}

		fields, ok := obj.(map[string]any)
		if !ok {
			p.logger.Warn("skipping non-object racerLaps block",
				slog.String("driver_id", driverID))

			continue
		}

		name, _ := fields["driverName"].(string)
		rawLaps, _ := fields["laps"].([]any)

		blocks[driverID] = lapBlock{
			driverName: name,
			laps:       p.convertLaps(driverID, rawLaps),
		}
	}

	return blocks, nil
}

// convertLaps turns decoded lap entries into ParsedLaps. Lap 0 is a
// start-line marker: its time still counts toward the running elapsed
// race time, but the lap itself is dropped. An empty list is a
// non-starter, not an error.
func (p *Parser) convertLaps(driverID string, rawLaps []any) []racedata.ParsedLap {
	laps := make([]racedata.ParsedLap, 0, len(rawLaps))

	var elapsed float64

	for _, raw := range rawLaps {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		lapNumber, ok := coerceInt(entry["lapNum"])
		if !ok {
			p.logger.Warn("skipping lap with unreadable lapNum",
				slog.String("driver_id", driverID))

			continue
		}

		seconds, ok := coerceFloat(entry["time"])
		if !ok {
			p.logger.Warn("skipping lap with unreadable time",
				slog.String("driver_id", driverID),
				slog.Int("lap", lapNumber))

			continue
		}

		elapsed += seconds

		if lapNumber == 0 {
			continue
		}

		position, ok := coerceInt(entry["pos"])
		if !ok || position < 1 {
			position = 1
		}

		lap := racedata.ParsedLap{
			LapNumber:       lapNumber,
			PositionOnLap:   position,
			LapTimeRaw:      rawString(entry["time"]),
			LapTimeSeconds:  seconds,
			ElapsedRaceTime: elapsed,
			Segments:        stringList(entry["segments"]),
		}

		if pace, ok := entry["pace"].(string); ok {
			lap.PaceString = pace
		}

		laps = append(laps, lap)
	}

	return laps
}

// balancedSlice returns the prefix of s that forms one balanced bracketed
// literal. s must start with '{' or '['; the counter tracks both bracket
// kinds and ignores brackets inside single- or double-quoted strings.
func balancedSlice(s string) (string, bool) {
	if len(s) == 0 || (s[0] != '{' && s[0] != '[') {
		return "", false
	}

	var (
		depth   int
		quote   byte
		escaped bool
	)

	for i := 0; i < len(s); i++ {
		c := s[i]

		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}

			continue
		}

		switch c {
		case '\'', '"':
			quote = c
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}

	return "", false
}

// parseJSValue decodes a JSON-ish literal: strict JSON over a
// quote-swapped copy first, the literal evaluator over the original text
// on failure.
func parseJSValue(text string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(strings.ReplaceAll(text, "'", `"`)), &v); err == nil {
		return v, nil
	}

	return evalLiteral(text)
}

// evalLiteral parses a JS object/array/scalar literal without executing
// it. It accepts single- and double-quoted strings with backslash
// escapes, bare identifier keys, numbers, booleans and null.
func evalLiteral(text string) (any, error) {
	s := &literalScanner{src: text}

	v, err := s.value()
	if err != nil {
		return nil, err
	}

	s.skipSpace()

	if s.pos != len(s.src) {
		return nil, fmt.Errorf("trailing data at offset %d", s.pos)
	}

	return v, nil
}

type literalScanner struct {
	src string
	pos int
}

func (s *literalScanner) skipSpace() {
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case ' ', '\t', '\n', '\r':
			s.pos++
		default:
			return
		}
	}
}

func (s *literalScanner) peek() (byte, error) {
	s.skipSpace()

	if s.pos >= len(s.src) {
		return 0, fmt.Errorf("unexpected end of literal at offset %d", s.pos)
	}

	return s.src[s.pos], nil
}

func (s *literalScanner) value() (any, error) {
	c, err := s.peek()
	if err != nil {
		return nil, err
	}

	switch {
	case c == '{':
		return s.object()
	case c == '[':
		return s.array()
	case c == '\'' || c == '"':
		return s.quotedString()
	default:
		return s.scalar()
	}
}

func (s *literalScanner) object() (map[string]any, error) {
	s.pos++ // consume '{'

	obj := make(map[string]any)

	for {
		c, err := s.peek()
		if err != nil {
			return nil, err
		}

		if c == '}' {
			s.pos++

			return obj, nil
		}

		key, err := s.key()
		if err != nil {
			return nil, err
		}

		c, err = s.peek()
		if err != nil {
			return nil, err
		}

		if c != ':' {
			return nil, fmt.Errorf("expected ':' at offset %d", s.pos)
		}

		s.pos++

		v, err := s.value()
		if err != nil {
			return nil, err
		}

		obj[key] = v

		c, err = s.peek()
		if err != nil {
			return nil, err
		}

		if c == ',' {
			s.pos++
		} else if c != '}' {
			return nil, fmt.Errorf("expected ',' or '}' at offset %d", s.pos)
		}
	}
}

func (s *literalScanner) array() ([]any, error) {
	s.pos++ // consume '['

	arr := []any{}

	for {
		c, err := s.peek()
		if err != nil {
			return nil, err
		}

		if c == ']' {
			s.pos++

			return arr, nil
		}

		v, err := s.value()
		if err != nil {
			return nil, err
		}

		arr = append(arr, v)

		c, err = s.peek()
		if err != nil {
			return nil, err
		}

		if c == ',' {
			s.pos++
		} else if c != ']' {
			return nil, fmt.Errorf("expected ',' or ']' at offset %d", s.pos)
		}
	}
}

func (s *literalScanner) key() (string, error) {
	c, err := s.peek()
	if err != nil {
		return "", err
	}

	if c == '\'' || c == '"' {
		return s.quotedString()
	}

	start := s.pos
	for s.pos < len(s.src) && isIdentChar(s.src[s.pos]) {
		s.pos++
	}

	if s.pos == start {
		return "", fmt.Errorf("expected object key at offset %d", start)
	}

	return s.src[start:s.pos], nil
}

func (s *literalScanner) quotedString() (string, error) {
	quote := s.src[s.pos]
	s.pos++

	var b strings.Builder

	for s.pos < len(s.src) {
		c := s.src[s.pos]

		switch c {
		case '\\':
			if s.pos+1 >= len(s.src) {
				return "", fmt.Errorf("dangling escape at offset %d", s.pos)
			}

			next := s.src[s.pos+1]
			switch next {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(next)
			}

			s.pos += 2
		case quote:
			s.pos++

			return b.String(), nil
		default:
			b.WriteByte(c)
			s.pos++
		}
	}

	return "", fmt.Errorf("unterminated string at offset %d", s.pos)
}

// scalar parses numbers, booleans and null.
func (s *literalScanner) scalar() (any, error) {
	start := s.pos
	for s.pos < len(s.src) && isScalarChar(s.src[s.pos]) {
		s.pos++
	}

	token := s.src[start:s.pos]

	switch token {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	case "":
		return nil, fmt.Errorf("unexpected character at offset %d", start)
	}

	f, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return nil, fmt.Errorf("unrecognised scalar %q at offset %d", token, start)
	}

	return f, nil
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isScalarChar(c byte) bool {
	return c == '-' || c == '+' || c == '.' ||
		(c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// coerceInt reads a decoded literal value as an int.
func coerceInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))

		return n, err == nil
	default:
		return 0, false
	}
}

// coerceFloat reads a decoded literal value as a float64.
func coerceFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)

		return f, err == nil
	default:
		return 0, false
	}
}

// rawString preserves the source's textual form of a lap time.
func rawString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// stringList reads a decoded segments value, defaulting to empty when the
// field is absent or not an array.
func stringList(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return []string{}
	}

	out := make([]string, 0, len(raw))

	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}

	return out
}
