package protocol

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Token identifies a worker→driver reply
type Token string

const (
	// Bogus stands for any line that could not be parsed
	Bogus Token = "BOGUS"

	// dumper replies
	Done          Token = "DONE"
	Failed        Token = "FAILED"
	TryAgain      Token = "TRY-AGAIN"
	FatalTryAgain Token = "FATAL-TRY-AGAIN"
	NoRoom        Token = "NO-ROOM"
	AbortFinished Token = "ABORT-FINISHED"
	FailOutput    Token = "FAIL-OUTPUT"
	BadCommand    Token = "BAD-COMMAND"

	// taper replies
	Port      Token = "PORT"
	TapeError Token = "TAPE-ERROR"
	TaperOK   Token = "TAPER-OK"
)

var (
	ErrUnterminatedQuote = errors.New("unterminated quoted string")

	handleRe = regexp.MustCompile(`^\d{2}-\d{5}$`)
)

// FormatHandle builds the job tag sent with every per-job command
func FormatHandle(worker, serial int) string {
	return fmt.Sprintf("%02d-%05d", worker, serial%100000)
}

// IsHandle reports whether s has the shape produced by FormatHandle
func IsHandle(s string) bool {
	return handleRe.MatchString(s)
}

// Reply is a parsed worker→driver line. Which fields are meaningful depends
// on Token; Line always keeps the raw text.
type Reply struct {
	Token    Token
	Handle   string
	Bytes    int64
	Duration time.Duration
	Port     int
	Label    string
	FileNum  int
	Message  string
	Line     string
}

func (r Reply) String() string {
	if r.Handle == "" {
		return string(r.Token)
	}
	return string(r.Token) + " " + r.Handle
}

func bogus(line, format string, args ...interface{}) Reply {
	return Reply{Token: Bogus, Message: fmt.Sprintf(format, args...), Line: line}
}

// ParseDumperReply parses one line received from a dumper
func ParseDumperReply(line string) Reply {
	fields, err := tokenize(line)
	if err != nil {
		return bogus(line, "%v", err)
	}
	if len(fields) == 0 {
		return bogus(line, "empty line")
	}

	r := Reply{Token: Token(fields[0]), Line: line}
	switch r.Token {
	case Done:
		if len(fields) != 4 {
			return bogus(line, "DONE wants 3 arguments, got %d", len(fields)-1)
		}
		r.Handle = fields[1]
		if r.Bytes, err = strconv.ParseInt(fields[2], 10, 64); err != nil || r.Bytes < 0 {
			return bogus(line, "bad size %q", fields[2])
		}
		secs, err := strconv.ParseFloat(fields[3], 64)
		if err != nil || secs < 0 {
			return bogus(line, "bad duration %q", fields[3])
		}
		r.Duration = time.Duration(secs * float64(time.Second))
	case Failed, TryAgain, FatalTryAgain, FailOutput:
		if len(fields) < 2 {
			return bogus(line, "%s without handle", r.Token)
		}
		r.Handle = fields[1]
		r.Message = strings.Join(fields[2:], " ")
	case NoRoom:
		if len(fields) != 3 {
			return bogus(line, "NO-ROOM wants 2 arguments, got %d", len(fields)-1)
		}
		r.Handle = fields[1]
		if r.Bytes, err = strconv.ParseInt(fields[2], 10, 64); err != nil || r.Bytes < 0 {
			return bogus(line, "bad size %q", fields[2])
		}
	case AbortFinished:
		if len(fields) != 2 {
			return bogus(line, "ABORT-FINISHED wants 1 argument, got %d", len(fields)-1)
		}
		r.Handle = fields[1]
	case BadCommand:
		r.Message = strings.Join(fields[1:], " ")
	default:
		return bogus(line, "unknown dumper reply %q", fields[0])
	}

	if r.Handle != "" && !IsHandle(r.Handle) {
		return bogus(line, "malformed handle %q", r.Handle)
	}
	return r
}

// ParseTaperReply parses one line received from the taper
func ParseTaperReply(line string) Reply {
	fields, err := tokenize(line)
	if err != nil {
		return bogus(line, "%v", err)
	}
	if len(fields) == 0 {
		return bogus(line, "empty line")
	}

	r := Reply{Token: Token(fields[0]), Line: line}
	switch r.Token {
	case TaperOK:
		switch len(fields) {
		case 1:
			// reply to START-TAPER
		case 4:
			r.Handle = fields[1]
			r.Label = fields[2]
			if r.FileNum, err = strconv.Atoi(fields[3]); err != nil {
				return bogus(line, "bad file number %q", fields[3])
			}
		default:
			return bogus(line, "TAPER-OK wants 0 or 3 arguments, got %d", len(fields)-1)
		}
	case Port:
		if len(fields) != 3 {
			return bogus(line, "PORT wants 2 arguments, got %d", len(fields)-1)
		}
		r.Handle = fields[1]
		if r.Port, err = strconv.Atoi(fields[2]); err != nil || r.Port <= 0 || r.Port > 65535 {
			return bogus(line, "bad port %q", fields[2])
		}
	case TapeError:
		rest := fields[1:]
		if len(rest) > 0 && IsHandle(rest[0]) {
			r.Handle = rest[0]
			rest = rest[1:]
		}
		r.Message = strings.Join(rest, " ")
	default:
		return bogus(line, "unknown taper reply %q", fields[0])
	}

	if r.Handle != "" && !IsHandle(r.Handle) {
		return bogus(line, "malformed handle %q", r.Handle)
	}
	return r
}

// tokenize splits on whitespace, honouring Go-style double quoted strings
func tokenize(line string) ([]string, error) {
	var out []string
	s := strings.TrimRight(line, "\r\n")
	for {
		s = strings.TrimLeft(s, " \t")
		if s == "" {
			return out, nil
		}
		if s[0] == '"' {
			q, err := strconv.QuotedPrefix(s)
			if err != nil {
				return nil, ErrUnterminatedQuote
			}
			v, err := strconv.Unquote(q)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
			s = s[len(q):]
			continue
		}
		end := strings.IndexAny(s, " \t")
		if end < 0 {
			end = len(s)
		}
		out = append(out, s[:end])
		s = s[end:]
	}
}
