package protocol

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Command is a driver→worker control line
type Command interface {
	// Name is the leading protocol token
	Name() string
	// Args are the space separated arguments following the name
	Args() []string
}

// Encode renders a command as one protocol line including the newline
func Encode(c Command) string {
	var b strings.Builder
	b.WriteString(c.Name())
	for _, a := range c.Args() {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	b.WriteByte('\n')
	return b.String()
}

// Write sends one command line
func Write(w io.Writer, c Command) error {
	if _, err := io.WriteString(w, Encode(c)); err != nil {
		return fmt.Errorf("failed to send %s: %w", c.Name(), err)
	}
	return nil
}

// quoteArg keeps arguments containing spaces on a single token
func quoteArg(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"") {
		return strconv.Quote(s)
	}
	return s
}

// FileDump asks a dumper to dump into a holding-disk file
type FileDump struct {
	Handle string
	Host   string
	Disk   string
	Level  int
	Path   string
	Bytes  int64
}

func (FileDump) Name() string { return "FILE-DUMP" }
func (c FileDump) Args() []string {
	return []string{c.Handle, quoteArg(c.Host), quoteArg(c.Disk), strconv.Itoa(c.Level), quoteArg(c.Path), strconv.FormatInt(c.Bytes, 10)}
}

// PortDump asks a dumper to stream to the taper listening on Port
type PortDump struct {
	Handle string
	Host   string
	Disk   string
	Level  int
	Port   int
}

func (PortDump) Name() string { return "PORT-DUMP" }
func (c PortDump) Args() []string {
	return []string{c.Handle, quoteArg(c.Host), quoteArg(c.Disk), strconv.Itoa(c.Level), strconv.Itoa(c.Port)}
}

// Continue hands a dumper a new holding chunk after NO-ROOM
type Continue struct {
	Handle string
	Path   string
	Bytes  int64
}

func (Continue) Name() string { return "CONTINUE" }
func (c Continue) Args() []string {
	return []string{c.Handle, quoteArg(c.Path), strconv.FormatInt(c.Bytes, 10)}
}

// Abort cancels the dump identified by Handle
type Abort struct {
	Handle string
}

func (Abort) Name() string     { return "ABORT" }
func (c Abort) Args() []string { return []string{c.Handle} }

// Quit asks a worker to exit
type Quit struct{}

func (Quit) Name() string   { return "QUIT" }
func (Quit) Args() []string { return nil }

// StartTaper bootstraps the taper for a run
type StartTaper struct {
	RunID string
}

func (StartTaper) Name() string     { return "START-TAPER" }
func (c StartTaper) Args() []string { return []string{c.RunID} }

// FileWrite hands a finished holding-disk image to the taper
type FileWrite struct {
	Handle string
	Path   string
	Host   string
	Disk   string
	Level  int
}

func (FileWrite) Name() string { return "FILE-WRITE" }
func (c FileWrite) Args() []string {
	return []string{c.Handle, quoteArg(c.Path), quoteArg(c.Host), quoteArg(c.Disk), strconv.Itoa(c.Level)}
}

// PortWrite asks the taper to open a port for a direct transfer
type PortWrite struct {
	Handle string
	Host   string
	Disk   string
	Level  int
}

func (PortWrite) Name() string { return "PORT-WRITE" }
func (c PortWrite) Args() []string {
	return []string{c.Handle, quoteArg(c.Host), quoteArg(c.Disk), strconv.Itoa(c.Level)}
}
