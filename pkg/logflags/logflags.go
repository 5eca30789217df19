package logflags

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var elffile = false
var symtab = false
var frame = false
var lsda = false
var disasm = false
var terminal = false

var logOut io.WriteCloser

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	return makeLogger(flagToLevel(flag), fields)
}

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func flagToLevel(flag bool) logrus.Level {
	if flag {
		return logrus.DebugLevel
	}
	return logrus.ErrorLevel
}

// Any returns true if any logging is enabled.
func Any() bool {
	return elffile || symtab || frame || lsda || disasm || terminal
}

// ElfFile returns true if the structural parser should log recoverable
// decode defects.
func ElfFile() bool {
	return elffile
}

// ElfFileLogger returns a logger for the structural parser.
func ElfFileLogger() Logger {
	return makeFlaggableLogger(elffile, Fields{"layer": "elffile"})
}

// Symtab returns true if symbol index construction should log the
// records it degrades.
func Symtab() bool {
	return symtab
}

// SymtabLogger returns a logger for the symbol index.
func SymtabLogger() Logger {
	return makeFlaggableLogger(symtab, Fields{"layer": "symtab"})
}

// Frame returns true if the call frame information decoder should log
// the entries it skips.
func Frame() bool {
	return frame
}

// FrameLogger returns a logger for the call frame information decoder.
func FrameLogger() Logger {
	return makeFlaggableLogger(frame, Fields{"layer": "dwarf", "kind": "frame"})
}

// LSDA returns true if the exception table parser should log.
func LSDA() bool {
	return lsda
}

// LSDALogger returns a logger for the exception table parser.
func LSDALogger() Logger {
	return makeFlaggableLogger(lsda, Fields{"layer": "dwarf", "kind": "lsda"})
}

// Disasm returns true if the disassembly driver should log.
func Disasm() bool {
	return disasm
}

// DisasmLogger returns a logger for the disassembly driver.
func DisasmLogger() Logger {
	return makeFlaggableLogger(disasm, Fields{"layer": "disasm"})
}

// Terminal returns true if command dispatch should be logged.
func Terminal() bool {
	return terminal
}

// TerminalLogger returns a logger for command dispatch.
func TerminalLogger() Logger {
	return makeFlaggableLogger(terminal, Fields{"layer": "terminal"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr. If
// logDest is not empty logs are redirected to the file descriptor or
// file path it names.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "elfscope-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "terminal"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "elffile":
			elffile = true
		case "symtab":
			symtab = true
		case "frame":
			frame = true
		case "lsda":
			lsda = true
		case "disasm":
			disasm = true
		case "terminal":
			terminal = true
		default:
			return fmt.Errorf("invalid log component %q, expected one of elffile, symtab, frame, lsda, disasm or terminal", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or
// to a terminal that doesn't support colors.
type textFormatter struct {
}

var textFormatterInstance = &textFormatter{}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}
	b.WriteString(entry.Time.Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(entry.Level.String())
	b.WriteByte(' ')
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, key := range keys {
		b.WriteString(key)
		b.WriteByte('=')
		stringVal, ok := entry.Data[key].(string)
		if !ok {
			stringVal = fmt.Sprint(entry.Data[key])
		}
		if f.needsQuoting(stringVal) {
			fmt.Fprintf(b, "%q", stringVal)
		} else {
			b.WriteString(stringVal)
		}
		if i != len(keys)-1 {
			b.WriteByte(',')
		} else {
			b.WriteByte(' ')
		}
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func (f *textFormatter) needsQuoting(text string) bool {
	for _, ch := range text {
		if !((ch >= 'a' && ch <= 'z') ||
			(ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '/' || ch == '@' || ch == '^' || ch == '+') {
			return true
		}
	}
	return false
}
