package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-delve/liner"

	"github.com/elfscope/elfscope/pkg/config"
	"github.com/elfscope/elfscope/pkg/demangle"
	"github.com/elfscope/elfscope/pkg/disasm"
	"github.com/elfscope/elfscope/pkg/target"
	"github.com/elfscope/elfscope/pkg/terminal/colorize"
	"github.com/elfscope/elfscope/pkg/terminal/starbind"
	"github.com/mattn/go-isatty"
)

const historyFile string = "history"

// listingColors styles the hexdump columns when the output is a
// terminal and colors are enabled.
var listingColors = map[colorize.Style]string{
	colorize.NormalStyle:  "\033[0m",
	colorize.AddressStyle: "\033[34m",
	colorize.BytesStyle:   "\033[0m",
	colorize.StringStyle:  "\033[32m",
	colorize.SymbolStyle:  "\033[33m",
	colorize.CommentStyle: "\033[90m",
}

// Term represents the terminal running elfscope.
type Term struct {
	tgt         *target.Target
	conf        *config.Config
	prompt      string
	line        *liner.State
	cmds        *Commands
	dumb        bool
	stdout      *transcriptWriter
	ttyColors   map[colorize.Style]string
	starlarkEnv *starbind.Env

	// InitFile is a command file executed before the first prompt.
	InitFile string
}

// New returns a new Term for examining tgt.
func New(tgt *target.Target, conf *config.Config) *Term {
	cmds := FileCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	var w io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	if dumb {
		w = os.Stdout
	} else {
		w = getColorableWriter()
	}

	t := &Term{
		tgt:    tgt,
		conf:   conf,
		prompt: "(elfscope) ",
		line:   liner.NewLiner(),
		cmds:   cmds,
		dumb:   dumb,
		stdout: &transcriptWriter{pw: &pagingWriter{w: w}},
	}

	if !dumb {
		t.ttyColors = listingColors
		if f, ok := w.(*os.File); ok && !isatty.IsTerminal(f.Fd()) {
			t.ttyColors = nil
		}
	}
	t.applyConfig()

	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	return t
}

// applyConfig pushes the settings that live outside the terminal onto
// the loaded file and the output writer.
func (t *Term) applyConfig() {
	if t.tgt != nil {
		if t.conf.Demangle == nil || *t.conf.Demangle {
			t.tgt.Syms.SetDemangler(demangle.NewCached(demangle.New(), 0))
		} else {
			t.tgt.Syms.SetDemangler(nil)
		}
	}
	if t.conf.UseColors == nil || *t.conf.UseColors {
		t.stdout.colorEscapes = t.ttyColors
	} else {
		t.stdout.colorEscapes = nil
	}
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
	t.stdout.pw.Reset()
	if err := t.stdout.CloseTranscript(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing transcript file: %v\n", err)
	}
}

// sigintGuard interrupts whatever script is running. Commands finish
// on their own, none of them blocks.
func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
	}
}

// Run begins the read, eval, print loop.
func (t *Term) Run() (int, error) {
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	go t.sigintGuard(ch)

	t.line.SetCompleter(func(line string) (c []string) {
		if idx := strings.Index(line, " "); idx > 0 && t.tgt != nil {
			verb, rest := line[:idx], strings.TrimLeft(line[idx+1:], " ")
			switch verb {
			case "fn", "eh":
				for _, name := range t.tgt.Syms.FuncNamesWithPrefix(rest) {
					c = append(c, verb+" "+name)
				}
			case "section", "sh":
				for _, sh := range t.tgt.File.Sections {
					if strings.HasPrefix(sh.Name, rest) {
						c = append(c, verb+" "+sh.Name)
					}
				}
			}
			return
		}
		for _, cmd := range t.cmds.cmds {
			for _, alias := range cmd.aliases {
				if strings.HasPrefix(alias, strings.ToLower(line)) {
					c = append(c, alias)
				}
			}
		}
		return
	})

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}

	t.line.ReadHistory(f)
	f.Close()
	fmt.Println("Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Println("exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("Prompt for input failed.\n")
		}

		err = t.cmds.Call(cmdstr, t)
		t.stdout.pw.Reset()
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

// Call executes a single command line, for one shot use outside the
// prompt loop.
func (t *Term) Call(cmdstr string) error {
	err := t.cmds.Call(cmdstr, t)
	t.stdout.pw.Reset()
	t.stdout.Flush()
	return err
}

// Target returns the loaded file.
func (t *Term) Target() *target.Target {
	return t.tgt
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}
	return 0, nil
}

// pageMaybe pages the output of the current command if it is
// connected to a terminal and it is long enough.
func (t *Term) pageMaybe() {
	t.stdout.pw.PageMaybe(nil)
}

func (t *Term) hexdumpWidth() int {
	if t.conf.HexdumpWidth > 0 {
		return t.conf.HexdumpWidth
	}
	return config.DefaultHexdumpWidth
}

func (t *Term) assemblyFlavour() disasm.AssemblyFlavour {
	switch t.conf.DisassemblyFlavour {
	case "intel":
		return disasm.IntelFlavour
	case "go":
		return disasm.GoFlavour
	default:
		return disasm.GNUFlavour
	}
}
