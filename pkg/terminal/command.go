// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"bufio"
	"debug/elf"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"

	"github.com/elfscope/elfscope/pkg/disasm"
	"github.com/elfscope/elfscope/pkg/dwarf/frame"
	"github.com/elfscope/elfscope/pkg/dwarf/lsda"
	"github.com/elfscope/elfscope/pkg/dwarf/regnum"
	"github.com/elfscope/elfscope/pkg/elffile"
	"github.com/elfscope/elfscope/pkg/secview"
	"github.com/elfscope/elfscope/pkg/symtab"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the elfscope terminal process.
type Commands struct {
	cmds []command
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// FileCommands returns a Commands struct with default commands defined.
func FileCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"header"}, group: fileCmds, cmdFn: headerCmd, helpMsg: `Print the file header.

	header

Shows class, endianness, OS/ABI, machine, entry point and the layout of
the section and program header tables.`},
		{aliases: []string{"ph", "segments"}, group: fileCmds, cmdFn: phCmd, helpMsg: `Print the program header table.

	ph

One line per segment: type, permissions, file range, memory range and
alignment. Defective entries are listed with the problem that was found
in them.`},
		{aliases: []string{"sh", "sections"}, group: fileCmds, cmdFn: shCmd, helpMsg: `Print the section header table.

	sh [pattern]

One line per section. If a regular expression is given only matching
section names are listed. Defective entries are listed with the problem
that was found in them.`},
		{aliases: []string{"section"}, group: fileCmds, cmdFn: sectionCmd, helpMsg: `Print the contents of one section.

	section <name> [-skip <n>] [-size <n>] [-o <file>]

String table sections print one string per line with its offset,
.eh_frame_hdr prints the decoded search table, everything else prints a
hex listing. -skip and -size select a byte window and always use the
hex listing. -o writes the (windowed) raw bytes to a file instead of
printing them.`},
		{aliases: []string{"summary"}, group: fileCmds, cmdFn: summaryCmd, helpMsg: `Print an overview of the file.

	summary

Shows the file identity, table sizes, symbol counts and every decoding
defect found while loading.`},
		{aliases: []string{"sym", "symbols"}, group: symCmds, cmdFn: symCmd, helpMsg: `List symbols.

	sym [-d] [-g|-l|-w] [-t <type>] [-u] [-r <regexp>] [-D] [-no-rust-std]

	-d	only symbols from the dynamic table
	-g	only global symbols
	-l	only local symbols
	-w	only weak symbols
	-t	only symbols of the given type (func, object, section, file, tls, notype, common)
	-u	only undefined symbols
	-r	only symbols whose display name matches the regular expression
	-D	print raw linker names, without demangling
	-no-rust-std	hide symbols from the Rust standard library crates

Filters compose; the regular expression always matches the demangled
name even when -D is given.`},
		{aliases: []string{"fn", "disass"}, group: symCmds, cmdFn: fnCmd, helpMsg: `Disassemble a function.

	fn [-eh] <name|0xaddr>

The function is found by display name, raw name or, with a 0x prefixed
hexadecimal address, by the covering symbol. -eh annotates every
instruction with the call frame rule row in effect at its address.
The assembly flavour comes from the configuration (config
disassembly-flavour gnu|intel|go).`},
		{aliases: []string{"eh"}, group: ehCmds, cmdFn: ehCmd, helpMsg: `Show exception handling and unwind data.

	eh [<name|0xaddr>]

Without arguments lists every frame description entry with its range
and CIE. With a function, prints the CIE fields, the decoded call frame
rule table and the exception regions of the function's language
specific data area.`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias of <command> or removes an alias.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of elfscope commands

	source <path>

If path ends with the .star extension it will be interpreted as a
starlark script. See Documentation/cli/starlark.md for the syntax.

If path is a single '-' character an interactive starlark interpreter
will start instead. Type 'exit' to exit.`},
		{aliases: []string{"transcript"}, cmdFn: transcript, helpMsg: `Appends command output to a file.

	transcript [-t] [-x] <output file>
	transcript -off

Output of elfscope's commands is appended to the specified output file.
If '-t' is specified and the output file exists it is truncated.
If '-x' is specified output to stdout is suppressed instead.

Using the -off option disables the transcript.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the program.

	exit`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) cmdfunc {
	// If <enter> use last command, if there was one.
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var noCmdError = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return noCmdError
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return noCmdError
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits a command argument list honoring quotes.
func splitArgs(args string) ([]string, error) {
	if args == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, errors.New("pipelines are not supported")
	}
	return v[0], nil
}

func headerCmd(t *Term, args string) error {
	h := &t.tgt.File.Header
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 4, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Class:\t%v\n", h.Class)
	fmt.Fprintf(w, "Data:\t%v\n", h.Data)
	fmt.Fprintf(w, "OS/ABI:\t%v, ABI version %d\n", h.OSABI, h.ABIVersion)
	fmt.Fprintf(w, "Type:\t%v\n", h.Type)
	fmt.Fprintf(w, "Machine:\t%v\n", h.Machine)
	fmt.Fprintf(w, "Version:\t%d\n", h.Version)
	fmt.Fprintf(w, "Entry point:\t%#x\n", h.Entry)
	fmt.Fprintf(w, "Flags:\t%#x\n", h.Flags)
	fmt.Fprintf(w, "Program headers:\t%d entries, %d bytes each, at offset %#x\n", h.PhNum, h.PhEntSize, h.PhOff)
	fmt.Fprintf(w, "Section headers:\t%d entries, %d bytes each, at offset %#x\n", h.ShNum, h.ShEntSize, h.ShOff)
	fmt.Fprintf(w, "Section name table:\tsection %d\n", h.ShStrNdx)
	return w.Flush()
}

func progFlagString(f elf.ProgFlag) string {
	b := []byte("---")
	if f&elf.PF_R != 0 {
		b[0] = 'r'
	}
	if f&elf.PF_W != 0 {
		b[1] = 'w'
	}
	if f&elf.PF_X != 0 {
		b[2] = 'x'
	}
	return string(b)
}

func phCmd(t *Term, args string) error {
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 4, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Idx\tType\tFlags\tOffset\tVaddr\tFilesz\tMemsz\tAlign")
	for _, ph := range t.tgt.File.Progs {
		if ph.Err != nil {
			fmt.Fprintf(w, "%d\t(defect: %v)\n", ph.Index, ph.Err)
			continue
		}
		fmt.Fprintf(w, "%d\t%v\t%s\t%#x\t%#x\t%#x\t%#x\t%#x\n",
			ph.Index, ph.Type, progFlagString(ph.Flags), ph.Off, ph.Vaddr, ph.Filesz, ph.Memsz, ph.Align)
	}
	return w.Flush()
}

func sectionFlagString(f elf.SectionFlag) string {
	var b []byte
	for _, fl := range []struct {
		f elf.SectionFlag
		c byte
	}{
		{elf.SHF_WRITE, 'W'},
		{elf.SHF_ALLOC, 'A'},
		{elf.SHF_EXECINSTR, 'X'},
		{elf.SHF_MERGE, 'M'},
		{elf.SHF_STRINGS, 'S'},
		{elf.SHF_INFO_LINK, 'I'},
		{elf.SHF_LINK_ORDER, 'L'},
		{elf.SHF_TLS, 'T'},
	} {
		if f&fl.f != 0 {
			b = append(b, fl.c)
		}
	}
	return string(b)
}

func shCmd(t *Term, args string) error {
	var re *regexp.Regexp
	if args != "" {
		var err error
		re, err = regexp.Compile(args)
		if err != nil {
			return fmt.Errorf("invalid pattern: %v", err)
		}
	}

	t.pageMaybe()
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 4, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Idx\tName\tType\tFlags\tAddr\tOffset\tSize\tEntSize")
	for _, sh := range t.tgt.File.Sections {
		if re != nil && !re.MatchString(sh.Name) {
			continue
		}
		if sh.Err != nil {
			fmt.Fprintf(w, "%d\t%s\t(defect: %v)\n", sh.Index, sh.Name, sh.Err)
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%v\t%s\t%#x\t%#x\t%#x\t%#x\n",
			sh.Index, sh.Name, sh.Type, sectionFlagString(sh.Flags), sh.Addr, sh.Offset, sh.Size, sh.EntSize)
	}
	return w.Flush()
}

// window clips data to the byte range selected by -skip and -size.
func window(data []byte, skip, size uint64) []byte {
	if skip >= uint64(len(data)) {
		return nil
	}
	data = data[skip:]
	if size != 0 && size < uint64(len(data)) {
		data = data[:size]
	}
	return data
}

func sectionCmd(t *Term, args string) error {
	fields, err := splitArgs(args)
	if err != nil {
		return err
	}

	var (
		name     string
		skip     uint64
		size     uint64
		outPath  string
		windowed bool
	)
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "-skip", "-size":
			opt := fields[i]
			i++
			if i >= len(fields) {
				return fmt.Errorf("expected argument after %s", opt)
			}
			n, err := strconv.ParseUint(fields[i], 0, 64)
			if err != nil {
				return fmt.Errorf("%s: %v", opt, err)
			}
			if opt == "-skip" {
				skip = n
			} else {
				size = n
			}
			windowed = true
		case "-o":
			i++
			if i >= len(fields) {
				return errors.New("expected argument after -o")
			}
			outPath = fields[i]
		default:
			if name != "" || strings.HasPrefix(fields[i], "-") {
				return fmt.Errorf("unknown option %q", fields[i])
			}
			name = fields[i]
		}
	}
	if name == "" {
		return errors.New("not enough arguments")
	}

	sh, err := t.tgt.File.Section(name)
	if err != nil {
		return err
	}

	if outPath != "" {
		data, err := t.tgt.File.SectionData(sh)
		if err != nil {
			return err
		}
		data = window(data, skip, size)
		if err := ioutil.WriteFile(outPath, data, 0644); err != nil {
			return err
		}
		fmt.Fprintf(t.stdout, "%d bytes written to %s\n", len(data), outPath)
		return nil
	}

	if windowed {
		data, err := t.tgt.File.SectionData(sh)
		if err != nil {
			return err
		}
		t.pageMaybe()
		t.stdout.Hexdump(window(data, skip, size), sectionBase(sh)+skip, t.hexdumpWidth())
		return nil
	}

	switch view := secview.Interpret(t.tgt.File, sh).(type) {
	case *secview.StringTableView:
		t.pageMaybe()
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 4, 4, 2, ' ', 0)
		fmt.Fprintln(w, "Offset\tString")
		for _, s := range view.Strings {
			fmt.Fprintf(w, "%#x\t%q\n", s.Off, s.Str)
		}
		return w.Flush()

	case *secview.EhFrameHdrView:
		fmt.Fprintf(t.stdout, "version %d, .eh_frame at %#x, %d search entries\n",
			view.Version, view.EhFramePtr, view.FdeCount)
		t.pageMaybe()
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 4, 4, 2, ' ', 0)
		fmt.Fprintln(w, "Location\tFDE")
		for _, e := range view.Entries {
			fmt.Fprintf(w, "%#x\t%#x\n", e.Location, e.FdePtr)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if view.Defect != nil {
			fmt.Fprintf(t.stdout, "defect: %v\n", view.Defect)
		}
		return nil

	case *secview.RawView:
		if view.NoBits {
			fmt.Fprintf(t.stdout, "section %s occupies no file bytes (%#x bytes of memory at %#x)\n",
				sh.Name, sh.Size, sh.Addr)
			return nil
		}
		if view.Data == nil {
			return sh.Err
		}
		t.pageMaybe()
		t.stdout.Hexdump(view.Data, sectionBase(sh), t.hexdumpWidth())
		return nil
	}
	return nil
}

// sectionBase labels hexdump rows with the virtual address for
// allocated sections and the file offset otherwise.
func sectionBase(sh *elffile.SectionHeader) uint64 {
	if sh.Addr != 0 {
		return sh.Addr
	}
	return sh.Offset
}

func summaryCmd(t *Term, args string) error {
	f := t.tgt.File
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 4, 4, 2, ' ', 0)
	fmt.Fprintf(w, "File:\t%s (%d bytes)\n", t.tgt.Path, f.Size())
	fmt.Fprintf(w, "Identity:\t%v %v %v %v\n", f.Class, f.Data, f.Type, f.Machine)
	fmt.Fprintf(w, "Entry point:\t%#x\n", f.Entry)
	fmt.Fprintf(w, "Sections:\t%d\n", len(f.Sections))
	fmt.Fprintf(w, "Segments:\t%d\n", len(f.Progs))

	static := len(t.tgt.Syms.Filter(symtab.FromTable(symtab.Static)).Collect())
	dynamic := len(t.tgt.Syms.Filter(symtab.FromTable(symtab.Dynamic)).Collect())
	fmt.Fprintf(w, "Symbols:\t%d static, %d dynamic\n", static, dynamic)
	fmt.Fprintf(w, "Frame entries:\t%d\n", len(t.tgt.Frame))
	fmt.Fprintf(w, "Exception tables:\t%d\n", len(t.tgt.EH))
	if err := w.Flush(); err != nil {
		return err
	}

	var defects []error
	for _, sh := range f.Sections {
		if sh.Err != nil {
			defects = append(defects, sh.Err)
		}
	}
	for _, ph := range f.Progs {
		if ph.Err != nil {
			defects = append(defects, ph.Err)
		}
	}
	defects = append(defects, t.tgt.Syms.Problems()...)
	if t.tgt.FrameErr != nil {
		defects = append(defects, t.tgt.FrameErr)
	}
	if t.tgt.EHErr != nil {
		defects = append(defects, t.tgt.EHErr)
	}
	if len(defects) > 0 {
		fmt.Fprintf(t.stdout, "\n%d decoding defects:\n", len(defects))
		for _, d := range defects {
			fmt.Fprintf(t.stdout, "\t%v\n", d)
		}
	}
	return nil
}

func parseSymType(s string) (elf.SymType, error) {
	switch strings.ToLower(s) {
	case "notype":
		return elf.STT_NOTYPE, nil
	case "object":
		return elf.STT_OBJECT, nil
	case "func", "function":
		return elf.STT_FUNC, nil
	case "section":
		return elf.STT_SECTION, nil
	case "file":
		return elf.STT_FILE, nil
	case "common":
		return elf.STT_COMMON, nil
	case "tls":
		return elf.STT_TLS, nil
	}
	return 0, fmt.Errorf("unknown symbol type %q", s)
}

func shndxString(ndx uint16) string {
	switch elf.SectionIndex(ndx) {
	case elf.SHN_UNDEF:
		return "UND"
	case elf.SHN_ABS:
		return "ABS"
	case elf.SHN_COMMON:
		return "COM"
	}
	if elf.SectionIndex(ndx) >= elf.SHN_LORESERVE {
		return fmt.Sprintf("%#x", ndx)
	}
	return strconv.Itoa(int(ndx))
}

func symCmd(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}

	var preds []symtab.Predicate
	rawNames := false
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case "-d":
			preds = append(preds, symtab.FromTable(symtab.Dynamic))
		case "-g":
			preds = append(preds, symtab.WithBinding(elf.STB_GLOBAL))
		case "-l":
			preds = append(preds, symtab.WithBinding(elf.STB_LOCAL))
		case "-w":
			preds = append(preds, symtab.WithBinding(elf.STB_WEAK))
		case "-t":
			i++
			if i >= len(v) {
				return errors.New("expected argument after -t")
			}
			typ, err := parseSymType(v[i])
			if err != nil {
				return err
			}
			preds = append(preds, symtab.WithType(typ))
		case "-u":
			preds = append(preds, symtab.DefinedOnly(false))
		case "-r":
			i++
			if i >= len(v) {
				return errors.New("expected argument after -r")
			}
			re, err := regexp.Compile(v[i])
			if err != nil {
				return fmt.Errorf("invalid pattern: %v", err)
			}
			preds = append(preds, symtab.NameMatches(re))
		case "-D":
			rawNames = true
		case "-no-rust-std":
			preds = append(preds, symtab.NotRustStd())
		default:
			return fmt.Errorf("unknown option %q", v[i])
		}
	}

	t.pageMaybe()
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 4, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Value\tSize\tBind\tType\tVis\tNdx\tTable\tName")
	n := 0
	it := t.tgt.Syms.Filter(preds...)
	for {
		s, ok := it.Next()
		if !ok {
			break
		}
		if s.Index == 0 {
			// Null record, one per table.
			continue
		}
		name := s.Name
		if !rawNames {
			name = t.tgt.Syms.DisplayName(&s)
		}
		fmt.Fprintf(w, "%#x\t%d\t%v\t%v\t%v\t%s\t%v\t%s\n",
			s.Value, s.Size, s.Binding(), s.Type(), s.Visibility(), shndxString(s.Shndx), s.Origin, name)
		n++
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "(%d symbols)\n", n)
	return nil
}

func fnCmd(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}

	withUnwind := false
	var spec []string
	for _, arg := range v {
		if arg == "-eh" {
			withUnwind = true
			continue
		}
		spec = append(spec, arg)
	}
	if len(spec) == 0 {
		return errors.New("not enough arguments")
	}

	sym, err := t.tgt.FindFunction(strings.Join(spec, " "))
	if err != nil {
		return err
	}

	opts := disasm.Options{}
	if withUnwind {
		opts.Unwind = t.tgt.Frame
	}
	seq, err := disasm.Disassemble(t.tgt.File, t.tgt.Syms, &sym, opts)
	if err != nil {
		return err
	}

	t.pageMaybe()
	return disasmPrint(t, seq, &sym, withUnwind)
}

func (t *Term) regName(num uint64) string {
	return regnum.ToName(t.tgt.File.Machine, num)
}

func dwRuleString(t *Term, rule frame.DWRule) string {
	return frame.RuleString(rule, t.regName)
}

func regRulesString(t *Term, regs map[uint64]frame.DWRule) string {
	nums := make([]uint64, 0, len(regs))
	for n := range regs {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	var sb strings.Builder
	for i, n := range nums {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%s=%s", t.regName(n), dwRuleString(t, regs[n]))
	}
	return sb.String()
}

func ehCmd(t *Term, args string) error {
	if len(t.tgt.Frame) == 0 {
		if t.tgt.FrameErr != nil {
			return fmt.Errorf("no frame information: %v", t.tgt.FrameErr)
		}
		return errors.New("no frame information in this file")
	}

	if args == "" {
		t.pageMaybe()
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 4, 4, 2, ' ', 0)
		fmt.Fprintln(w, "Range\tCIE\tLSDA\tFunction")
		for _, fde := range t.tgt.Frame {
			name := ""
			if s, ok := t.tgt.Syms.FindCovering(fde.Begin()); ok {
				name = t.tgt.Syms.DisplayName(&s)
			}
			lsdaStr := "-"
			if fde.HasLSDA {
				lsdaStr = fmt.Sprintf("%#x", fde.LSDAPointer)
			}
			fmt.Fprintf(w, "%#x-%#x\tv%d %q\t%s\t%s\n",
				fde.Begin(), fde.End(), fde.CIE.Version, fde.CIE.Augmentation, lsdaStr, name)
		}
		return w.Flush()
	}

	sym, err := t.tgt.FindFunction(args)
	if err != nil {
		return err
	}
	fde, err := t.tgt.Frame.FDEForPC(sym.Value)
	if err != nil {
		return err
	}

	fmt.Fprintf(t.stdout, "FDE %#x-%#x (%s)\n", fde.Begin(), fde.End(), t.tgt.Syms.DisplayName(&sym))
	cie := fde.CIE
	fmt.Fprintf(t.stdout, "CIE version %d, augmentation %q, code align %d, data align %d, return address in %s\n",
		cie.Version, cie.Augmentation, cie.CodeAlignmentFactor, cie.DataAlignmentFactor, t.regName(cie.ReturnAddressRegister))
	if cie.IsSignalHandler {
		fmt.Fprintln(t.stdout, "signal handler frame")
	}

	t.pageMaybe()
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 4, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Range\tCFA\tRules")
	for _, row := range fde.RuleTable() {
		if row.Unknown {
			fmt.Fprintf(w, "%#x-%#x\t?\t(undecoded opcode, rules unknown from here)\n", row.Start, row.End)
			continue
		}
		fmt.Fprintf(w, "%#x-%#x\t%s\t%s\n",
			row.Start, row.End, dwRuleString(t, row.CFA), regRulesString(t, row.Regs))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	regions := lsda.FindForSymbol(t.tgt.EH, &sym)
	if len(regions) == 0 {
		if fde.HasLSDA {
			fmt.Fprintf(t.stdout, "\nLSDA at %#x could not be decoded\n", fde.LSDAPointer)
		}
		return nil
	}
	fmt.Fprintln(t.stdout, "\nException regions:")
	w = new(tabwriter.Writer)
	w.Init(t.stdout, 4, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Try range\tLanding pad\tAction")
	for _, r := range regions {
		lp := "propagate"
		if r.LandingPad != 0 {
			lp = fmt.Sprintf("%#x", r.LandingPad)
		}
		action := "cleanup"
		if r.Action != 0 {
			action = fmt.Sprintf("filter %d", r.Action)
		}
		fmt.Fprintf(w, "%#x-%#x\t%s\t%s\n", r.Start, r.End, lp, action)
	}
	return w.Flush()
}

// ExitRequestError is returned when the user
// exits elfscope.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	if args == "-" {
		return t.starlarkEnv.REPL()
	}

	return c.executeFile(t, args)
}

func transcript(t *Term, args string) error {
	truncate := false
	fileOnly := false
	disable := false
	path := ""
	for _, arg := range strings.Fields(args) {
		switch arg {
		case "-x":
			fileOnly = true
		case "-t":
			truncate = true
		case "-off":
			disable = true
		default:
			if path != "" || strings.HasPrefix(arg, "-") {
				return fmt.Errorf("unrecognized option %q", arg)
			}
			path = arg
		}
	}

	if disable {
		if path != "" {
			return errors.New("-off can not be used with an output file")
		}
		return t.stdout.CloseTranscript()
	}
	if path == "" {
		return errors.New("not enough arguments")
	}

	flags := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	fh, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return err
	}
	t.stdout.TranscribeTo(fh, fileOnly)
	return nil
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Printf("%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
