package starbind

import (
	"fmt"
	"regexp"

	"go.starlark.net/starlark"

	"github.com/elfscope/elfscope/pkg/disasm"
	"github.com/elfscope/elfscope/pkg/dwarf/frame"
	"github.com/elfscope/elfscope/pkg/dwarf/lsda"
	"github.com/elfscope/elfscope/pkg/dwarf/regnum"
	"github.com/elfscope/elfscope/pkg/symtab"
)

// Script views of engine values. Only plain exported fields so conv.go
// can reflect them into starlark objects.

type symbolView struct {
	Name    string
	Value   uint64
	Size    uint64
	Binding string
	Type    string
	Table   string
	Defined bool
}

type instructionView struct {
	PC    uint64
	Size  int
	Text  string
	Valid bool
}

type ruleRowView struct {
	Start uint64
	End   uint64
	CFA   string
	Regs  map[string]string
}

func (env *Env) symbolView(s *symtab.Symbol) symbolView {
	return symbolView{
		Name:    env.ctx.Target().Syms.DisplayName(s),
		Value:   s.Value,
		Size:    s.Size,
		Binding: fmt.Sprintf("%v", s.Binding()),
		Type:    fmt.Sprintf("%v", s.Type()),
		Table:   s.Origin.String(),
		Defined: s.Defined(),
	}
}

// starlarkPredeclare returns the builtins that expose the analysis
// engine to scripts, with their help strings.
func (env *Env) starlarkPredeclare() (starlark.StringDict, map[string]string) {
	r := starlark.StringDict{}
	doc := make(map[string]string)

	r["header"] = starlark.NewBuiltin("header", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		return env.interfaceToStarlarkValue(env.ctx.Target().File.Header), nil
	})
	doc["header"] = "builtin header()\n\nheader returns the file header."

	r["sections"] = starlark.NewBuiltin("sections", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		return env.interfaceToStarlarkValue(env.ctx.Target().File.Sections), nil
	})
	doc["sections"] = "builtin sections()\n\nsections returns the section header table."

	r["segments"] = starlark.NewBuiltin("segments", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		return env.interfaceToStarlarkValue(env.ctx.Target().File.Progs), nil
	})
	doc["segments"] = "builtin segments()\n\nsegments returns the program header table."

	r["symbols"] = starlark.NewBuiltin("symbols", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		var pattern string
		if len(args) > 0 && args[0] != starlark.None {
			err := unmarshalStarlarkValue(args[0], &pattern, "Pattern")
			if err != nil {
				return starlark.None, decorateError(thread, err)
			}
		}
		for _, kv := range kwargs {
			var err error
			switch kv[0].(starlark.String) {
			case "Pattern":
				err = unmarshalStarlarkValue(kv[1], &pattern, "Pattern")
			default:
				err = fmt.Errorf("unknown argument %q", kv[0])
			}
			if err != nil {
				return starlark.None, decorateError(thread, err)
			}
		}
		var preds []symtab.Predicate
		if pattern != "" {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return starlark.None, decorateError(thread, err)
			}
			preds = append(preds, symtab.NameMatches(re))
		}
		views := []symbolView{}
		it := env.ctx.Target().Syms.Filter(preds...)
		for {
			s, ok := it.Next()
			if !ok {
				break
			}
			if s.Index == 0 {
				continue
			}
			views = append(views, env.symbolView(&s))
		}
		return env.interfaceToStarlarkValue(views), nil
	})
	doc["symbols"] = "builtin symbols(Pattern)\n\nsymbols returns all symbols, or the ones whose display name matches the regular expression Pattern."

	r["symbol"] = starlark.NewBuiltin("symbol", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		if len(args) != 1 {
			return starlark.None, decorateError(thread, fmt.Errorf("wrong number of arguments"))
		}
		syms := env.ctx.Target().Syms
		switch arg := args[0].(type) {
		case starlark.Int:
			addr, ok := arg.Uint64()
			if !ok {
				return starlark.None, decorateError(thread, fmt.Errorf("argument of symbol is not an address"))
			}
			s, ok := syms.FindCovering(addr)
			if !ok {
				return starlark.None, nil
			}
			return env.interfaceToStarlarkValue(env.symbolView(&s)), nil
		case starlark.String:
			matches := syms.FindByDisplayName(string(arg))
			if len(matches) == 0 {
				matches = syms.FindByName(string(arg))
			}
			if len(matches) == 0 {
				return starlark.None, nil
			}
			return env.interfaceToStarlarkValue(env.symbolView(&matches[0])), nil
		}
		return starlark.None, decorateError(thread, fmt.Errorf("argument of symbol is not a string or an address"))
	})
	doc["symbol"] = "builtin symbol(NameOrAddr)\n\nsymbol finds one symbol by name or by an address it covers, returning None when nothing matches."

	r["disassemble"] = starlark.NewBuiltin("disassemble", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		var fnspec string
		var flavourStr string
		if len(args) > 0 && args[0] != starlark.None {
			err := unmarshalStarlarkValue(args[0], &fnspec, "Func")
			if err != nil {
				return starlark.None, decorateError(thread, err)
			}
		}
		if len(args) > 1 && args[1] != starlark.None {
			err := unmarshalStarlarkValue(args[1], &flavourStr, "Flavour")
			if err != nil {
				return starlark.None, decorateError(thread, err)
			}
		}
		for _, kv := range kwargs {
			var err error
			switch kv[0].(starlark.String) {
			case "Func":
				err = unmarshalStarlarkValue(kv[1], &fnspec, "Func")
			case "Flavour":
				err = unmarshalStarlarkValue(kv[1], &flavourStr, "Flavour")
			default:
				err = fmt.Errorf("unknown argument %q", kv[0])
			}
			if err != nil {
				return starlark.None, decorateError(thread, err)
			}
		}
		tgt := env.ctx.Target()
		sym, err := tgt.FindFunction(fnspec)
		if err != nil {
			return starlark.None, err
		}
		seq, err := disasm.Disassemble(tgt.File, tgt.Syms, &sym, disasm.Options{})
		if err != nil {
			return starlark.None, err
		}
		flavour := disasm.GNUFlavour
		switch flavourStr {
		case "intel":
			flavour = disasm.IntelFlavour
		case "go":
			flavour = disasm.GoFlavour
		}
		views := []instructionView{}
		for {
			inst, ok := seq.Next()
			if !ok {
				break
			}
			views = append(views, instructionView{
				PC:    inst.PC,
				Size:  inst.Size,
				Text:  inst.Text(flavour, tgt.Syms),
				Valid: inst.Valid,
			})
		}
		return env.interfaceToStarlarkValue(views), nil
	})
	doc["disassemble"] = "builtin disassemble(Func, Flavour)\n\ndisassemble decodes the instructions of a function. Func is a symbol name or a 0x prefixed address, Flavour one of \"gnu\" (the default), \"intel\" or \"go\"."

	r["eh_regions"] = starlark.NewBuiltin("eh_regions", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		var fnspec string
		if len(args) > 0 && args[0] != starlark.None {
			err := unmarshalStarlarkValue(args[0], &fnspec, "Func")
			if err != nil {
				return starlark.None, decorateError(thread, err)
			}
		}
		for _, kv := range kwargs {
			var err error
			switch kv[0].(starlark.String) {
			case "Func":
				err = unmarshalStarlarkValue(kv[1], &fnspec, "Func")
			default:
				err = fmt.Errorf("unknown argument %q", kv[0])
			}
			if err != nil {
				return starlark.None, decorateError(thread, err)
			}
		}
		tgt := env.ctx.Target()
		sym, err := tgt.FindFunction(fnspec)
		if err != nil {
			return starlark.None, err
		}
		return env.interfaceToStarlarkValue(lsda.FindForSymbol(tgt.EH, &sym)), nil
	})
	doc["eh_regions"] = "builtin eh_regions(Func)\n\neh_regions returns the exception call site regions of a function: try range, landing pad and action."

	r["unwind_rules"] = starlark.NewBuiltin("unwind_rules", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		var fnspec string
		if len(args) > 0 && args[0] != starlark.None {
			err := unmarshalStarlarkValue(args[0], &fnspec, "Func")
			if err != nil {
				return starlark.None, decorateError(thread, err)
			}
		}
		for _, kv := range kwargs {
			var err error
			switch kv[0].(starlark.String) {
			case "Func":
				err = unmarshalStarlarkValue(kv[1], &fnspec, "Func")
			default:
				err = fmt.Errorf("unknown argument %q", kv[0])
			}
			if err != nil {
				return starlark.None, decorateError(thread, err)
			}
		}
		tgt := env.ctx.Target()
		sym, err := tgt.FindFunction(fnspec)
		if err != nil {
			return starlark.None, err
		}
		fde, err := tgt.Frame.FDEForPC(sym.Value)
		if err != nil {
			return starlark.None, err
		}
		regName := func(n uint64) string { return regnum.ToName(tgt.File.Machine, n) }
		rows := fde.RuleTable()
		views := make([]ruleRowView, 0, len(rows))
		for _, row := range rows {
			v := ruleRowView{Start: row.Start, End: row.End}
			if row.Unknown {
				v.CFA = "?"
				views = append(views, v)
				continue
			}
			v.CFA = frame.RuleString(row.CFA, regName)
			v.Regs = make(map[string]string, len(row.Regs))
			for num, rule := range row.Regs {
				v.Regs[regName(num)] = frame.RuleString(rule, regName)
			}
			views = append(views, v)
		}
		return env.interfaceToStarlarkValue(views), nil
	})
	doc["unwind_rules"] = "builtin unwind_rules(Func)\n\nunwind_rules returns the decoded call frame rule table of the frame descriptor covering a function."

	return r, doc
}
