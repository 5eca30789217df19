package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	fileCmds
	symCmds
	ehCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Examining the file structure", fileCmds},
	{"Symbols and code", symCmds},
	{"Exception and unwind data", ehCmds},
	{"Other commands", otherCmds},
}
