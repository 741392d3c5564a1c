package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	runCmds
	inferiorCmds
	terminalCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Running the program", runCmds},
	{"Listing and switching between inferiors", inferiorCmds},
	{"Terminal of the inferiors", terminalCmds},
	{"Other commands", otherCmds},
}
