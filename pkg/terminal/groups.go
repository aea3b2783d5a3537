package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	runCmds
	dataCmds
	threadCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Running the program", runCmds},
	{"Viewing and changing memory and registers", dataCmds},
	{"Listing and switching between threads", threadCmds},
	{"Other commands", otherCmds},
}
