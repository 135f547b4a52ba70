package unlocker

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// Stage is the part of discovery a terminal failure came from.
type Stage int

const (
	StageModule Stage = iota
	StagePattern
	StageValidation
	StageScan
	StageWrite
	StageFlags
)

func (s Stage) String() string {
	switch s {
	case StageModule:
		return "module"
	case StagePattern:
		return "pattern"
	case StageValidation:
		return "validation"
	case StageScan:
		return "scan"
	case StageWrite:
		return "write"
	case StageFlags:
		return "flags"
	}
	return "unknown"
}

var stageMessages = map[Stage]string{
	StageModule:     "Failed to get process base! Restart the unlocker or, if you are on a 64-bit operating system, make sure you are using the 64-bit build.",
	StagePattern:    "Unable to find TaskScheduler! This is probably due to a Roblox update, watch the releases for a fix.",
	StageValidation: "Variable scan failed! Make sure your framerate is at ~60.0 FPS (press Shift+F5 in-game) before unlocking.",
	StageScan:       "An error occurred while performing the variable scan.",
	StageWrite:      "Failed to write the frame delay.",
	StageFlags:      "Failed to write ClientAppSettings.json! If running the Windows Store version of Roblox, try running as administrator or using a different unlock method.",
}

func StageMessage(s Stage) string {
	return stageMessages[s]
}

// Notifier reports to the operator. Error is called once per terminal failure.
type Notifier interface {
	Error(pid uint32, stage Stage, msg string)
	Info(pid uint32, msg string)
}

// ConsoleNotifier prints errors in red. A silent one only logs them.
type ConsoleNotifier struct {
	Out    io.Writer
	Silent bool
}

var errorColor = color.New(color.FgHiRed)

func NewConsoleNotifier(silent bool) *ConsoleNotifier {
	return &ConsoleNotifier{Out: os.Stdout, Silent: silent}
}

func (n *ConsoleNotifier) Error(pid uint32, stage Stage, msg string) {
	log := pidLog(pid).WithField("stage", stage)
	if n.Silent {
		log.Error(msg)
		return
	}
	log.Debug(msg)
	errorColor.Fprintf(n.Out, "[ERROR] %s\n", msg)
}

func (n *ConsoleNotifier) Info(pid uint32, msg string) {
	if n.Silent {
		pidLog(pid).Info(msg)
		return
	}
	fmt.Fprintf(n.Out, "[.] %s\n", msg)
}
