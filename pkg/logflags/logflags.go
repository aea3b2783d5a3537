package logflags

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

var (
	tele   = atomic.NewBool(false)
	memory = atomic.NewBool(false)
	ptrace = atomic.NewBool(false)
	step   = atomic.NewBool(false)
)

var logOut io.WriteCloser

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

// makeFlaggableLogger returns a logger that writes debug messages when flag
// is set and only errors otherwise.
func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if flag {
		return makeLogger(logrus.DebugLevel, fields)
	}
	return makeLogger(logrus.ErrorLevel, fields)
}

// Tele returns true if the process controller should log lifecycle events
// (attach, resume, stop, kill, detach).
func Tele() bool {
	return tele.Load()
}

// TeleLogger returns a logger for the process controller.
func TeleLogger() Logger {
	return makeFlaggableLogger(tele.Load(), Fields{"layer": "tele"})
}

// Memory returns true if remote memory transfers should be logged.
func Memory() bool {
	return memory.Load()
}

// MemoryLogger returns a logger for remote memory transfers.
func MemoryLogger() Logger {
	return makeFlaggableLogger(memory.Load(), Fields{"layer": "tele", "kind": "memory"})
}

// Ptrace returns true if the native backends should log every call they
// make into the operating system.
func Ptrace() bool {
	return ptrace.Load()
}

// PtraceLogger returns a logger for the native backends.
func PtraceLogger() Logger {
	return makeFlaggableLogger(ptrace.Load(), Fields{"layer": "native"})
}

// Step returns true if the single step protocol should be logged.
func Step() bool {
	return step.Load()
}

// StepLogger returns a logger for the single step protocol.
func StepLogger() Logger {
	return makeFlaggableLogger(step.Load(), Fields{"layer": "tele", "kind": "step"})
}

// SetTele turns the process controller trace on or off.
func SetTele(on bool) {
	tele.Store(on)
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the log flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "tele-logs")
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
		logstr = "tele"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch strings.TrimSpace(logcmd) {
		case "tele":
			tele.Store(true)
		case "memory":
			memory.Store(true)
		case "ptrace":
			ptrace.Store(true)
		case "step":
			step.Store(true)
		default:
			return fmt.Errorf("unknown log layer %q", logcmd)
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
