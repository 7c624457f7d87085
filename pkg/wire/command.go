package wire

import (
	"errors"
	"fmt"
)

// ErrUnknownCommand is returned by ParseCommand for unrecognized tags.
var ErrUnknownCommand = errors.New("unknown command")

// Command is an operation served on the rpc channel.
type Command uint8

const (
	CommandSetTransform Command = iota + 1
	CommandGetTransform
	CommandStopFeedback
	CommandIsCartesian
	CommandSetCartesian
	CommandSetJoint
	CommandGetMax
)

// Reply codes.
const (
	CodeAck  = "ack"
	CodeNack = "nack"
)

var commandCodes = map[Command]string{
	CommandSetTransform: "stra",
	CommandGetTransform: "gtra",
	CommandStopFeedback: "stop",
	CommandIsCartesian:  "isf",
	CommandSetCartesian: "scar",
	CommandSetJoint:     "sjnt",
	CommandGetMax:       "gmax",
}

var codeCommands = func() map[string]Command {
	m := make(map[string]Command, len(commandCodes))
	for c, code := range commandCodes {
		m[code] = c
	}
	return m
}()

// Code returns the wire tag of the command.
func (c Command) Code() string {
	return commandCodes[c]
}

// String returns a readable name.
func (c Command) String() string {
	switch c {
	case CommandSetTransform:
		return "SET_TRANSFORM"
	case CommandGetTransform:
		return "GET_TRANSFORM"
	case CommandStopFeedback:
		return "STOP_FEEDBACK"
	case CommandIsCartesian:
		return "IS_CARTESIAN"
	case CommandSetCartesian:
		return "SET_CARTESIAN"
	case CommandSetJoint:
		return "SET_JOINT"
	case CommandGetMax:
		return "GET_MAX"
	default:
		return fmt.Sprintf("COMMAND(%d)", uint8(c))
	}
}

// IsValid reports whether c is a known command.
func (c Command) IsValid() bool {
	_, ok := commandCodes[c]
	return ok
}

// ParseCommand maps a wire tag to its Command.
func ParseCommand(code string) (Command, error) {
	c, ok := codeCommands[code]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, code)
	}
	return c, nil
}
