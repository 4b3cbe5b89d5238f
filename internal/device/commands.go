package device

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Commands understood by the focuser endpoint.
const (
	CmdFocus     = "focus"
	CmdStatus    = "status"
	CmdLimits    = "limits"
	CmdStop      = "stop"
	CmdGoto      = "goto"
	CmdTargSpeed = "targspeed"
)

// Answers with a fixed meaning. Anything else is free error text.
const (
	AnsOK     = "OK"
	AnsMoving = "moving"
	AnsError  = "error"
)

// Goto builds the absolute move command.
func Goto(pos float64) string {
	return CmdGoto + "=" + strconv.FormatFloat(pos, 'f', -1, 64)
}

// TargSpeed builds the constant speed (jog) command. The sign selects the direction.
func TargSpeed(speed int) string {
	return CmdTargSpeed + "=" + strconv.Itoa(speed)
}

// ParseCommand splits "name=value" into its parts. Commands without a value
// return an empty value.
func ParseCommand(cmd string) (name, value string) {
	name, value, _ = strings.Cut(strings.TrimSpace(cmd), "=")
	return name, value
}

// ParsePosition parses a focus answer. "nan" and "inf" are refused: the
// firmware prints them when the encoder reading is invalid.
func ParsePosition(body string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(body), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("position %q is not finite", body)
	}
	return v, nil
}
