package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Channel is an HP 3245A output connector as numbered by the USE command.
type Channel int

const (
	FrontA Channel = 0
	BackA  Channel = 1
	FrontB Channel = 100
	BackB  Channel = 101
)

// Channels lists every connector in self-test order.
var Channels = []Channel{FrontA, BackA, BackB, FrontB}

var labels = map[Channel]string{
	FrontA: "Front Out-A",
	BackA:  "Back Out-A",
	FrontB: "Front Out-B",
	BackB:  "Back Out-B",
}

// ErrInvalidChannel is wrapped by every *ConfigurationError about a channel.
var ErrInvalidChannel = errors.New("invalid channel, must be one of 0, 1, 100, 101")

// ErrUnknownProcedure is wrapped when a verification procedure name is not
// known.
var ErrUnknownProcedure = errors.New("unknown verification procedure")

// ConfigurationError is returned before any instrument I/O when a session
// cannot be built.
type ConfigurationError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Label is the front-panel name of the connector, or "" when c is invalid.
func (c Channel) Label() string {
	return labels[c]
}

// Valid reports whether c is a real connector.
func (c Channel) Valid() bool {
	_, ok := labels[c]
	return ok
}

func (c Channel) String() string {
	if l := c.Label(); l != "" {
		return l
	}
	return strconv.Itoa(int(c))
}

// ParseChannel accepts a connector number or the group letters "a" and "b",
// which select the front connector of the group.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a":
		return FrontA, nil
	case "b":
		return FrontB, nil
	}

	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || !Channel(n).Valid() {
		return 0, &ConfigurationError{Field: "channel", Value: s, Err: ErrInvalidChannel}
	}
	return Channel(n), nil
}
