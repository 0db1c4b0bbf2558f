package urouter

import (
	"fmt"
	"strings"
)

// Plan is an ordered list of router commands, executed left to right in a
// single transaction.
type Plan struct {
	Commands []Command
}

// NewPlan returns an empty plan.
func NewPlan() *Plan { return &Plan{} }

// Add appends a command and returns the plan for chaining.
func (p *Plan) Add(c Command) *Plan {
	p.Commands = append(p.Commands, c)
	return p
}

// EncodedCommands is the packed command-byte string, one byte per command.
func (p *Plan) EncodedCommands() []byte {
	encoded := make([]byte, len(p.Commands))
	for i, c := range p.Commands {
		encoded[i] = c.Byte()
	}
	return encoded
}

// EncodedInputs is the per-command argument encodings, index-aligned with
// EncodedCommands.
func (p *Plan) EncodedInputs() [][]byte {
	inputs := make([][]byte, len(p.Commands))
	for i, c := range p.Commands {
		inputs[i] = c.Input()
	}
	return inputs
}

// DecodePlan reassembles a plan from the two arguments of the router's
// execute call.
func DecodePlan(commands []byte, inputs [][]byte) (*Plan, error) {
	if len(commands) != len(inputs) {
		return nil, fmt.Errorf("%d command bytes with %d inputs: %w",
			len(commands), len(inputs), ErrArgCount)
	}

	plan := NewPlan()
	for i, b := range commands {
		c, err := Decode(b, inputs[i])
		if err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
		plan.Add(c)
	}
	return plan, nil
}

func (p *Plan) String() string {
	names := make([]string, len(p.Commands))
	for i, c := range p.Commands {
		names[i] = c.Opcode.String()
	}
	return strings.Join(names, " -> ")
}
