// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Returned by a handler to end the repl without it counting as failure
var ErrStop = errors.New("repl stopped")

type MessageHandler func(string, *Repl) (string, error)

// ReadCloser combines the Reader and Closer interfaces
type ReadCloser interface {
	io.Reader
	io.Closer
}

type Repl struct {
	Input   ReadCloser
	Output  io.WriteCloser
	scanner *bufio.Scanner
	writer  *bufio.Writer
}

// Creates a new repl
// If no input is given, stdin will be used
// If no output is given, stdout will be used
// Note: The given reader and writer will be closed if the repl is started and then stops
func NewRepl(in ReadCloser, out io.WriteCloser) Repl {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return Repl{
		Input:   in,
		Output:  out,
		scanner: bufio.NewScanner(in),
		writer:  bufio.NewWriter(out),
	}
}

// Starts the repl
// Blocks execution until the repl closes
// All input will be passed to the handler func
// If it receives an error from the message handler or during writing, it calls Close.
// A handler returning ErrStop still gets its answer written and makes Run return nil
func (r *Repl) Run(onMessage MessageHandler) error {
	for r.scanner.Scan() {
		newMessage := r.scanner.Text()
		res, err := onMessage(newMessage, r)
		if errors.Is(err, ErrStop) {
			_ = r.write(res)
			r.Close()
			return nil
		}
		if err != nil {
			r.Close()
			return fmt.Errorf("message handler errored out on message \"%s\": %w", newMessage, err)
		}
		if err = r.write(res); err != nil {
			r.Close()
			return err
		}
	}
	return r.scanner.Err()
}

func (r *Repl) write(res string) error {
	if _, err := r.writer.WriteString(res + "\n"); err != nil {
		return fmt.Errorf("failed to write result \"%s\": %w", res, err)
	}
	if err := r.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

// Close stops the repl if it was still running
// This will also close the reader and writer
func (r *Repl) Close() {
	r.Input.Close()
	r.Output.Close()
}

type Command struct {
	Usage string
	Run   func(args []string, r *Repl) (string, error)
}

// Commands dispatches lines on their first word
type Commands struct {
	commands map[string]Command
}

func NewCommands() *Commands {
	return &Commands{commands: make(map[string]Command)}
}

// Add registers a command, replacing any with the same name
func (c *Commands) Add(name, usage string, run func(args []string, r *Repl) (string, error)) {
	c.commands[name] = Command{Usage: usage, Run: run}
}

// Handle is a MessageHandler. "help" lists the usage of every command
func (c *Commands) Handle(line string, r *Repl) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	if fields[0] == "help" {
		return c.help(), nil
	}
	cmd, ok := c.commands[fields[0]]
	if !ok {
		return "Unknown command", nil
	}
	return cmd.Run(fields[1:], r)
}

func (c *Commands) help() string {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("%s: %s", name, c.commands[name].Usage))
	}
	return strings.Join(lines, "\n")
}
