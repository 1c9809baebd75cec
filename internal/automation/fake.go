package automation

import (
	"context"
	"sync"
)

// Command is one recorded SetSwitch call.
type Command struct {
	Name string
	On   bool
}

// FakeCommander records switch commands for tests.
type FakeCommander struct {
	mu       sync.Mutex
	commands []Command

	// Err, if set, is returned by SetSwitch and nothing is recorded.
	Err error
}

// SetSwitch records the command.
func (f *FakeCommander) SetSwitch(ctx context.Context, name string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.commands = append(f.commands, Command{Name: name, On: on})
	return nil
}

// SetErr sets or clears the injected error.
func (f *FakeCommander) SetErr(err error) {
	f.mu.Lock()
	f.Err = err
	f.mu.Unlock()
}

// Commands returns a copy of every recorded command.
func (f *FakeCommander) Commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.commands...)
}

// Last returns the most recent command.
func (f *FakeCommander) Last() (Command, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.commands) == 0 {
		return Command{}, false
	}
	return f.commands[len(f.commands)-1], true
}

// Reset clears recorded commands.
func (f *FakeCommander) Reset() {
	f.mu.Lock()
	f.commands = nil
	f.mu.Unlock()
}
