package vm

import (
	"bufio"
	"io"
	"os"
)

// Delegate holds the host callbacks. Every field is optional.
type Delegate struct {
	// Error is called once per abort.
	Error func(vm *VM, kind ErrorKind, msg string, line uint32)

	// Write receives script output (System.print/put). Defaults to stdout.
	Write func(s string)

	// Read returns one line of input for System.input. Defaults to stdin.
	Read func() (string, error)

	// Exit handles System.exit. Without it the VM records the code and
	// stops the running fiber.
	Exit func(code int)

	// Bridge callbacks for host-provided classes and functions.
	BridgeGet     func(vm *VM, xdata any, target Value, key string, dest uint32) bool
	BridgeSet     func(vm *VM, xdata any, target Value, key string, value Value) bool
	BridgeExecute func(vm *VM, xdata any, self Value, args []Value, dest uint32) bool
	BridgeEquals  func(vm *VM, a, b any) bool
	BridgeName    func(vm *VM, xdata any) string
	BridgeFree    func(vm *VM, inst *Instance)

	// ReportNullErrors makes loads on Null raise instead of returning Null.
	ReportNullErrors bool
}

func (d *Delegate) write(s string) {
	if d.Write != nil {
		d.Write(s)
		return
	}
	io.WriteString(os.Stdout, s)
}

var stdinReader = bufio.NewReader(os.Stdin)

func (d *Delegate) read() (string, error) {
	if d.Read != nil {
		return d.Read()
	}
	line, err := stdinReader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	return line, nil
}
