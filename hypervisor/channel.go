// Package hypervisor implements the control channel to the external
// hypervisor process.
//
// # Protocol
//
// Commands are single text lines of the form
//
//	<module> <verb> [args...]
//
// for example `frsw create_vc "SW 1" nio_udp_a 16 nio_udp_b 17`. Device
// names are always wrapped in double quotes so that names containing
// spaces survive tokenisation on the hypervisor side.
//
// Each command elicits exactly one reply block:
//
//	101 first informational line
//	101 second informational line
//	100-OK
//
// Informational lines carry a 1xx code followed by a space. The block
// ends with a line whose code is followed by '-': a 1xx code means
// success, a 2xx code means failure and the rest of the line is the
// error message.
package hypervisor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Channel sends one command and returns its reply. Implementations
// must not interleave two commands.
type Channel interface {
	Send(ctx context.Context, command string) (Response, error)
}

// Response is a successful reply block.
type Response struct {
	// Code is the status code of the terminating line.
	Code int
	// Lines holds the informational lines followed by the terminating
	// line's text, with status codes stripped. A bare "OK" terminator
	// is not included.
	Lines []string
}

// Quote wraps a device name in double quotes for transmission.
func Quote(name string) string {
	return `"` + name + `"`
}

// Command joins a module, verb and arguments into a command line.
// Arguments are formatted with %v; callers quote names with Quote.
func Command(module, verb string, args ...any) string {
	var b strings.Builder
	b.WriteString(module)
	b.WriteByte(' ')
	b.WriteString(verb)
	for _, a := range args {
		b.WriteByte(' ')
		fmt.Fprint(&b, a)
	}
	return b.String()
}

// ValidateName rejects names that cannot be carried inside a quoted
// command argument.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("device name cannot be empty")
	}
	if strings.ContainsAny(name, "\"\r\n") {
		return fmt.Errorf("device name %q contains a quote or line break", name)
	}
	return nil
}

// replyLine is one parsed line of a reply block.
type replyLine struct {
	code  int
	final bool
	text  string
}

// parseReplyLine splits "DDD-text" or "DDD text" into its parts.
func parseReplyLine(line string) (replyLine, error) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) < 3 {
		return replyLine{}, fmt.Errorf("malformed reply line %q", line)
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil || code < 100 || code > 299 {
		return replyLine{}, fmt.Errorf("malformed reply code in %q", line)
	}

	rl := replyLine{code: code}
	if len(line) == 3 {
		rl.final = true
		return rl, nil
	}
	switch line[3] {
	case '-':
		rl.final = true
	case ' ':
	default:
		return replyLine{}, fmt.Errorf("malformed reply separator in %q", line)
	}
	rl.text = line[4:]
	return rl, nil
}
