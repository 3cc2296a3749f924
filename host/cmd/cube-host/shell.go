package main

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

const helpLine = "help"

// translate turns one shell line into a command line for the instrument.
// Lines that are not shell words pass through unchanged.
func translate(input string) (line string, quit bool, err error) {
	words, err := shlex.Split(input)
	if err != nil {
		return "", false, fmt.Errorf("split %q: %w", input, err)
	}
	if len(words) == 0 {
		return "", false, nil
	}
	args := words[1:]
	need := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s takes %d arguments", words[0], n)
		}
		return nil
	}

	switch strings.ToLower(words[0]) {
	case "quit", "exit", "q":
		return "", true, nil
	case "help", "?":
		return helpLine, false, nil
	case "move":
		if err := need(1); err != nil {
			return "", false, err
		}
		return "G1 Z" + args[0], false, nil
	case "home":
		return "G28", false, nil
	case "abs":
		return "G90", false, nil
	case "rel":
		return "G91", false, nil
	case "enable":
		return "M17", false, nil
	case "disable":
		return "M18", false, nil
	case "status":
		return "M1", false, nil
	case "report":
		if err := need(1); err != nil {
			return "", false, err
		}
		return "M1 " + args[0], false, nil
	case "pulse":
		if len(args) == 1 && args[0] == "off" {
			return "M101", false, nil
		}
		if err := need(2); err != nil {
			return "", false, err
		}
		return fmt.Sprintf("M100 S%s:%s", args[0], args[1]), false, nil
	case "level":
		if err := need(2); err != nil {
			return "", false, err
		}
		// One line per output; the caller sends them in order.
		return fmt.Sprintf("M20 %s\nM21 %s", args[0], args[1]), false, nil
	case "touch":
		if err := need(2); err != nil {
			return "", false, err
		}
		return fmt.Sprintf("M102 L%s H%s", args[0], args[1]), false, nil
	case "auto":
		if err := need(3); err != nil {
			return "", false, err
		}
		return fmt.Sprintf("M103 L%s H%s S%s", args[0], args[1], args[2]), false, nil
	case "exit-mode":
		return "M104", false, nil
	case "ack":
		return "M105", false, nil
	case "thresholds":
		if err := need(3); err != nil {
			return "", false, err
		}
		return fmt.Sprintf("M106 L%s H%s S%s", args[0], args[1], args[2]), false, nil
	}
	return strings.TrimSpace(input), false, nil
}
