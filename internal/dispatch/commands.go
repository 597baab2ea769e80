package dispatch

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/realm/internal/core/metrics"
)

// CommandDispatcher runs text commands against the command handlers in a Registry.
type CommandDispatcher struct {
	Registry *Registry
	Logger   logrus.FieldLogger
	Metrics  *metrics.Metrics
}

// HandleCommand runs one command line. The first character selects the command
// group and the rest is split on whitespace; the first word names the command.
// caller is nil when the command comes from the console.
//
// An unknown command returns a help listing of the commands available to the
// caller and a command above the caller's level returns PermissionDenied. Errors
// from the command itself are returned as is.
func (d *CommandDispatcher) HandleCommand(ctx context.Context, line string, caller Connection, level GameMasterLevel) (string, error) {
	if strings.TrimSpace(line) == "" {
		return "", nil
	}

	prefix, size := utf8.DecodeRuneInString(line)
	if !d.Registry.HasPrefix(prefix) {
		return "", nil
	}

	command := line[size:]
	d.Logger.Infof("EXEC: %s", command)

	var signature string
	args := strings.Fields(command)
	if len(args) > 0 {
		signature, args = args[0], args[1:]
	}

	handler, ok := d.Registry.Command(prefix, signature)
	if !ok {
		d.Metrics.CommandHandled(metrics.CommandHelp)
		return d.help(prefix, caller, level), nil
	}

	if level < handler.Level {
		d.Metrics.CommandHandled(metrics.CommandDenied)
		return PermissionDenied, nil
	}

	d.Metrics.CommandHandled(metrics.CommandExecuted)
	result, err := handler.invoke(ctx, args, caller)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	return result.resolve(ctx)
}

func (d *CommandDispatcher) help(prefix rune, caller Connection, level GameMasterLevel) string {
	var help strings.Builder
	for _, h := range d.Registry.Commands(prefix) {
		if level < h.Level {
			continue
		}
		if caller == nil && !h.ConsoleEligible() {
			continue
		}
		help.WriteString(fmt.Sprintf("%c%-20s%s\n", prefix, h.Signature, h.Help))
	}
	return help.String()
}
