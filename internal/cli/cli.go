// Package cli parses songscout command-line arguments.
package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Command string

const (
	CommandToggle  Command = "toggle"
	CommandStop    Command = "stop"
	CommandCancel  Command = "cancel"
	CommandStatus  Command = "status"
	CommandSearch  Command = "search"
	CommandTrack   Command = "track"
	CommandHistory Command = "history"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandToggle:  {},
	CommandStop:    {},
	CommandCancel:  {},
	CommandStatus:  {},
	CommandSearch:  {},
	CommandTrack:   {},
	CommandHistory: {},
	CommandDevices: {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

type Parsed struct {
	Command    Command
	ConfigPath string
	ShowHelp   bool
	Debug      bool

	// Query is the joined search text for CommandSearch.
	Query string
	// TrackID is the catalog id for CommandTrack.
	TrackID string
	// Limit caps search and history output; zero means the command default.
	Limit int
	// Clear empties the history instead of listing it.
	Clear bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--debug":
			parsed.Debug = true
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			if err := parseCommandArgs(&parsed, args[i+1:]); err != nil {
				return Parsed{}, err
			}
			return parsed, nil
		}
	}

	return parsed, nil
}

// parseCommandArgs handles everything after the command word.
func parseCommandArgs(parsed *Parsed, rest []string) error {
	switch parsed.Command {
	case CommandSearch:
		words := make([]string, 0, len(rest))
		for i := 0; i < len(rest); i++ {
			if rest[i] == "--limit" {
				limit, err := parseLimit(rest, &i)
				if err != nil {
					return err
				}
				parsed.Limit = limit
				continue
			}
			words = append(words, rest[i])
		}
		parsed.Query = strings.TrimSpace(strings.Join(words, " "))
		if parsed.Query == "" {
			return errors.New("search requires a query")
		}
		return nil
	case CommandTrack:
		if len(rest) != 1 || strings.TrimSpace(rest[0]) == "" {
			return errors.New("track requires exactly one id")
		}
		parsed.TrackID = strings.TrimSpace(rest[0])
		return nil
	case CommandHistory:
		for i := 0; i < len(rest); i++ {
			switch rest[i] {
			case "--limit":
				limit, err := parseLimit(rest, &i)
				if err != nil {
					return err
				}
				parsed.Limit = limit
			case "--clear":
				parsed.Clear = true
			default:
				return fmt.Errorf("unexpected argument for history: %s", rest[i])
			}
		}
		return nil
	default:
		if len(rest) > 0 {
			return fmt.Errorf("unexpected arguments after command %q", parsed.Command)
		}
		return nil
	}
}

func parseLimit(args []string, i *int) (int, error) {
	*i++
	if *i >= len(args) {
		return 0, errors.New("--limit requires a number")
	}
	limit, err := strconv.Atoi(args[*i])
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("--limit must be a positive integer, got %q", args[*i])
	}
	return limit, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] [--debug] <command>

Commands:
  toggle               Start listening, or stop and identify when already listening
  stop                 Stop listening and identify the recorded sample
  cancel               Cancel listening and discard the sample
  status               Print current state
  search QUERY...      Search the catalog by text [--limit N]
  track ID             Show catalog details for one track
  history              List recently recognized tracks [--limit N] [--clear]
  devices              List available input devices
  doctor               Run configuration and environment checks
  version              Print version information
  help                 Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/songscout/config.jsonc)
  --debug         Write debug records to the log
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
