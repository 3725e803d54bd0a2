package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"solveq/internal/cli/command"
	httpclient "solveq/internal/cli/http"
	"solveq/internal/cli/state"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const prompt = "solveq> "

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	tokenState *state.TokenState
	statePath  string
	prettyJSON bool
	rl         *readline.Instance
	out        io.Writer
}

// New opens a readline session. historyFile may be empty.
func New(client *httpclient.Client, commands map[string]command.Command, tokenState *state.TokenState, statePath, historyFile string, prettyJSON bool) (*Session, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		AutoComplete:    completer(commands),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("init readline failed: %w", err)
	}
	return &Session{
		client:     client,
		commands:   commands,
		tokenState: tokenState,
		statePath:  statePath,
		prettyJSON: prettyJSON,
		rl:         rl,
		out:        rl.Stdout(),
	}, nil
}

func completer(commands map[string]command.Command) readline.AutoCompleter {
	services := map[string][]readline.PrefixCompleterInterface{}
	for _, name := range command.Names(commands) {
		cmd := commands[name]
		services[cmd.Service] = append(services[cmd.Service], readline.PcItem(cmd.Action))
	}
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout"), readline.PcItem("token")),
		readline.PcItem("show", readline.PcItem("token"), readline.PcItem("config")),
	}
	for service, actions := range services {
		items = append(items, readline.PcItem(service, actions...))
	}
	return readline.NewPrefixCompleter(items...)
}

// Run reads commands until exit or EOF.
func (s *Session) Run(ctx context.Context) {
	defer func() { _ = s.rl.Close() }()
	for {
		line, err := s.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return
			}
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.printLine("read input failed: %v", err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			s.printLine("bye")
			return
		}
		if s.handleSystemCommand(line) {
			continue
		}

		if err := s.handleCommand(ctx, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

func (s *Session) handleSystemCommand(line string) bool {
	if line == "help" {
		s.printHelp()
		return true
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true
	}
	return false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|token|timeout")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 3 {
			s.printLine("usage: set base problem|credit http://127.0.0.1:8083")
			return
		}
		s.client.SetBaseURL(parts[1], parts[2])
		s.printLine("%s base set to %s", parts[1], parts[2])
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 10s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "token":
		if len(parts) < 2 {
			s.printLine("usage: set token <access_token>")
			return
		}
		s.tokenState.AccessToken = parts[1]
		if err := state.Save(s.statePath, *s.tokenState); err != nil {
			s.printLine("save token failed: %v", err)
			return
		}
		s.printLine("token updated")
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "token":
		if s.tokenState.AccessToken == "" {
			s.printLine("token: <empty>")
			return
		}
		token := s.tokenState.AccessToken
		if len(token) > 12 {
			token = token[:6] + "..." + token[len(token)-4:]
		}
		s.printLine("token: %s", token)
	case "config":
		s.printLine("problem: %s", s.client.BaseURL("problem"))
		s.printLine("credit: %s", s.client.BaseURL("credit"))
		s.printLine("tokenStatePath: %s", s.statePath)
	default:
		s.printLine("usage: show token|config")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	cmd, params, err := Parse(s.commands, line)
	if err != nil {
		return err
	}
	if err := s.promptMissing(&cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Service, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	return nil
}

// Parse splits a command line into its command and key=value params.
func Parse(commands map[string]command.Command, line string) (command.Command, command.Params, error) {
	tokens, err := shlex.Split(line)
	if err != nil {
		return command.Command{}, nil, fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) < 2 {
		return command.Command{}, nil, fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	cmd, ok := commands[tokens[0]+" "+tokens[1]]
	if !ok {
		return command.Command{}, nil, fmt.Errorf("unknown command: %s %s", tokens[0], tokens[1])
	}
	params := command.Params{}
	for _, token := range tokens[2:] {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 {
			return command.Command{}, nil, fmt.Errorf("invalid param: %s", token)
		}
		params.Set(parts[0], parts[1])
	}
	params.Canonicalize(cmd.Fields)
	if cmd.Service == "problem" && cmd.Action == "upload" && params.Get("input_file") != "" && params.Get("input_data") == "" {
		params.Set("input_data", "_file_")
	}
	return cmd, params, nil
}

func (s *Session) promptMissing(cmd *command.Command, params command.Params) error {
	for _, field := range cmd.Fields {
		if !field.Required || params.Get(field.Name) != "" {
			continue
		}
		s.rl.SetPrompt(field.Prompt + ": ")
		value, err := s.rl.Readline()
		s.rl.SetPrompt(prompt)
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		params.Set(field.Name, strings.TrimSpace(value))
	}
	return nil
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | set base|timeout|token | show token|config")
	s.printLine("commands:")
	for _, name := range command.Names(s.commands) {
		s.printLine("  %s", name)
	}
	s.printLine("examples:")
	s.printLine("  problem create name=\"Knapsack\" model_id=1")
	s.printLine("  problem upload id=4 input_file=./input.json metadata='{\"timeLimit\":60}'")
	s.printLine("  credit add user_id=7 amount=50")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
