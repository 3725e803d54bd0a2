package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"solveq/internal/cli/command"
	"solveq/internal/cli/config"
	httpclient "solveq/internal/cli/http"
	"solveq/internal/cli/repl"
	"solveq/internal/cli/state"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	problemURL := flag.String("problem", "", "Override problem service base URL")
	creditURL := flag.String("credit", "", "Override credit service base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	token := flag.String("token", "", "Override access token")
	statePath := flag.String("state", "", "Override token state path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *problemURL != "" {
		cfg.ProblemBaseURL = *problemURL
	}
	if *creditURL != "" {
		cfg.CreditBaseURL = *creditURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.TokenStatePath = *statePath
	}

	tokenState, err := state.Load(cfg.TokenStatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load token state failed: %v\n", err)
		os.Exit(1)
	}
	if *token != "" {
		tokenState.AccessToken = *token
	}

	client := httpclient.New(cfg.BaseURLs(), cfg.Timeout, func() string {
		return tokenState.AccessToken
	})

	session, err := repl.New(client, command.Registry(), &tokenState, cfg.TokenStatePath, cfg.HistoryFile, cfg.PrettyJSON != nil && *cfg.PrettyJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	session.Run(context.Background())
}
