package main

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/peterbourgon/ff/v3"
)

type options struct {
	hostname          string
	pushGateway       string
	authToken         string
	rootDirectory     string
	promptSocketPath  string
	reconnectInterval time.Duration
	debug             bool
	insecureTLS       bool
	disableTLS        bool
}

func parseOptions(args []string) (*options, error) {
	flagset := flag.NewFlagSet("pushauth-agent", flag.ExitOnError)
	var (
		_ = flagset.String(
			"config",
			"",
			"config file to parse options from (optional)",
		)
		flHostname = flagset.String(
			"hostname",
			"",
			"The hostname of the authorization backend",
		)
		flPushGateway = flagset.String(
			"push_gateway",
			"",
			"The hostname of the push gateway (default: same as hostname)",
		)
		flAuthToken = flagset.String(
			"auth_token",
			"",
			"Bearer token used with the authorization backend and push gateway",
		)
		flRootDirectory = flagset.String(
			"root_directory",
			"",
			"The location of the local database and other agent state",
		)
		flPromptSocket = flagset.String(
			"prompt_socket",
			"",
			"Path to the user-session prompt surface socket",
		)
		flReconnectInterval = flagset.Duration(
			"reconnect_interval",
			30*time.Second,
			"How long to wait before reconnecting to the push gateway",
		)
		flDebug = flagset.Bool(
			"debug",
			false,
			"Whether or not debug logging is enabled (default: false)",
		)
		flInsecureTLS = flagset.Bool(
			"insecure",
			false,
			"Do not verify TLS certs for outgoing connections (default: false)",
		)
		flDisableTLS = flagset.Bool(
			"disable_tls",
			false,
			"Disable TLS for the authorization backend and push gateway connections",
		)
	)

	if err := ff.Parse(flagset, args,
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("PUSHAUTH_AGENT"),
	); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	if *flHostname == "" {
		return nil, errors.New("hostname must be set")
	}

	if *flRootDirectory == "" {
		return nil, errors.New("root_directory must be set")
	}

	if *flPromptSocket == "" {
		return nil, errors.New("prompt_socket must be set")
	}

	pushGateway := *flPushGateway
	if pushGateway == "" {
		pushGateway = *flHostname
	}

	opts := &options{
		hostname:          *flHostname,
		pushGateway:       pushGateway,
		authToken:         *flAuthToken,
		rootDirectory:     *flRootDirectory,
		promptSocketPath:  *flPromptSocket,
		reconnectInterval: *flReconnectInterval,
		debug:             *flDebug,
		insecureTLS:       *flInsecureTLS,
		disableTLS:        *flDisableTLS,
	}

	return opts, nil
}
