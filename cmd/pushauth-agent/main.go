package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/kolide/kit/logutil"
	"github.com/oklog/run"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	promptclient "github.com/pushauth/agent/ee/prompt/client"
	"github.com/pushauth/agent/ee/push"
	"github.com/pushauth/agent/ee/pushauth"
	authclient "github.com/pushauth/agent/ee/pushauth/client"
	"github.com/pushauth/agent/pkg/agent/storage"
	agentbbolt "github.com/pushauth/agent/pkg/agent/storage/bbolt"
)

func main() {
	var logger log.Logger
	logger = log.NewJSONLogger(os.Stderr) // only used until options are parsed.

	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		level.Info(logger).Log("err", err)
		os.Exit(1)
	}

	logger = logutil.NewServerLogger(opts.debug)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runAgent(ctx, opts, logger); err != nil {
		logutil.Fatal(logger, "err", errors.Wrap(err, "run agent"))
	}
}

func runAgent(ctx context.Context, opts *options, logger log.Logger) error {
	db, err := bbolt.Open(filepath.Join(opts.rootDirectory, "pushauth-agent.db"), 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("opening local database: %w", err)
	}
	defer db.Close()

	approvalStore, err := agentbbolt.NewStore(logger, db, storage.ApprovalRecordsStore.String())
	if err != nil {
		return fmt.Errorf("creating approval record store: %w", err)
	}

	clientOpts := []authclient.HTTPClientOption{}
	if opts.insecureTLS {
		clientOpts = append(clientOpts, authclient.WithInsecureSkipVerify())
	}
	if opts.disableTLS {
		clientOpts = append(clientOpts, authclient.WithDisableTLS())
	}
	backendClient, err := authclient.New(logger, opts.hostname, opts.authToken, clientOpts...)
	if err != nil {
		return fmt.Errorf("creating authorization backend client: %w", err)
	}

	prompter := promptclient.New(opts.authToken, opts.promptSocketPath)
	if err := prompter.Ping(ctx); err != nil {
		// Not fatal -- the user-session process may simply not be up yet.
		level.Info(logger).Log("msg", "prompt surface not reachable yet", "err", err)
	}

	authorizer := pushauth.New(prompter, backendClient,
		pushauth.WithLogger(logger),
		pushauth.WithStore(approvalStore),
		pushauth.WithContext(ctx),
	)

	listenerOpts := []push.ListenerOption{
		push.WithReconnectInterval(opts.reconnectInterval),
	}
	if opts.disableTLS {
		listenerOpts = append(listenerOpts, push.WithDisableTLS())
	}
	listener := push.New(logger, opts.pushGateway, opts.authToken, listenerOpts...)
	if err := listener.RegisterConsumer(pushauth.PushAuthSubsystem, authorizer); err != nil {
		return fmt.Errorf("registering push-auth consumer: %w", err)
	}

	var runGroup run.Group
	runGroup.Add(listener.Execute, listener.Interrupt)
	runGroup.Add(authorizer.Execute, authorizer.Interrupt)
	runGroup.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	if err := runGroup.Run(); err != nil {
		var signalErr run.SignalError
		if errors.As(err, &signalErr) {
			level.Info(logger).Log("msg", "shutting down on signal", "signal", signalErr.Signal.String())
			return nil
		}
		return err
	}

	return nil
}
