// Command thinqctl is a thin demonstration front-end over the client
// library: it is not the interactive menu shell described as an
// out-of-scope collaborator, only enough to exercise login, device
// listing, and monitoring from a shell.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/diwise/thinqclient/internal/telemetry/logging"
	"github.com/diwise/thinqclient/pkg/apierrors"
	"github.com/diwise/thinqclient/pkg/client"
	"github.com/diwise/thinqclient/pkg/config"
	"github.com/diwise/thinqclient/pkg/monitor"
	"github.com/diwise/thinqclient/pkg/session"
	"github.com/diwise/thinqclient/pkg/types"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (country/language/statePath)")
	flag.Parse()

	ctx, logger := logging.NewLogger(context.Background(), "thinqctl")

	cfg := &config.Config{Country: config.DefaultCountry, Language: config.DefaultLanguage, StatePath: "thinq-state.json"}
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", *configPath).Msg("could not open config file")
		}
		defer f.Close()

		cfg, err = config.LoadConfiguration(f)
		if err != nil {
			logger.Fatal().Err(err).Msg("could not parse config file")
		}
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "login":
		err = runLogin(ctx, logger, cfg)
	case "auth":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		err = runAuth(ctx, logger, cfg, args[1])
	case "list":
		err = runList(ctx, logger, cfg)
	case "monitor":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		err = runMonitor(ctx, logger, cfg, args[1])
	case "get":
		if len(args) != 3 {
			usage()
			os.Exit(2)
		}
		err = runGet(ctx, logger, cfg, args[1], args[2])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: thinqctl [-config path] <login|auth <url>|list|monitor <device-id>|get <device-id> <key>>")
}

func loadState(cfg *config.Config) (types.PersistedState, bool) {
	f, err := os.Open(cfg.StatePath)
	if err != nil {
		return types.PersistedState{}, false
	}
	defer f.Close()

	var state types.PersistedState
	if err := json.NewDecoder(f).Decode(&state); err != nil {
		return types.PersistedState{}, false
	}
	return state, true
}

func saveState(cfg *config.Config, c *client.Client) error {
	f, err := os.Create(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("create state file: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(c.Dump())
}

func runLogin(ctx context.Context, logger zerolog.Logger, cfg *config.Config) error {
	c := client.New()
	url, err := c.LoginURL(ctx, cfg.Country, cfg.Language)
	if err != nil {
		return err
	}

	if saveErr := saveState(cfg, c); saveErr != nil {
		logger.Warn().Err(saveErr).Msg("could not persist gateway state")
	}

	fmt.Println(url)
	return nil
}

func runAuth(ctx context.Context, logger zerolog.Logger, cfg *config.Config, callbackURL string) error {
	state, ok := loadState(cfg)
	if !ok {
		return fmt.Errorf("no saved state found; run 'login' first")
	}

	c := client.Load(state)
	if err := c.Authenticate(ctx, callbackURL); err != nil {
		return err
	}

	return saveState(cfg, c)
}

func withClient(cfg *config.Config) (*client.Client, error) {
	state, ok := loadState(cfg)
	if !ok {
		return nil, fmt.Errorf("no saved state found; run 'login' and 'auth' first")
	}
	return client.Load(state), nil
}

// withRetryOnNotLoggedIn runs fn, and on a NotLoggedIn error refreshes the
// client once and retries — the recommended, optional caller policy.
func withRetryOnNotLoggedIn(ctx context.Context, c *client.Client, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}

	var notLoggedIn *apierrors.NotLoggedInError
	if !errors.As(err, &notLoggedIn) {
		return err
	}

	if refreshErr := c.Refresh(ctx); refreshErr != nil {
		return refreshErr
	}
	return fn()
}

func runList(ctx context.Context, logger zerolog.Logger, cfg *config.Config) error {
	c, err := withClient(cfg)
	if err != nil {
		return err
	}

	var devices []types.DeviceDescriptor
	err = withRetryOnNotLoggedIn(ctx, c, func() error {
		var innerErr error
		devices, innerErr = c.Devices(ctx)
		return innerErr
	})
	if err != nil {
		return err
	}

	for _, d := range devices {
		fmt.Printf("%s\t%s\t%s\n", d.DeviceID, d.ModelName, d.Alias)
	}

	return saveState(cfg, c)
}

func runMonitor(ctx context.Context, logger zerolog.Logger, cfg *config.Config, deviceID string) error {
	c, err := withClient(cfg)
	if err != nil {
		return err
	}

	sess, err := c.Session(ctx)
	if err != nil {
		return err
	}

	job := monitor.New(sess, deviceID)
	poller := &monitor.Poller{Job: job, Interval: time.Second}

	sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	return poller.Loop(sigCtx, func(data []byte) {
		fmt.Println(string(data))
	})
}

func runGet(ctx context.Context, logger zerolog.Logger, cfg *config.Config, deviceID, key string) error {
	c, err := withClient(cfg)
	if err != nil {
		return err
	}

	sess, err := c.Session(ctx)
	if err != nil {
		return err
	}

	var raw string
	err = withRetryOnNotLoggedIn(ctx, c, func() error {
		var innerErr error
		raw, innerErr = sess.GetDeviceConfig(ctx, deviceID, key, session.CategoryConfig)
		return innerErr
	})
	if err != nil {
		return err
	}

	fmt.Println(raw)
	return saveState(cfg, c)
}
