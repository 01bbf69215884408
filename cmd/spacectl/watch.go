package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"hostingspace/app/internal/routes"
)

const defaultCheckTimeout = 10 * time.Second

type watchOptions struct {
	server   string
	token    string
	debounce time.Duration
	noColor  bool
}

func newWatchRouteCmd() *cobra.Command {
	opts := watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch-route",
		Short: "Read candidate route names from stdin and report their availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.noColor {
				color.NoColor = true
			}
			checker, err := newAvailabilityClient(opts.server, opts.token, nil)
			if err != nil {
				return err
			}
			return watchRoutes(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), checker.Check, opts.debounce)
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:8080", "base URL of the hosting space server")
	cmd.Flags().StringVar(&opts.token, "token", "", "session token sent as a bearer credential")
	cmd.Flags().DurationVar(&opts.debounce, "debounce", routes.DefaultDebounce, "delay before each availability check")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	return cmd
}

// watchRoutes feeds each input line to a Watcher and prints the state it
// settles on.
func watchRoutes(ctx context.Context, in io.Reader, out io.Writer, check routes.Checker, debounce time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan routes.Event, 8)
	watcher, err := routes.NewWatcher(ctx, routes.WatcherOptions{
		Check:    check,
		Debounce: debounce,
		OnChange: func(event routes.Event) {
			select {
			case events <- event:
			case <-ctx.Done():
			}
		},
	})
	if err != nil {
		return err
	}
	defer watcher.Close()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		candidate := strings.TrimSpace(scanner.Text())
		if candidate == "" {
			continue
		}

		watcher.Update(candidate)

		event, err := awaitResult(ctx, events, candidate)
		if err != nil {
			return err
		}
		printEvent(out, event)
	}

	if err := scanner.Err(); err != nil {
		return eris.Wrap(err, "reading route names")
	}
	return nil
}

func awaitResult(ctx context.Context, events <-chan routes.Event, candidate string) (routes.Event, error) {
	for {
		select {
		case <-ctx.Done():
			return routes.Event{}, ctx.Err()
		case event := <-events:
			if event.Value != candidate {
				continue
			}
			switch event.State {
			case routes.StateIdle, routes.StateChecking:
				continue
			}
			return event, nil
		}
	}
}

func printEvent(out io.Writer, event routes.Event) {
	label := stateColor(event.State).Sprint(string(event.State))
	if event.Err != nil {
		fmt.Fprintf(out, "%s %s: %v\n", event.Value, label, event.Err)
		return
	}
	fmt.Fprintf(out, "%s %s\n", event.Value, label)
}

type availabilityClient struct {
	base   *url.URL
	token  string
	client *http.Client
}

func newAvailabilityClient(server, token string, client *http.Client) (*availabilityClient, error) {
	base, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, eris.Errorf("invalid server URL %q", server)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultCheckTimeout}
	}
	return &availabilityClient{base: base, token: token, client: client}, nil
}

// Check skips the network for names the server would reject anyway.
func (c *availabilityClient) Check(ctx context.Context, candidate string) (routes.Availability, error) {
	if !routes.IsValidSlug(candidate) {
		return routes.Invalid, nil
	}

	endpoint := c.base.JoinPath("api", "routes", candidate, "availability")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", eris.Wrap(err, "building availability request")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "requesting availability")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("availability check failed with status %d", resp.StatusCode)
	}

	var body struct {
		Status routes.Availability `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", eris.Wrap(err, "decoding availability response")
	}
	return body.Status, nil
}
