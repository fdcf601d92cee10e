package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/gbdevw/gowsengine/cmd/gowsengine/providers"
	"github.com/gbdevw/gowsengine/internal/config"
	"github.com/gbdevw/gowsengine/wsclient"
	"github.com/gbdevw/gowsengine/wsevents"
	"github.com/gbdevw/gowsengine/wsframe"
	"github.com/gbdevw/gowsengine/wshandshake"
	"github.com/gbdevw/gowsengine/wspacket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var connectCmd = &cobra.Command{
	Use:   "connect <url>",
	Short: "Connect to a websocket server, send stdin lines and print received messages.",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnect,
}

func init() {
	connectCmd.Flags().Uint64("retries", 5, "Maximum number of connection retries.")
	connectCmd.Flags().String("action", "", "Wrap each line in a packet with this action (broadcast, echo).")
}

func runConnect(cmd *cobra.Command, args []string) error {
	target, err := url.Parse(args[0])
	if err != nil {
		return err
	}
	retries, err := cmd.Flags().GetUint64("retries")
	if err != nil {
		return err
	}
	action, err := cmd.Flags().GetString("action")
	if err != nil {
		return err
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	logger, err := providers.ProvideLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()
	client, err := wsclient.NewWebsocketClient(cfg.Client, logger, nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	client.Subscribe(func(evt wsevents.Event) {
		switch evt.Kind {
		case wsevents.Message:
			if evt.MessageType == wsframe.Text {
				fmt.Fprintln(out, string(evt.Payload))
			} else {
				fmt.Fprintf(out, "<binary message: %d bytes>\n", len(evt.Payload))
			}
		case wsevents.Disconnected:
			fmt.Fprintf(out, "<disconnected: %d %s>\n", evt.Code, evt.Reason)
		}
	}, wsevents.Message, wsevents.Disconnected)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if err := connectWithRetry(ctx, client, target, retries, logger); err != nil {
		return err
	}
	lines := make(chan string)
	go scanLines(cmd.InOrStdin(), lines)
	for {
		select {
		case <-ctx.Done():
			_ = client.Disconnect(wsframe.GoingAway, "")
			<-client.Done()
			return nil
		case <-client.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				_ = client.Disconnect(wsframe.NormalClosure, "")
				<-client.Done()
				return nil
			}
			payload, err := encodeLine(line, action)
			if err != nil {
				return err
			}
			if err := client.Send(ctx, wsframe.Text, payload); err != nil {
				return err
			}
		}
	}
}

// # Description
//
// Connect the client, retrying with an exponential backoff. Invalid URLs and rejected handshakes
// are not retried.
func connectWithRetry(ctx context.Context, client *wsclient.WebsocketClient, target *url.URL, retries uint64, logger *zap.Logger) error {
	var permError error
	operation := func() error {
		err := client.Connect(ctx, target)
		var handshakeErr wshandshake.HandshakeError
		if errors.Is(err, wsclient.ErrUnsupportedScheme) || errors.As(err, &handshakeErr) {
			permError = err
			return nil
		}
		return err
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = 0
	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx), func(err error, wait time.Duration) {
		logger.Warn("connection failed, retrying", zap.Duration("wait", wait), zap.Error(err))
	})
	if permError != nil {
		return permError
	}
	return err
}

// Encode a stdin line, wrapped in a packet when action is set.
func encodeLine(line string, action string) ([]byte, error) {
	if action == "" {
		return []byte(line), nil
	}
	p, err := wspacket.New(action, line)
	if err != nil {
		return nil, err
	}
	return p.Encode()
}

// Send the lines read from r on lines and close it at end of input.
func scanLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}
