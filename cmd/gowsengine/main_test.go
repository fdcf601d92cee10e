package main

import (
	"bytes"
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gbdevw/gowsengine/cmd/gowsengine/providers"
	"github.com/gbdevw/gowsengine/internal/config"
	"github.com/gbdevw/gowsengine/wsauth"
	"github.com/gbdevw/gowsengine/wsclient"
	"github.com/gbdevw/gowsengine/wsevents"
	"github.com/gbdevw/gowsengine/wsframe"
	"github.com/gbdevw/gowsengine/wspacket"
	"github.com/gbdevw/gowsengine/wspresence"
	"github.com/gbdevw/gowsengine/wsserver"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

/*************************************************************************************************/
/* TEST SUITES                                                                                   */
/*************************************************************************************************/

// Test suite used for gowsengine commands integration tests
type CommandsIntegrationTestSuite struct {
	suite.Suite
}

// Run CommandsIntegrationTestSuite test suite
func TestCommandsIntegrationTestSuite(t *testing.T) {
	suite.Run(t, new(CommandsIntegrationTestSuite))
}

// Write content to a temporary configuration file and return its path.
func (suite *CommandsIntegrationTestSuite) writeConfig(content string) string {
	path := filepath.Join(suite.T().TempDir(), "gowsengine.yaml")
	require.NoError(suite.T(), os.WriteFile(path, []byte(content), 0600))
	return path
}

// Connect a client which records its events.
func (suite *CommandsIntegrationTestSuite) connect(addr string, token string) (*wsclient.WebsocketClient, chan wsevents.Event) {
	client, err := wsclient.NewWebsocketClient(nil, nil, nil)
	require.NoError(suite.T(), err)
	events := make(chan wsevents.Event, 64)
	client.Subscribe(func(evt wsevents.Event) { events <- evt }, wsevents.Message, wsevents.Disconnected)
	target, err := url.Parse("ws://" + addr + "/?token=" + token)
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), client.Connect(context.Background(), target))
	return client, events
}

// Wait for the next event.
func (suite *CommandsIntegrationTestSuite) next(events chan wsevents.Event) wsevents.Event {
	select {
	case evt := <-events:
		return evt
	case <-time.After(5 * time.Second):
		suite.FailNow("no event received")
		return wsevents.Event{}
	}
}

/*************************************************************************************************/
/* INTEGRATION TESTS                                                                             */
/*************************************************************************************************/

// # Description
//
// Test the serve application end to end.
//
// Test will succeed if:
//   - The application starts with a static token validator and an in-memory presence store.
//   - Authorized clients receive the success announcement and are mirrored in the presence store.
//   - A broadcast packet is relayed to the other client and a plain message is echoed.
//   - Stopping the application closes the connections with a going away close code.
func (suite *CommandsIntegrationTestSuite) TestServeApp() {
	path := suite.writeConfig(`
server:
  host: 127.0.0.1
  port: 0
  pingIntervalSec: 0
auth:
  mode: static
  tokens:
    tok-alice: alice
    tok-bob: bob
presence:
  backend: memory
ops:
  address: 127.0.0.1:0
logging:
  level: error
`)
	var srv *wsserver.WebsocketServer
	var store wspresence.Store
	app := newServeApp(providers.ConfigFile(path), fx.Populate(&srv, &store))
	require.NoError(suite.T(), app.Err())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(suite.T(), app.Start(ctx))
	addr := srv.Addr().String()

	alice, aliceEvents := suite.connect(addr, "tok-alice")
	defer alice.Disconnect(wsframe.NormalClosure, "")
	bob, bobEvents := suite.connect(addr, "tok-bob")
	defer bob.Disconnect(wsframe.NormalClosure, "")
	require.Equal(suite.T(), "connected", string(suite.next(aliceEvents).Payload))
	require.Equal(suite.T(), "connected", string(suite.next(bobEvents).Payload))
	require.Eventually(suite.T(), func() bool {
		users, err := store.Users(context.Background())
		return err == nil && len(users) == 2
	}, 2*time.Second, 20*time.Millisecond)

	packet, err := wspacket.New(wspacket.ActionBroadcast, "hello bob")
	require.NoError(suite.T(), err)
	raw, err := packet.Encode()
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), alice.Send(context.Background(), wsframe.Text, raw))
	relayed := suite.next(bobEvents)
	require.Equal(suite.T(), wsevents.Message, relayed.Kind)
	require.Equal(suite.T(), raw, relayed.Payload)

	require.NoError(suite.T(), alice.SendText(context.Background(), "echo me"))
	echoed := suite.next(aliceEvents)
	require.Equal(suite.T(), "echo me", string(echoed.Payload))

	require.NoError(suite.T(), app.Stop(ctx))
	disconnected := suite.next(bobEvents)
	require.Equal(suite.T(), wsevents.Disconnected, disconnected.Kind)
	require.Equal(suite.T(), wsframe.GoingAway, disconnected.Code)
}

// # Description
//
// Test the token command.
//
// Test will succeed if the printed token is accepted by a JWT validator built with the same
// secret and carries the user ID.
func (suite *CommandsIntegrationTestSuite) TestTokenCommand() {
	suite.T().Setenv(config.EnvJwtSecret, "s3cr3t")
	configFile = ""
	var out bytes.Buffer
	tokenCmd.SetOut(&out)
	require.NoError(suite.T(), runToken(tokenCmd, []string{"alice"}))
	validator, err := wsauth.NewJWTValidator([]byte("s3cr3t"), "", "")
	require.NoError(suite.T(), err)
	userID, err := validator.GetID(context.Background(), strings.TrimSpace(out.String()))
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), "alice", userID)
}

// # Description
//
// Test connectWithRetry and encodeLine.
//
// Test will succeed if:
//   - An unsupported scheme is not retried.
//   - An unreachable server fails once the retries are exhausted.
//   - Lines are wrapped in a packet only when an action is set.
func (suite *CommandsIntegrationTestSuite) TestConnectHelpers() {
	client, err := wsclient.NewWebsocketClient(wsclient.NewWebsocketClientConfigurationOptions().WithTimeouts(200, 200), nil, nil)
	require.NoError(suite.T(), err)
	target, err := url.Parse("ftp://127.0.0.1:1")
	require.NoError(suite.T(), err)
	start := time.Now()
	require.ErrorIs(suite.T(), connectWithRetry(context.Background(), client, target, 10, zap.NewNop()), wsclient.ErrUnsupportedScheme)
	require.Less(suite.T(), time.Since(start), time.Second)

	target, err = url.Parse("ws://127.0.0.1:1")
	require.NoError(suite.T(), err)
	require.Error(suite.T(), connectWithRetry(context.Background(), client, target, 1, zap.NewNop()))

	raw, err := encodeLine("hello", "")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), "hello", string(raw))
	raw, err = encodeLine("hello", wspacket.ActionBroadcast)
	require.NoError(suite.T(), err)
	p, err := wspacket.Decode(raw)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), wspacket.ActionBroadcast, p.Action)
	var text string
	require.NoError(suite.T(), p.Into(&text))
	require.Equal(suite.T(), "hello", text)
}
