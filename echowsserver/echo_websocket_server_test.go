package echowsserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"nhooyr.io/websocket"
)

/*************************************************************************************************/
/* TEST SUITE                                                                                    */
/*************************************************************************************************/

// Test suite for EchoWebsocketServer
type EchoWebsocketServerMethodsTestSuite struct {
	suite.Suite
}

// Run EchoWebsocketServerMethodsTestSuite test suite
func TestEchoWebsocketServerMethodsTestSuite(t *testing.T) {
	suite.Run(t, new(EchoWebsocketServerMethodsTestSuite))
}

/*************************************************************************************************/
/* ECHOWEBSOCKETSERVER - TESTS                                                                   */
/*************************************************************************************************/

// # Description
//
// Test server Start/Stop methods.
//
// Test will succeed if
//   - Server starts without error and a second Start fails.
//   - A websocket client connects to the server.
//   - Server stops without error and the client receives a going away close frame.
//   - A second Stop fails.
func (suite *EchoWebsocketServerMethodsTestSuite) TestServerStartAndStop() {
	srv := NewEchoWebsocketServer("", nil, nil)
	require.Error(suite.T(), srv.Stop())
	require.NoError(suite.T(), srv.Start("127.0.0.1:0"))
	require.Error(suite.T(), srv.Start("127.0.0.1:0"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, res, err := websocket.Dial(ctx, "ws://"+srv.Addr(), nil)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), res)
	require.Eventually(suite.T(), func() bool { return srv.SessionCount() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(suite.T(), srv.Stop())
	_, _, err = conn.Read(ctx)
	require.Equal(suite.T(), websocket.StatusGoingAway, websocket.CloseStatus(err))
	require.Error(suite.T(), srv.Stop())
}

// # Description
//
// Test EchoWebsocketServer features.
//
// Test will succeed if:
//   - The server selects the requested subprotocol it supports and sends its greeting.
//   - Text and binary messages are echoed.
//   - "Ping" is answered with "pong" and received "pong" texts are counted, not echoed.
//   - SendToAll reaches the client.
func (suite *EchoWebsocketServerMethodsTestSuite) TestEchoFeature() {
	srv := NewEchoWebsocketServer("welcome", []string{"chat"}, nil)
	require.NoError(suite.T(), srv.Start("127.0.0.1:0"))
	defer srv.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+srv.Addr(), &websocket.DialOptions{Subprotocols: []string{"other", "chat"}})
	require.NoError(suite.T(), err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	require.Equal(suite.T(), "chat", conn.Subprotocol())

	expect := func(expectedType websocket.MessageType, expected string) {
		msgType, msg, err := conn.Read(ctx)
		require.NoError(suite.T(), err)
		require.Equal(suite.T(), expectedType, msgType)
		require.Equal(suite.T(), expected, string(msg))
	}
	expect(websocket.MessageText, "welcome")
	for i := 0; i < 4; i++ {
		require.NoError(suite.T(), conn.Write(ctx, websocket.MessageText, []byte("hello world")))
		expect(websocket.MessageText, "hello world")
	}
	require.NoError(suite.T(), conn.Write(ctx, websocket.MessageBinary, []byte{0x01}))
	expect(websocket.MessageBinary, "\x01")
	require.NoError(suite.T(), conn.Write(ctx, websocket.MessageText, []byte("Ping")))
	expect(websocket.MessageText, "pong")
	require.NoError(suite.T(), conn.Write(ctx, websocket.MessageText, []byte(" PONG")))
	require.Eventually(suite.T(), func() bool { return srv.Pongs() == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(suite.T(), 1, srv.SendToAll("broadcast"))
	expect(websocket.MessageText, "broadcast")
}
