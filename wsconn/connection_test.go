package wsconn

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/gbdevw/gowsengine/wsframe"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

/*************************************************************************************************/
/* TEST SUITES                                                                                   */
/*************************************************************************************************/

// Test suite used for Conn unit tests
type ConnUnitTestSuite struct {
	suite.Suite
}

// Run ConnUnitTestSuite test suite
func TestConnUnitTestSuite(t *testing.T) {
	suite.Run(t, new(ConnUnitTestSuite))
}

// Ensure Conn implements Connection
func TestConnInterfaceCompliance(t *testing.T) {
	var instance interface{} = New(nil, Options{})
	_, ok := instance.(Connection)
	require.True(t, ok)
}

/*************************************************************************************************/
/* HELPERS                                                                                       */
/*************************************************************************************************/

// Open a server side and a client side connection over an in-memory pipe.
func openPair(t *testing.T) (*Conn, *Conn) {
	srvSock, cliSock := net.Pipe()
	srv := New(srvSock, Options{Role: wsframe.ServerSide, WriteTimeout: time.Second})
	cli := New(cliSock, Options{Role: wsframe.ClientSide, WriteTimeout: time.Second})
	for _, c := range []*Conn{srv, cli} {
		require.NoError(t, c.Advance(Upgrading))
		require.NoError(t, c.Open(HandshakeInfo{Path: "/ws", Query: url.Values{"k": {"v"}}}))
	}
	return srv, cli
}

/*************************************************************************************************/
/* UNIT TESTS                                                                                    */
/*************************************************************************************************/

// # Description
//
// Test the connection state machine.
//
// Test will succeed if:
//   - New connections are Connecting, with a random ID.
//   - Open cannot be entered before Upgrading.
//   - Authorizing cannot be entered once Upgrading.
//   - Closed can be reached from any state and is terminal.
func (suite *ConnUnitTestSuite) TestStateMachine() {
	sock, peer := net.Pipe()
	defer peer.Close()
	c := New(sock, Options{})
	require.Equal(suite.T(), Connecting, c.State())
	require.NotEmpty(suite.T(), c.ID())
	require.ErrorIs(suite.T(), c.Open(HandshakeInfo{}), ErrInvalidTransition)
	require.NoError(suite.T(), c.Advance(Authorizing))
	require.NoError(suite.T(), c.Advance(Upgrading))
	require.ErrorIs(suite.T(), c.Advance(Authorizing), ErrInvalidTransition)
	require.True(suite.T(), c.Disconnect(wsframe.PolicyViolation, "unauthorized"))
	require.Equal(suite.T(), Closed, c.State())
	require.ErrorIs(suite.T(), c.Advance(Open), ErrInvalidTransition)
	code, reason := c.CloseReason()
	require.Equal(suite.T(), wsframe.PolicyViolation, code)
	require.Equal(suite.T(), "unauthorized", reason)
}

// # Description
//
// Test messages flow in both directions between a server and a client connection.
//
// Test will succeed if:
//   - A text sent by the client is read by the server.
//   - A binary sent by the server is read by the client.
//   - Path and query recorded at Open are exposed.
func (suite *ConnUnitTestSuite) TestSendAndReceive() {
	srv, cli := openPair(suite.T())
	defer srv.Disconnect(wsframe.NormalClosure, "")
	defer cli.Disconnect(wsframe.NormalClosure, "")
	go func() { _ = cli.SendText(context.Background(), "hello") }()
	mt, payload, err := srv.ReadMessage()
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), wsframe.Text, mt)
	require.Equal(suite.T(), "hello", string(payload))

	go func() { _ = srv.Send(context.Background(), wsframe.Binary, []byte{1, 2}) }()
	mt, payload, err = cli.ReadMessage()
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), wsframe.Binary, mt)
	require.Equal(suite.T(), []byte{1, 2}, payload)
	require.Equal(suite.T(), "/ws", srv.Path())
	require.Equal(suite.T(), "v", srv.Query().Get("k"))
}

// # Description
//
// Test bytes received together with the handshake are replayed as messages.
//
// Test will succeed if:
//   - The message encoded in the leftover bytes is read before anything else.
func (suite *ConnUnitTestSuite) TestLeftoverReplay() {
	buf := new(bytes.Buffer)
	require.NoError(suite.T(), wsframe.NewWriter(buf, wsframe.ServerSide, 0).WriteMessage(wsframe.Text, []byte("welcome")))
	sock, peer := net.Pipe()
	defer peer.Close()
	c := New(sock, Options{Role: wsframe.ClientSide})
	require.NoError(suite.T(), c.Advance(Upgrading))
	require.NoError(suite.T(), c.Open(HandshakeInfo{Leftover: buf.Bytes()}))
	_, payload, err := c.ReadMessage()
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), "welcome", string(payload))
	c.Disconnect(wsframe.AbnormalClosure, "")
}

// # Description
//
// Test Disconnect is idempotent and sends a close frame to the peer.
//
// Test will succeed if:
//   - First call returns true, second returns false.
//   - The peer receives a close frame with the provided code and reason.
//   - Done is closed and Send fails with ErrNotOpen afterwards.
func (suite *ConnUnitTestSuite) TestDisconnectIsIdempotent() {
	srv, cli := openPair(suite.T())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := cli.ReadMessage()
		errCh <- err
	}()
	require.True(suite.T(), srv.Disconnect(wsframe.GoingAway, "shutdown"))
	require.False(suite.T(), srv.Disconnect(wsframe.NormalClosure, "again"))
	closeErr := new(wsframe.CloseError)
	require.True(suite.T(), errors.As(<-errCh, &closeErr))
	require.Equal(suite.T(), wsframe.GoingAway, closeErr.Code)
	require.Equal(suite.T(), "shutdown", closeErr.Reason)
	select {
	case <-srv.Done():
	default:
		suite.FailNow("done channel must be closed")
	}
	require.ErrorIs(suite.T(), srv.SendText(context.Background(), "x"), ErrNotOpen)
	cli.Disconnect(wsframe.NormalClosure, "")
}

// # Description
//
// Test liveness state transitions.
//
// Test will succeed if:
//   - MarkPinged succeeds once and records the deadline.
//   - MarkPristine resets the state so the connection can be pinged again.
func (suite *ConnUnitTestSuite) TestLiveness() {
	c := New(nil, Options{})
	require.Equal(suite.T(), Pristine, c.Liveness())
	require.True(suite.T(), c.NextPingDeadline().IsZero())
	deadline := time.Now().Add(time.Minute)
	require.True(suite.T(), c.MarkPinged(deadline))
	require.False(suite.T(), c.MarkPinged(deadline))
	require.Equal(suite.T(), Pinged, c.Liveness())
	require.Equal(suite.T(), deadline.UnixNano(), c.NextPingDeadline().UnixNano())
	c.MarkPristine()
	require.Equal(suite.T(), Pristine, c.Liveness())
	require.True(suite.T(), c.MarkPinged(deadline))
}
