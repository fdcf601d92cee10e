package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/gbdevw/gowsengine/wsevents"
	"github.com/gbdevw/gowsengine/wsframe"
	"github.com/gbdevw/gowsengine/wspacket"
	"github.com/gbdevw/gowsengine/wsserver"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

/*************************************************************************************************/
/* TEST SUITES                                                                                   */
/*************************************************************************************************/

// Test suite used for relay unit tests
type RelayUnitTestSuite struct {
	suite.Suite
}

// Run RelayUnitTestSuite test suite
func TestRelayUnitTestSuite(t *testing.T) {
	suite.Run(t, new(RelayUnitTestSuite))
}

/*************************************************************************************************/
/* UNIT TESTS                                                                                    */
/*************************************************************************************************/

// Test the websocket server and the mock implement Sender.
func (suite *RelayUnitTestSuite) TestInterfaceCompliance() {
	var _ Sender = (*wsserver.WebsocketServer)(nil)
	var _ Sender = (*SenderMock)(nil)
}

// # Description
//
// Test messages are routed according to their packet action.
//
// Test will succeed if:
//   - A broadcast packet is broadcast to all connections but its sender.
//   - Packets with another action and messages which are not packets are echoed to the sender.
//   - Events other than Message are ignored.
//   - Send failures do not stop routing and nothing is routed once unsubscribed.
func (suite *RelayUnitTestSuite) TestRouting() {
	bus := wsevents.NewBus(nil)
	sender := NewSenderMock()
	sub := Attach(bus, sender, time.Second, nil)

	broadcast, err := wspacket.New(wspacket.ActionBroadcast, map[string]string{"text": "hi"})
	require.NoError(suite.T(), err)
	broadcastRaw, err := broadcast.Encode()
	require.NoError(suite.T(), err)
	echo, err := wspacket.New(wspacket.ActionEcho, 42)
	require.NoError(suite.T(), err)
	echoRaw, err := echo.Encode()
	require.NoError(suite.T(), err)

	sender.On("BroadcastToAll", mock.Anything, wsframe.Text, broadcastRaw, "c1").Return(2, nil).Once()
	sender.On("SendToConnection", mock.Anything, "c2", wsframe.Text, echoRaw).Return(nil).Once()
	sender.On("SendToConnection", mock.Anything, "c3", wsframe.Binary, []byte{0x01}).Return(errors.New("boom")).Once()

	bus.Publish(wsevents.Event{Kind: wsevents.Message, ConnectionID: "c1", MessageType: wsframe.Text, Payload: broadcastRaw})
	bus.Publish(wsevents.Event{Kind: wsevents.Message, ConnectionID: "c2", MessageType: wsframe.Text, Payload: echoRaw})
	bus.Publish(wsevents.Event{Kind: wsevents.Message, ConnectionID: "c3", MessageType: wsframe.Binary, Payload: []byte{0x01}})
	bus.Publish(wsevents.Event{Kind: wsevents.Connected, ConnectionID: "c4"})
	sender.AssertExpectations(suite.T())

	sub.Unsubscribe()
	bus.Publish(wsevents.Event{Kind: wsevents.Message, ConnectionID: "c1", MessageType: wsframe.Text, Payload: broadcastRaw})
	sender.AssertNumberOfCalls(suite.T(), "BroadcastToAll", 1)
	sender.AssertNumberOfCalls(suite.T(), "SendToConnection", 2)
}
