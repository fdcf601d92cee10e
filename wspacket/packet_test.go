package wspacket

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

/*************************************************************************************************/
/* TEST SUITES                                                                                   */
/*************************************************************************************************/

// Test suite used for Packet unit tests
type PacketUnitTestSuite struct {
	suite.Suite
}

// Run PacketUnitTestSuite test suite
func TestPacketUnitTestSuite(t *testing.T) {
	suite.Run(t, new(PacketUnitTestSuite))
}

/*************************************************************************************************/
/* UNIT TESTS                                                                                    */
/*************************************************************************************************/

// # Description
//
// Test a packet built with New can be decoded back.
//
// Test will succeed if:
//   - Action, timestamp and payload survive the encoding.
//   - The payload can be unmarshalled into its original type.
func (suite *PacketUnitTestSuite) TestEncodeDecode() {
	type chat struct {
		Text string `json:"text"`
	}
	p, err := New(ActionBroadcast, chat{Text: "hello"})
	require.NoError(suite.T(), err)
	data, err := p.Encode()
	require.NoError(suite.T(), err)
	decoded, err := Decode(data)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), ActionBroadcast, decoded.Action)
	require.True(suite.T(), p.Timestamp.Equal(decoded.Timestamp))
	var payload chat
	require.NoError(suite.T(), decoded.Into(&payload))
	require.Equal(suite.T(), "hello", payload.Text)
}

// # Description
//
// Test invalid packets are rejected.
//
// Test will succeed if:
//   - Garbage, packets without payload or timestamp and packets with a non printable action
//     fail to decode.
func (suite *PacketUnitTestSuite) TestDecodeInvalid() {
	inputs := []string{
		`not json`,
		`{"timestamp":"2024-01-01T00:00:00Z"}`,
		`{"payload":{"a":1}}`,
		`{"payload":1,"timestamp":"2024-01-01T00:00:00Z","action":"br\u0000ad"}`,
	}
	for _, input := range inputs {
		_, err := Decode([]byte(input))
		require.Error(suite.T(), err, input)
	}
	p, err := Decode([]byte(`{"payload":[1,2],"timestamp":"2024-01-01T00:00:00Z"}`))
	require.NoError(suite.T(), err)
	require.Empty(suite.T(), p.Action)
	_, err = (&Packet{}).Encode()
	require.Error(suite.T(), err)
}
