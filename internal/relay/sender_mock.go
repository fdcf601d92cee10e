package relay

import (
	"context"

	"github.com/gbdevw/gowsengine/wsframe"
	"github.com/stretchr/testify/mock"
)

// Mock for Sender
type SenderMock struct {
	mock.Mock
}

// Factory
func NewSenderMock() *SenderMock {
	return &SenderMock{
		Mock: mock.Mock{},
	}
}

// Mocked SendToConnection method
func (mock *SenderMock) SendToConnection(ctx context.Context, connectionID string, msgType wsframe.MessageType, payload []byte) error {
	args := mock.Called(ctx, connectionID, msgType, payload)
	return args.Error(0)
}

// Mocked BroadcastToAll method
func (mock *SenderMock) BroadcastToAll(ctx context.Context, msgType wsframe.MessageType, payload []byte, excludingID string) (int, error) {
	args := mock.Called(ctx, msgType, payload, excludingID)
	return args.Int(0), args.Error(1)
}
