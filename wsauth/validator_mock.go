package wsauth

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// Mock for UserValidator
type UserValidatorMock struct {
	mock.Mock
}

// Factory
func NewUserValidatorMock() *UserValidatorMock {
	return &UserValidatorMock{
		Mock: mock.Mock{},
	}
}

// Mocked IsValidToken method
func (mock *UserValidatorMock) IsValidToken(ctx context.Context, token string) bool {
	args := mock.Called(ctx, token)
	return args.Bool(0)
}

// Mocked GetID method
func (mock *UserValidatorMock) GetID(ctx context.Context, token string) (string, error) {
	args := mock.Called(ctx, token)
	return args.String(0), args.Error(1)
}
