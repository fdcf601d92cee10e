package wsauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

/*************************************************************************************************/
/* TEST SUITES                                                                                   */
/*************************************************************************************************/

// Test suite used for wsauth unit tests
type AuthUnitTestSuite struct {
	suite.Suite
}

// Run AuthUnitTestSuite test suite
func TestAuthUnitTestSuite(t *testing.T) {
	suite.Run(t, new(AuthUnitTestSuite))
}

// Test mock fully implements interface it mocks
func TestMockInterfaceCompliance(t *testing.T) {
	var instance any = new(UserValidatorMock)
	_, ok := instance.(UserValidator)
	require.True(t, ok)
}

/*************************************************************************************************/
/* UNIT TESTS                                                                                    */
/*************************************************************************************************/

// # Description
//
// Test token extraction.
//
// Test will succeed if:
//   - The "token" query parameter wins over "access_token" which wins over the path.
//   - The last non-empty path segment is used when no query parameter is set.
//   - Raw tokens and absolute URIs are supported.
//   - Empty inputs and bare "/" have no token.
func (suite *AuthUnitTestSuite) TestExtractToken() {
	cases := map[string]string{
		"/ws?token=abc&access_token=def": "abc",
		"/ws/path?access_token=def":      "def",
		"/ws/user-token":                 "user-token",
		"/ws/user-token/":                "user-token",
		"/ws/a%20b":                      "a b",
		"raw-token":                      "raw-token",
		"wss://example.com/ws/tok":       "tok",
		"/ws?token=":                     "ws",
	}
	for input, expected := range cases {
		token, found := ExtractToken(input)
		require.True(suite.T(), found, input)
		require.Equal(suite.T(), expected, token, input)
	}
	for _, input := range []string{"", "  ", "/", "/?token="} {
		_, found := ExtractToken(input)
		require.False(suite.T(), found, input)
	}
}

// # Description
//
// Test Authorize with a mocked validator.
//
// Test will succeed if:
//   - A valid token resolves to the user ID returned by the validator.
//   - Missing, invalid and unresolved tokens return the matching errors.
func (suite *AuthUnitTestSuite) TestAuthorize() {
	ctx := context.Background()
	validator := NewUserValidatorMock()
	validator.On("IsValidToken", mock.Anything, "good").Return(true)
	validator.On("GetID", mock.Anything, "good").Return("alice", nil)
	validator.On("IsValidToken", mock.Anything, "bad").Return(false)
	validator.On("IsValidToken", mock.Anything, "orphan").Return(true)
	validator.On("GetID", mock.Anything, "orphan").Return("", nil)
	validator.On("IsValidToken", mock.Anything, "broken").Return(true)
	validator.On("GetID", mock.Anything, "broken").Return("", errors.New("backend down"))

	userID, err := Authorize(ctx, validator, "/ws?token=good")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), "alice", userID)
	_, err = Authorize(ctx, validator, "/")
	require.ErrorIs(suite.T(), err, ErrMissingToken)
	_, err = Authorize(ctx, validator, "/ws/bad")
	require.ErrorIs(suite.T(), err, ErrInvalidToken)
	_, err = Authorize(ctx, validator, "orphan")
	require.ErrorIs(suite.T(), err, ErrNoUserID)
	_, err = Authorize(ctx, validator, "broken")
	require.ErrorIs(suite.T(), err, ErrNoUserID)
	require.ErrorContains(suite.T(), err, "backend down")
	validator.AssertExpectations(suite.T())
}

// Test StaticValidator.
func (suite *AuthUnitTestSuite) TestStaticValidator() {
	ctx := context.Background()
	table := map[string]string{"t1": "alice"}
	validator := NewStaticValidator(table)
	table["t2"] = "bob"
	require.True(suite.T(), validator.IsValidToken(ctx, "t1"))
	require.False(suite.T(), validator.IsValidToken(ctx, "t2"))
	userID, err := validator.GetID(ctx, "t1")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), "alice", userID)
	_, err = validator.GetID(ctx, "t2")
	require.ErrorIs(suite.T(), err, ErrInvalidToken)
}

// # Description
//
// Test JWTValidator with tokens issued by IssueToken.
//
// Test will succeed if:
//   - A token signed with the right secret, issuer and audience is valid and resolves to its
//     subject.
//   - Tokens with a wrong secret, issuer or audience, expired tokens and garbage are invalid.
func (suite *AuthUnitTestSuite) TestJWTValidator() {
	ctx := context.Background()
	secret := []byte("s3cr3t")
	validator, err := NewJWTValidator(secret, "gowsengine", "ws")
	require.NoError(suite.T(), err)

	token, err := IssueToken(secret, "alice", "gowsengine", "ws", time.Minute)
	require.NoError(suite.T(), err)
	require.True(suite.T(), validator.IsValidToken(ctx, token))
	userID, err := validator.GetID(ctx, token)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), "alice", userID)

	invalid := []func() (string, error){
		func() (string, error) { return IssueToken([]byte("other"), "alice", "gowsengine", "ws", time.Minute) },
		func() (string, error) { return IssueToken(secret, "alice", "someone", "ws", time.Minute) },
		func() (string, error) { return IssueToken(secret, "alice", "gowsengine", "other", time.Minute) },
		func() (string, error) { return IssueToken(secret, "alice", "gowsengine", "ws", -time.Minute) },
		func() (string, error) { return "not.a.jwt", nil },
	}
	for _, build := range invalid {
		candidate, err := build()
		require.NoError(suite.T(), err)
		require.False(suite.T(), validator.IsValidToken(ctx, candidate))
		_, err = validator.GetID(ctx, candidate)
		require.ErrorIs(suite.T(), err, ErrInvalidToken)
	}

	noSubject, err := IssueToken(secret, "", "gowsengine", "ws", 0)
	require.NoError(suite.T(), err)
	_, err = validator.GetID(ctx, noSubject)
	require.ErrorIs(suite.T(), err, ErrNoUserID)

	_, err = NewJWTValidator(nil, "", "")
	require.Error(suite.T(), err)
}
