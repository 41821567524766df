package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

// ErrorsTestSuite 错误包测试套件
type ErrorsTestSuite struct {
	suite.Suite
}

func (suite *ErrorsTestSuite) TestNew() {
	err := New(ErrValidation)
	suite.NotNil(err)
	suite.Equal(ErrValidation, err.Code)
	suite.Equal("输入校验失败", err.Message)
	suite.Empty(err.Details)

	err = New(ErrRoomNotFound, "ABC123")
	suite.Equal("房间不存在", err.Message)
	suite.Equal("ABC123", err.Details)

	err = New(ErrDatabaseConnect, "连接失败", "主机: localhost")
	suite.Equal("连接失败; 主机: localhost", err.Details)
}

func (suite *ErrorsTestSuite) TestNewf() {
	err := Newf(ErrValidation, "名字长度 %d 超出上限 %d", 25, 20)
	suite.Equal("名字长度 25 超出上限 20", err.Details)
}

func (suite *ErrorsTestSuite) TestWrap() {
	originalErr := errors.New("原始错误")
	wrappedErr := Wrap(originalErr, ErrDatabaseQuery)
	suite.Equal(ErrDatabaseQuery, wrappedErr.Code)
	suite.Equal("原始错误", wrappedErr.Details)
	suite.Equal(originalErr, wrappedErr.Cause)

	suite.Nil(Wrap(nil, ErrUnknown))

	// 已有的AppError保留原始错误码
	appErr := New(ErrRoomClosed, "ABC123")
	wrappedAppErr := Wrap(appErr, ErrInternal, "加入房间")
	suite.Equal(ErrRoomClosed, wrappedAppErr.Code)
	suite.Contains(wrappedAppErr.Details, "加入房间")
}

func (suite *ErrorsTestSuite) TestIsThroughWrapping() {
	err := fmt.Errorf("转换失败: %w", New(ErrPreconditionViolation))
	suite.True(Is(err, ErrPreconditionViolation))
	suite.False(Is(err, ErrValidation))
	suite.False(Is(nil, ErrValidation))
	suite.Equal(ErrPreconditionViolation, GetCode(err))
	suite.Equal(ErrUnknown, GetCode(errors.New("标准错误")))
	suite.Equal(ErrorCode(0), GetCode(nil))
}

func (suite *ErrorsTestSuite) TestAs() {
	suite.Nil(As(nil))
	suite.Equal(ErrInternal, As(errors.New("x")).Code)
	suite.Equal(ErrRoomNotFound, As(New(ErrRoomNotFound)).Code)
}

func (suite *ErrorsTestSuite) TestError() {
	err := &AppError{Code: ErrRoomNotFound, Message: "房间不存在"}
	suite.Equal("[2001] 房间不存在", err.Error())

	err.Details = "ABC123"
	suite.Equal("[2001] 房间不存在: ABC123", err.Error())
}

func (suite *ErrorsTestSuite) TestWithCause() {
	cause := errors.New("SQL语法错误")
	err := New(ErrDatabaseQuery).WithCause(cause)
	suite.Equal(cause, err.Unwrap())
	suite.Equal("SQL语法错误", err.Details)

	err2 := New(ErrDatabaseQuery, "查询失败").WithCause(cause)
	suite.Equal("查询失败", err2.Details)
}

func (suite *ErrorsTestSuite) TestHTTPStatus() {
	testCases := []struct {
		code     ErrorCode
		expected int
	}{
		{ErrValidation, 400},
		{ErrRoomNotFound, 404},
		{ErrRoomClosed, 409},
		{ErrInsufficientCards, 409},
		{ErrPreconditionViolation, 409},
		{ErrSessionInvalid, 401},
		{ErrRateLimitExceeded, 429},
		{ErrDatabaseConnect, 503},
		{ErrCatalogLoad, 500},
		{ErrUnknown, 500},
	}

	for _, tc := range testCases {
		suite.Equal(tc.expected, New(tc.code).HTTPStatus(), "错误码 %d", tc.code)
	}
}

func (suite *ErrorsTestSuite) TestIsRetryable() {
	suite.True(IsRetryable(New(ErrVersionConflict)))
	suite.True(IsRetryable(New(ErrDatabaseConnect)))
	suite.False(IsRetryable(New(ErrPreconditionViolation)))
	suite.False(IsRetryable(nil))
}

func (suite *ErrorsTestSuite) TestIsCritical() {
	suite.True(IsCritical(New(ErrCatalogLoad)))
	suite.False(IsCritical(New(ErrRoomClosed)))
	suite.False(IsCritical(nil))
}

func (suite *ErrorsTestSuite) TestStackCapture() {
	err := New(ErrUnknown)
	suite.NotEmpty(err.Stack)
	suite.NotEmpty(err.GetStack())
}

func (suite *ErrorsTestSuite) TestErrorResponse() {
	err := New(ErrRoomNotFound, "ZZZZZZ")
	response := NewErrorResponse(err, "req-123")

	suite.False(response.Success)
	suite.Equal(err, response.Error)
	suite.Equal("req-123", response.RequestID)
	suite.Greater(response.Timestamp, int64(0))
}

func (suite *ErrorsTestSuite) TestUnknownErrorCode() {
	err := New(ErrorCode(99999))
	suite.Equal("未知错误", err.Message)
}

func TestErrorsSuite(t *testing.T) {
	suite.Run(t, new(ErrorsTestSuite))
}
