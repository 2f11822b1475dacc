package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

// ErrorsTestSuite 错误包测试套件
type ErrorsTestSuite struct {
	suite.Suite
}

// 测试创建新错误
func (suite *ErrorsTestSuite) TestNew() {
	// 测试基本错误创建
	err := New(ErrInvalidParam)
	suite.NotNil(err)
	suite.Equal(ErrInvalidParam, err.Code)
	suite.Equal("无效的参数", err.Message)
	suite.Empty(err.Details)

	// 测试带详情的错误
	err = New(ErrSessionNotFound, "会话不存在")
	suite.NotNil(err)
	suite.Equal(ErrSessionNotFound, err.Code)
	suite.Equal("故事会话不存在", err.Message)
	suite.Equal("会话不存在", err.Details)

	// 测试多个详情
	err = New(ErrVersionConflict, "提交回合: 3", "最新回合: 5")
	suite.Equal("提交回合: 3; 最新回合: 5", err.Details)
}

// 测试格式化错误创建
func (suite *ErrorsTestSuite) TestNewf() {
	err := Newf(ErrNotYourTurn, "当前应由 %d 号位行动", 2)
	suite.NotNil(err)
	suite.Equal(ErrNotYourTurn, err.Code)
	suite.Equal("当前应由 2 号位行动", err.Details)
}

// 测试错误包装
func (suite *ErrorsTestSuite) TestWrap() {
	// 包装标准错误
	originalErr := errors.New("原始错误")
	wrappedErr := Wrap(originalErr, ErrDatabaseQuery)
	suite.NotNil(wrappedErr)
	suite.Equal(ErrDatabaseQuery, wrappedErr.Code)
	suite.Equal("原始错误", wrappedErr.Details)
	suite.Equal(originalErr, wrappedErr.Cause)

	// 包装nil错误
	nilErr := Wrap(nil, ErrUnknown)
	suite.Nil(nilErr)

	// 包装已有的AppError保留原始错误码
	appErr := New(ErrVersionConflict, "回合过期")
	wrappedAppErr := Wrap(appErr, ErrInvalidParam, "额外信息")
	suite.Equal(ErrVersionConflict, wrappedAppErr.Code)
}

// 测试错误码判断
func (suite *ErrorsTestSuite) TestIs() {
	err := New(ErrNotYourTurn)
	suite.True(Is(err, ErrNotYourTurn))
	suite.False(Is(err, ErrVersionConflict))
	suite.False(Is(nil, ErrNotYourTurn))
	suite.False(Is(errors.New("普通错误"), ErrNotYourTurn))
}

// 测试获取错误码
func (suite *ErrorsTestSuite) TestGetCode() {
	suite.Equal(ErrorCode(0), GetCode(nil))
	suite.Equal(ErrUnknown, GetCode(errors.New("普通错误")))
	suite.Equal(ErrSessionFull, GetCode(New(ErrSessionFull)))
}

// 测试HTTP状态码映射
func (suite *ErrorsTestSuite) TestHTTPStatus() {
	suite.Equal(409, New(ErrVersionConflict).HTTPStatus())
	suite.Equal(409, New(ErrSessionFull).HTTPStatus())
	suite.Equal(403, New(ErrNotYourTurn).HTTPStatus())
	suite.Equal(404, New(ErrSessionNotFound).HTTPStatus())
	suite.Equal(401, New(ErrTokenExpired).HTTPStatus())
	suite.Equal(502, New(ErrMalformedOutput).HTTPStatus())
	suite.Equal(504, New(ErrGenerateTimeout).HTTPStatus())
	suite.Equal(500, New(ErrUnknown).HTTPStatus())
}

// 测试可重试判断
func (suite *ErrorsTestSuite) TestIsRetryable() {
	suite.True(IsRetryable(New(ErrGenerateTimeout)))
	suite.True(IsRetryable(New(ErrMalformedOutput)))
	suite.False(IsRetryable(New(ErrVersionConflict)))
	suite.False(IsRetryable(New(ErrNotYourTurn)))
	suite.False(IsRetryable(nil))
}

// 测试错误消息格式
func (suite *ErrorsTestSuite) TestErrorString() {
	err := New(ErrSessionFull)
	suite.Equal("[2001] 会话人数已满", err.Error())

	err = New(ErrSessionFull, "上限: 4")
	suite.Equal("[2001] 会话人数已满: 上限: 4", err.Error())
}

// TestErrorsTestSuite 运行测试套件
func TestErrorsTestSuite(t *testing.T) {
	suite.Run(t, new(ErrorsTestSuite))
}
