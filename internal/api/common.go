package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/story-game/internal/errors"
)

// respondError 按错误码映射HTTP状态并输出统一错误信封
func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if e, ok := err.(*apperrors.AppError); ok {
		appErr = e
	} else {
		appErr = apperrors.Wrap(err, apperrors.ErrUnknown)
	}
	c.JSON(appErr.HTTPStatus(), apperrors.NewErrorResponse(appErr, c.GetHeader("X-Request-ID")))
}

// respondBadRequest 参数绑定失败的统一应答
func respondBadRequest(c *gin.Context, err error) {
	appErr := apperrors.New(apperrors.ErrInvalidParam, err.Error())
	c.JSON(http.StatusBadRequest, apperrors.NewErrorResponse(appErr, c.GetHeader("X-Request-ID")))
}
