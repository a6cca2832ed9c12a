package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/xiebiao/stockledger/pkg/errors"
)

// Response is the JSON envelope returned by every endpoint.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error renders err with its AppError code. Internal causes are recorded on the
// gin context for the access log and never sent to the client.
func Error(c *gin.Context, err error) {
	appErr := apperrors.GetAppError(err)

	if appErr.Err != nil {
		_ = c.Error(appErr.Err)
	}

	c.JSON(appErr.HTTPStatus(), Response{
		Code:    appErr.Code,
		Message: appErr.Message,
	})
}

func ErrorWithCode(c *gin.Context, code int, message string) {
	Error(c, apperrors.New(code, message))
}

// ListData wraps a list result with its size.
type ListData struct {
	List  interface{} `json:"list"`
	Total int         `json:"total"`
}

func SuccessWithList(c *gin.Context, list interface{}, total int) {
	Success(c, &ListData{List: list, Total: total})
}

// Invalid reports a request rejected by binding or validation. The validator
// message is passed through so the client can see which field failed.
func Invalid(c *gin.Context, kind *apperrors.AppError, err error) {
	ErrorWithCode(c, kind.Code, kind.Message+": "+err.Error())
}
