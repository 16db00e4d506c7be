// Package response writes the API envelope. Every reply is HTTP 200 with
// {code, msg, data}; clients read the envelope code, not the status line.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"
)

// apiError carries the envelope code through proxyutil, which extracts it
// via the Code() method.
type apiError struct {
	code uint32
	msg  string
}

func (e apiError) Error() string { return e.msg }

func (e apiError) Code() uint32 { return e.code }

func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

func Error(c *gin.Context, code int, message string) {
	proxyutil.FailJson(c, http.StatusOK, apiError{code: uint32(code), msg: message})
}
