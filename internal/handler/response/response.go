package response

import (
	"encoding/json"
	"net/http"

	"relay-core/pkg/errno"

	"github.com/gin-gonic/gin"
)

const Version = "2.0"

// Response JSON-RPC 2.0 响应信封; result 与 error 恰好出现一个
type Response struct {
	JSONRPC string       `json:"jsonrpc"`
	Result  interface{}  `json:"result,omitempty"`
	Error   *ErrorObject `json:"error,omitempty"`
	ID      *json.Number `json:"id"` // 未知时为 null
}

type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Success returns a result envelope echoing the request id
func Success(c *gin.Context, id json.Number, result interface{}) {
	c.JSON(http.StatusOK, Response{JSONRPC: Version, Result: result, ID: &id})
}

// Error 只输出 errno 的 code/message, 内部 cause 不会出现在响应中.
// id 为 nil 时输出 null. 协议层错误同样使用 HTTP 200.
func Error(c *gin.Context, id *json.Number, err error) {
	code, msg := errno.Decode(err)
	c.JSON(http.StatusOK, Response{
		JSONRPC: Version,
		Error:   &ErrorObject{Code: code, Message: msg},
		ID:      id,
	})
}
