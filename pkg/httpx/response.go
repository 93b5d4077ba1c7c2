package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// WriteObject 统一JSON响应，err非空时返回400
func WriteObject(c *gin.Context, obj interface{}, err error) {
	status := http.StatusOK
	if err != nil {
		status = http.StatusBadRequest
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(status, obj)
}

// WriteError 按指定状态码返回错误
func WriteError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}
