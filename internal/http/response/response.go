package response

import "github.com/gin-gonic/gin"

func RespondOK(c *gin.Context, payload gin.H) {
	c.JSON(200, payload)
}

func RespondError(c *gin.Context, status int, code string, err error) {
	body := gin.H{"error": code}
	if err != nil {
		body["detail"] = err.Error()
	}
	c.JSON(status, body)
}
