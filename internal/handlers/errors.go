package handlers

import (
	"net/http"

	"knowte-api/internal/apperr"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// respondError renders err as {"error": detail, "kind": kind}.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("[HTTP] request error")
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{
		"error": apperr.DetailOf(err),
		"kind":  apperr.KindOf(err),
	})
}

func badRequest(c *gin.Context, detail string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": detail,
		"kind":  apperr.KindInvalidInput,
	})
}
