package transport

import (
	"errors"
	"net/http"

	"github.com/ds124wfegd/cca-waitlist/internal/entity"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ErrorResponse тело ответа с ошибкой
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse тело успешного ответа без данных
type MessageResponse struct {
	Message string `json:"message"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, entity.ErrValidation),
		errors.Is(err, entity.ErrConflict),
		errors.Is(err, entity.ErrPromotionExpired):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrPolicy):
		return http.StatusForbidden
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()

	if status == http.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{
			"path":  c.FullPath(),
			"error": err,
		}).Error("Waitlist request failed")
		// детали БД наружу не отдаем
		var domainErr *entity.DomainError
		if errors.As(err, &domainErr) {
			msg = domainErr.Msg
		} else {
			msg = "internal server error"
		}
	}

	c.JSON(status, ErrorResponse{Error: msg})
}
