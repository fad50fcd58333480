// internal/server/errors.go
package server

import (
	"errors"
	"net/http"

	"github.com/avivl/conference-lock/internal/auth"
	"github.com/avivl/conference-lock/internal/conference"
	"github.com/avivl/conference-lock/internal/lockservice"
	"github.com/gin-gonic/gin"
)

const lockedMessage = "Conference is currently being edited by another user"

// writeError maps an error to its HTTP status and aborts the request.
func writeError(c *gin.Context, err error) {
	status, message := http.StatusInternalServerError, "Internal server error"

	switch {
	case errors.Is(err, auth.ErrNoToken), errors.Is(err, auth.ErrInvalidToken):
		status, message = http.StatusUnauthorized, "Unauthenticated"
	case errors.Is(err, conference.ErrNotFound):
		status, message = http.StatusNotFound, "Conference not found"
	case errors.Is(err, conference.ErrInvalidUpdate):
		status, message = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, lockservice.ErrStoreUnavailable):
		status, message = http.StatusServiceUnavailable, "Lock store unavailable, try again later"
	case errors.Is(err, lockservice.ErrLockContended):
		status, message = http.StatusConflict, "Lock is being changed concurrently, try again"
	}

	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"message": message})
}

// writeLocked answers 423 with the holder's record.
func writeLocked(c *gin.Context, holder *lockservice.LockRecord) {
	c.AbortWithStatusJSON(http.StatusLocked, gin.H{
		"message":   lockedMessage,
		"lock_info": holder,
	})
}
