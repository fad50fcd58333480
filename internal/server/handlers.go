// internal/server/handlers.go
package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/avivl/conference-lock/internal/conference"
	"github.com/avivl/conference-lock/internal/lockservice"
	"github.com/gin-gonic/gin"
)

// conferenceView is a conference annotated with its lock state.
type conferenceView struct {
	conference.Conference
	IsLocked bool                    `json:"is_locked"`
	LockInfo *lockservice.LockRecord `json:"lock_info,omitempty"`
}

type lockStateResponse struct {
	IsLocked bool                    `json:"is_locked"`
	LockInfo *lockservice.LockRecord `json:"lock_info,omitempty"`
}

func (s *Server) healthz(c *gin.Context) {
	if err := s.locks.Ping(c.Request.Context()); err != nil {
		s.logger.WarnCtx(c.Request.Context(), "Health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) logout(c *gin.Context) {
	caller := identity(c)
	released, err := s.locks.ReleaseAllUserLocks(c.Request.Context(), caller.User.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out", "released_locks": released})
}

func (s *Server) myLocks(c *gin.Context) {
	locks, err := s.locks.GetUserLocks(c.Request.Context(), identity(c).User.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	if locks == nil {
		locks = []lockservice.UserLock{}
	}
	c.JSON(http.StatusOK, gin.H{"locks": locks})
}

func (s *Server) cleanupLocks(c *gin.Context) {
	removed, err := s.locks.CleanupExpiredLocks(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) annotate(c *gin.Context, conf conference.Conference) (conferenceView, error) {
	holder, err := s.locks.CheckLock(c.Request.Context(), conf.ID)
	if err != nil {
		return conferenceView{}, err
	}
	return conferenceView{Conference: conf, IsLocked: holder != nil, LockInfo: holder}, nil
}

func (s *Server) listConferences(c *gin.Context) {
	conferences, err := s.conferences.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	views := make([]conferenceView, 0, len(conferences))
	for _, conf := range conferences {
		view, err := s.annotate(c, conf)
		if err != nil {
			writeError(c, err)
			return
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (s *Server) showConference(c *gin.Context) {
	view, err := s.annotate(c, *currentConference(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) updateConference(c *gin.Context) {
	var update conference.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}

	updated, err := s.conferences.Update(c.Request.Context(), currentConference(c).ID, update)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": updated})
}

// setLatestConference also refuses the flip while the current latest
// conference is locked by someone else.
func (s *Server) setLatestConference(c *gin.Context) {
	ctx := c.Request.Context()
	target := currentConference(c)
	caller := identity(c)

	latest, err := s.conferences.Latest(ctx)
	switch {
	case err == nil && latest.ID != target.ID:
		holder, err := s.locks.CheckLock(ctx, latest.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		if holder != nil && holder.UserID != caller.User.ID {
			writeLocked(c, holder)
			return
		}
	case err != nil && !errors.Is(err, conference.ErrNotFound):
		writeError(c, err)
		return
	}

	updated, err := s.conferences.SetLatest(ctx, target.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": updated})
}

func (s *Server) checkLock(c *gin.Context) {
	holder, err := s.locks.CheckLock(c.Request.Context(), currentConference(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lockStateResponse{IsLocked: holder != nil, LockInfo: holder})
}

func (s *Server) acquireLock(c *gin.Context) {
	result, err := s.locks.AcquireLock(c.Request.Context(), currentConference(c).ID, identity(c).User)
	if err != nil {
		writeError(c, err)
		return
	}
	if !result.Acquired {
		writeLocked(c, result.Lock)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Lock acquired", "lock_info": result.Lock})
}

func (s *Server) refreshLock(c *gin.Context) {
	refreshed, err := s.locks.RefreshLock(c.Request.Context(), currentConference(c).ID, identity(c).User.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !refreshed {
		c.JSON(http.StatusForbidden, gin.H{"message": "You do not own the lock on this conference"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Lock refreshed"})
}

func (s *Server) releaseLock(c *gin.Context) {
	released, err := s.locks.ReleaseLock(c.Request.Context(), currentConference(c).ID, identity(c).User.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !released {
		c.JSON(http.StatusForbidden, gin.H{"message": "You do not own the lock on this conference"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Lock released"})
}

func (s *Server) forceReleaseLock(c *gin.Context) {
	conf := currentConference(c)
	if _, err := s.locks.ForceReleaseLock(c.Request.Context(), conf.ID); err != nil {
		writeError(c, err)
		return
	}
	s.logger.InfoCtx(c.Request.Context(), "Lock force released by administrator",
		"conference_id", conf.ID, "admin_id", identity(c).User.ID)
	c.JSON(http.StatusOK, gin.H{"message": "Lock force released"})
}

type attachEditorRequest struct {
	UserID int64 `json:"user_id" binding:"required,gt=0"`
}

func (s *Server) attachEditor(c *gin.Context) {
	var req attachEditorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "user_id is required"})
		return
	}
	if err := s.conferences.AttachEditor(c.Request.Context(), currentConference(c).ID, req.UserID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Editor attached"})
}

// detachEditor also drops any lock the removed editor holds.
func (s *Server) detachEditor(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil || userID <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "Invalid user ID"})
		return
	}

	ctx := c.Request.Context()
	conf := currentConference(c)
	detached, err := s.conferences.DetachEditor(ctx, conf.ID, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	released, err := s.locks.ReleaseLock(ctx, conf.ID, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detached": detached, "released_lock": released})
}
