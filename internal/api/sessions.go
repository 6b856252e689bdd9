package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/backstage/services/aggregation/internal/classifier"
	"example.com/backstage/services/aggregation/internal/gs1"
	"example.com/backstage/services/aggregation/internal/model"
	"example.com/backstage/services/aggregation/internal/session"
)

// FrameRequest is one analysed frame of decoded barcodes
type FrameRequest struct {
	Codes []classifier.RawCode `json:"codes" binding:"dive"`
}

// FrameResponse is the session state after a frame, with the check it
// triggered if any
type FrameResponse struct {
	Outcome  *session.Outcome `json:"outcome"`
	Snapshot session.View     `json:"snapshot"`
}

// ClassifyRequest asks for the classification of codes outside any session
type ClassifyRequest struct {
	Codes []classifier.RawCode `json:"codes" binding:"required,dive"`
}

func (s *Server) listSessions(c *gin.Context) {
	now := time.Now()
	views := make([]session.View, 0)
	for _, sess := range s.sessions.List() {
		views = append(views, sess.Snapshot(now))
	}
	c.JSON(http.StatusOK, views)
}

// openSession starts a session for the task in the body
func (s *Server) openSession(c *gin.Context) {
	var task model.Task
	if err := c.ShouldBindJSON(&task); err != nil {
		writeError(c, NewValidationError(err.Error()))
		return
	}

	sess, err := s.sessions.Open(c.Request.Context(), task)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sess.Snapshot(time.Now()))
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot(time.Now()))
}

// closeSession ends the session and deletes its stored data
func (s *Server) closeSession(c *gin.Context) {
	if err := s.sessions.Close(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// observeFrame feeds one frame into the session. An empty code list is a
// valid frame and drives eviction.
func (s *Server) observeFrame(c *gin.Context) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	var req FrameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, NewValidationError(err.Error()))
		return
	}
	if err := normalizeSymbologies(req.Codes); err != nil {
		writeError(c, err)
		return
	}

	now := time.Now()
	outcome, err := sess.Observe(c.Request.Context(), req.Codes, now)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, FrameResponse{Outcome: outcome, Snapshot: sess.Snapshot(now)})
}

// checkNow forces a check of the current buffer
func (s *Server) checkNow(c *gin.Context) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	outcome, err := sess.CheckNow(c.Request.Context(), time.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (s *Server) getSnapshot(c *gin.Context) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot(time.Now()).Codes)
}

func (s *Server) listPackages(c *gin.Context) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	packages, err := sess.Packages(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, packages)
}

func (s *Server) classify(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, NewValidationError(err.Error()))
		return
	}
	if err := normalizeSymbologies(req.Codes); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, classifier.ClassifyAll(req.Codes))
}

// normalizeSymbologies accepts loose symbology names such as "datamatrix"
func normalizeSymbologies(codes []classifier.RawCode) error {
	for i := range codes {
		if codes[i].Symbology == "" {
			continue
		}
		sym, err := gs1.ParseSymbologyName(string(codes[i].Symbology))
		if err != nil {
			return NewValidationError(fmt.Sprintf("codes[%d]: %v", i, err))
		}
		codes[i].Symbology = sym
	}
	return nil
}
