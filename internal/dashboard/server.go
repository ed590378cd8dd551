package dashboard

import (
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/cchambers/director/internal/logging"
	"github.com/cchambers/director/internal/transcript"
)

// Server exposes the transcript API and event stream. A session attaches its
// buffer at start; between sessions the API answers 503.
type Server struct {
	hub *Hub

	mu     sync.RWMutex
	buffer *transcript.Buffer

	httpServer *http.Server
}

// NewServer creates the dashboard server for addr.
func NewServer(addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{hub: NewHub()}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/api/transcript", s.handleTranscript)
	router.PATCH("/api/transcript/:index", s.handleUpdateEntry)
	router.GET("/api/events", s.handleEvents)

	s.httpServer = &http.Server{Addr: addr, Handler: router}
	return s
}

// AttachSession points the API at a session's transcript and subscribes the
// event feed to its appends.
func (s *Server) AttachSession(buffer *transcript.Buffer) {
	s.mu.Lock()
	s.buffer = buffer
	s.mu.Unlock()
	buffer.OnAppend(func(entry transcript.Entry) {
		s.hub.Broadcast("entry", entry)
	})
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() {
	logging.Info(logging.CategoryDashboard, "dashboard listening addr=%s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error(logging.CategoryDashboard, "dashboard server error: %v", err)
	}
}

// Shutdown stops the HTTP server.
func (s *Server) Shutdown() {
	_ = s.httpServer.Close()
}

func (s *Server) currentBuffer() *transcript.Buffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buffer
}

func (s *Server) handleTranscript(c *gin.Context) {
	buffer := s.currentBuffer()
	if buffer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no active session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": buffer.FullLog()})
}

type updateRequest struct {
	Speaker *string `json:"speaker"`
	Text    *string `json:"text"`
}

func (s *Server) handleUpdateEntry(c *gin.Context) {
	buffer := s.currentBuffer()
	if buffer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no active session"})
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be an integer"})
		return
	}
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := buffer.UpdateEntry(index, transcript.Patch{Speaker: req.Speaker, Text: req.Text})
	if err != nil {
		if errors.Is(err, transcript.ErrIndexOutOfRange) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logging.Info(logging.CategoryDashboard, "transcript entry edited index=%d", index)
	c.JSON(http.StatusOK, entry)
}

func (s *Server) handleEvents(c *gin.Context) {
	id, events := s.hub.Register()
	defer s.hub.Unregister(id)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			if _, err := c.Writer.Write(msg); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
