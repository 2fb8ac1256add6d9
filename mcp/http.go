package mcp

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/contextframe/contextframe-go/models"
)

// HTTPTransport serves JSON-RPC over POST /mcp/v1/jsonrpc plus the SSE
// progress stream, with a bounded worker pool for tool execution.
type HTTPTransport struct {
	server  *Server
	engine  *gin.Engine
	workers chan struct{}
}

// NewHTTPTransport builds the gin engine with the standard middleware
// stack: logger, recovery, CORS.
func NewHTTPTransport(server *Server) *HTTPTransport {
	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	workers := 8
	if server.cfg != nil && server.cfg.Server.Workers > 0 {
		workers = server.cfg.Server.Workers
	}
	t := &HTTPTransport{
		server:  server,
		workers: make(chan struct{}, workers),
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if server.cfg != nil && len(server.cfg.Server.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = server.cfg.Server.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
			"service":   "contextframe",
		})
	})

	v1 := router.Group("/mcp/v1")
	v1.POST("/jsonrpc", t.handleJSONRPC)
	v1.GET("/sse/progress/:task_id", t.handleProgress)

	t.engine = router
	return t
}

// Handler returns the http.Handler for the transport.
func (t *HTTPTransport) Handler() http.Handler { return t.engine }

func (t *HTTPTransport) handleJSONRPC(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(nil, &RPCError{
			Code: CodeParseError, Message: "cannot read request body",
			Data: &ErrorData{Kind: "validation"}}))
		return
	}

	// Bound concurrent tool work; a client disconnect cancels through the
	// request context.
	select {
	case t.workers <- struct{}{}:
		defer func() { <-t.workers }()
	case <-c.Request.Context().Done():
		return
	}

	resp := t.server.HandleRaw(c.Request.Context(), body,
		c.GetHeader("Authorization"), c.ClientIP())
	c.JSON(http.StatusOK, resp)
}

func (t *HTTPTransport) handleProgress(c *gin.Context) {
	taskID := c.Param("task_id")
	ch, cancel, ok := t.server.Tasks().Subscribe(taskID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task " + taskID})
		return
	}
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, open := <-ch:
			if !open {
				return false
			}
			c.SSEvent(ev.Event, ev)
			return !isTerminal(ev)
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func isTerminal(ev models.ProgressEvent) bool {
	return ev.Event == "complete" || ev.Event == "error"
}
