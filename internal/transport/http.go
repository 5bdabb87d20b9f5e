// Package transport is the thin HTTP/SSE adapter around the core engine.
// It wires gin-gonic handlers directly onto the core interfaces (pipeline,
// chat, change engine, initialization service, event bus) and owns the
// only place that knows about SSE framing.
package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tripforge/itinerary-engine/internal/changeengine"
	"github.com/tripforge/itinerary-engine/internal/chat"
	"github.com/tripforge/itinerary-engine/internal/eventbus"
	"github.com/tripforge/itinerary-engine/internal/initsvc"
	"github.com/tripforge/itinerary-engine/internal/model"
	"github.com/tripforge/itinerary-engine/internal/pipeline"
	"github.com/tripforge/itinerary-engine/internal/store"
	"github.com/tripforge/itinerary-engine/internal/telemetry"
)

// Server wires the core engine's components onto HTTP endpoints.
type Server struct {
	engine   *gin.Engine
	store    store.Store
	bus      eventbus.Bus
	orch     *pipeline.Orchestrator
	chatOrch *chat.Orchestrator
	changes  *changeengine.Engine
	initSvc  *initsvc.Service
	logger   telemetry.Logger
}

// New builds a Server with all routes registered.
func New(s store.Store, bus eventbus.Bus, orch *pipeline.Orchestrator, chatOrch *chat.Orchestrator, changes *changeengine.Engine, initSvc *initsvc.Service, logger telemetry.Logger) *Server {
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	gin.SetMode(gin.ReleaseMode)
	srv := &Server{
		engine:   gin.New(),
		store:    s,
		bus:      bus,
		orch:     orch,
		chatOrch: chatOrch,
		changes:  changes,
		initSvc:  initSvc,
		logger:   logger.WithComponent("transport"),
	}
	srv.engine.Use(gin.Recovery())
	srv.routes()
	return srv
}

// Handler returns the otelhttp-instrumented handler to pass to http.Server.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.engine, "itinerary-engine")
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.POST("/itineraries", s.handleCreate)
	s.engine.POST("/itineraries/:id/changes", s.handleApplyChange)
	s.engine.POST("/itineraries/:id/changes/preview", s.handlePreviewChange)
	s.engine.POST("/itineraries/:id/chat", s.handleChat)
	s.engine.GET("/itineraries/:id/revisions", s.handleListRevisions)
	s.engine.POST("/itineraries/:id/revisions/:revision/rollback", s.handleRollback)
	s.engine.GET("/itineraries/:id/events", s.handleEventStream)
}

func (s *Server) handleHealthz(c *gin.Context) {
	if err := s.store.Healthcheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createItineraryRequest struct {
	UserID      string   `json:"user_id" binding:"required"`
	Destination string   `json:"destination" binding:"required"`
	Start       string   `json:"start" binding:"required"`
	End         string   `json:"end" binding:"required"`
	Adults      int      `json:"adults"`
	Children    int      `json:"children"`
	Rooms       int      `json:"rooms"`
	BudgetTier  string   `json:"budget_tier"`
	Interests   []string `json:"interests"`
	Language    string   `json:"language"`
}

func (s *Server) handleCreate(c *gin.Context) {
	var req createItineraryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}

	start, err := time.Parse("2006-01-02", req.Start)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": "start must be YYYY-MM-DD"})
		return
	}
	end, err := time.Parse("2006-01-02", req.End)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": "end must be YYYY-MM-DD"})
		return
	}

	result, err := s.initSvc.Create(c.Request.Context(), req.UserID, initsvc.CreateRequest{
		Destination: req.Destination,
		DateRange:   model.DateRange{Start: start, End: end, Inclusive: true},
		Party:       model.Party{Adults: req.Adults, Children: req.Children, Rooms: req.Rooms},
		BudgetTier:  model.BudgetTier(req.BudgetTier),
		Interests:   req.Interests,
		Language:    req.Language,
	})
	if err != nil {
		writeEngineError(c, err)
		return
	}

	if s.orch != nil {
		go s.orch.Run(c.Copy().Request.Context(), result.Itinerary.ID, result.ExecutionID)
	}

	c.JSON(http.StatusCreated, gin.H{
		"itinerary_id": result.Itinerary.ID,
		"execution_id": result.ExecutionID,
		"itinerary":    result.Itinerary,
	})
}

func (s *Server) handleApplyChange(c *gin.Context) {
	itineraryID := c.Param("id")
	var cs model.ChangeSet
	if err := c.ShouldBindJSON(&cs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}

	res, err := s.changes.Apply(c.Request.Context(), itineraryID, cs)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"new_version": res.NewVersion, "diff": res.Diff})
}

func (s *Server) handlePreviewChange(c *gin.Context) {
	itineraryID := c.Param("id")
	var cs model.ChangeSet
	if err := c.ShouldBindJSON(&cs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}

	it, err := s.store.Load(c.Request.Context(), itineraryID)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	diff, err := s.changes.Propose(c.Request.Context(), it, cs)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"diff": diff})
}

type chatRequest struct {
	Text        string `json:"text" binding:"required"`
	ExecutionID string `json:"execution_id"`
	ScopeDay    int    `json:"scope_day"`
}

func (s *Server) handleChat(c *gin.Context) {
	itineraryID := c.Param("id")
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}

	resp, err := s.chatOrch.Handle(c.Request.Context(), chat.Request{
		ItineraryID: itineraryID,
		Text:        req.Text,
		ExecutionID: req.ExecutionID,
		ScopeDay:    req.ScopeDay,
	})
	if err != nil {
		c.JSON(http.StatusOK, gin.H{
			"apology": "Sorry, I couldn't process that request. Please try again.",
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListRevisions(c *gin.Context) {
	itineraryID := c.Param("id")
	limit := queryInt(c, "limit", 20)
	before := queryInt(c, "before", 0)

	revs, err := s.store.ListRevisions(c.Request.Context(), itineraryID, limit, before)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revisions": revs})
}

func (s *Server) handleRollback(c *gin.Context) {
	itineraryID := c.Param("id")
	revisionNumber := queryInt(c, "revision", 0)
	if revisionNumber == 0 {
		fmt.Sscanf(c.Param("revision"), "%d", &revisionNumber)
	}

	newVersion, err := s.changes.Undo(c.Request.Context(), itineraryID, revisionNumber)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"new_version": newVersion})
}

// handleEventStream opens a long-lived SSE stream subscribed to one
// itinerary's topic, optionally filtered to a single execution ID. Encoding
// is text-framed SSE; the core only knows the Subscription abstraction.
func (s *Server) handleEventStream(c *gin.Context) {
	itineraryID := c.Param("id")
	executionFilter := c.Query("execution_id")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sse not supported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("Access-Control-Allow-Origin", "*")

	sub := s.bus.Subscribe(itineraryID)
	defer sub.Unsubscribe()

	ctx := c.Request.Context()
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if executionFilter != "" && ev.ExecutionID != executionFilter {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return fallback
	}
	return n
}

func writeEngineError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case model.IsConflict(err):
		status = http.StatusConflict
	case model.IsNotFound(err):
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
