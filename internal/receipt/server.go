package receipt

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const maxUploadSize = int64(50 << 20) // high-resolution phone photos

// Server handles HTTP requests for the receipt review workflow
type Server struct {
	service    *Service
	categories CategoryRegistry
	basicAuth  BasicAuth
	engine     *gin.Engine
	httpServer *http.Server
}

// BasicAuth holds basic authentication credentials.
// Password may be a bcrypt hash instead of plain text.
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with its routes registered
func NewServer(service *Service, categories CategoryRegistry, basicAuth BasicAuth) *Server {
	engine := gin.New()
	engine.MaxMultipartMemory = maxUploadSize

	s := &Server{
		service:    service,
		categories: categories,
		basicAuth:  basicAuth,
		engine:     engine,
		httpServer: &http.Server{
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	s.registerRoutes()
	return s
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) != 1 {
		return false
	}
	if isBcryptHash(s.basicAuth.Password) {
		return bcrypt.CompareHashAndPassword([]byte(s.basicAuth.Password), []byte(pass)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
}

// requireAuth middleware
func (s *Server) requireAuth(c *gin.Context) {
	if !s.authenticate(c.Request) {
		c.Header("WWW-Authenticate", `Basic realm="Receipt Ledger"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.Next()
}

// requestLogger logs each request through slog
func requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()
	slog.Info("HTTP request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"latency", time.Since(start),
	)
}

// registerRoutes registers all API routes on the server's engine
func (s *Server) registerRoutes() {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.MaxAge = time.Hour

	s.engine.Use(gin.Recovery(), requestLogger, cors.New(corsConfig))

	s.engine.GET("/api/health", s.handleHealth)

	api := s.engine.Group("/api", s.requireAuth)

	api.POST("/upload-receipts", s.handleUploadReceipts)
	api.POST("/ingest", s.handleIngest)

	api.GET("/unverified-receipts", s.handleListPending)
	api.GET("/unverified-receipts/:id", s.handleGetPending)
	api.DELETE("/unverified-receipts/:id", s.handleDiscard)
	api.POST("/approve-receipt/:id", s.handleApprove)

	api.GET("/verified-receipts", s.handleListApproved)
	api.GET("/verified-receipts/export", s.handleExport)

	api.GET("/categories", s.handleListCategories)
	api.POST("/categories", s.handleCreateCategory)
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	slog.Info("Starting server", "address", ln.Addr().String())
	// Serve returns ErrServerClosed at once if Shutdown already ran
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server. It is safe to call before or during Start.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}
