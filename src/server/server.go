package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tourcraft/src/directors"
	"tourcraft/src/events"
	"tourcraft/src/relations"
	"tourcraft/src/settings"
	"tourcraft/src/store"
)

// Server is the TCP ops server for TourCraft. Operators and debug
// tooling connect with a line-based protocol and issue AUDIT, REPAIR,
// FETCH and related commands against the document store.
type Server struct {
	Host              string
	Port              int
	Listener          net.Listener
	ActiveConnections map[string]*Connection
	mu                sync.Mutex
	wg                sync.WaitGroup
	running           atomic.Bool
	store             store.DocumentStore
	bus               *events.Bus
	logger            *zap.SugaredLogger
}

// Connection represents an active client connection
type Connection struct {
	ID         string
	Conn       net.Conn
	Reader     *bufio.Reader
	Writer     *bufio.Writer
	LastActive time.Time
	Logger     *zap.SugaredLogger
}

const welcomeMessage = "TourCraft relational integrity service ready"

// InitServer initializes the TourCraft server: logger, store, relation
// table and the service singletons.
func InitServer(config *settings.Arguments) (*Server, error) {

	var logger *zap.Logger
	var err error

	if config.Debug {
		// Development configuration with more verbose output
		z := zap.NewDevelopmentConfig()
		z.OutputPaths = []string{"stdout"}
		logger, err = z.Build()
	} else {
		// Production configuration
		logger, err = zap.NewProduction()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Create a sugared logger for easier API
	sugar := logger.Sugar()

	// Replace standard log with zap
	zap.ReplaceGlobals(logger)

	// Relation declarations: built-ins plus whatever the config file adds
	fileSettings, err := config.LoadConfigFile()
	if err != nil {
		return nil, err
	}
	relationSet, err := relations.FromConfig(fileSettings.Relations)
	if err != nil {
		return nil, fmt.Errorf("invalid relation declarations: %w", err)
	}

	// Create the document store
	var docStore store.DocumentStore
	switch config.Storage {
	case "memory":
		docStore = store.NewMemoryStore()
		sugar.Info("Using in-memory document store")
	case "mongo":
		docStore, err = store.NewMongoStore(context.Background(), config.MongoURI, config.MongoDatabase, sugar)
		if err != nil {
			return nil, fmt.Errorf("failed to create mongo store: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown storage backend '%s'", config.Storage)
	}

	if config.CacheTTL > 0 {
		docStore = store.NewCachedStore(docStore, config.CacheTTL, sugar)
		sugar.Infof("Document cache enabled with TTL %s", config.CacheTTL)
	}

	// Create services
	bus := events.NewBus(sugar)
	auditor := relations.NewAuditor(docStore, relationSet, sugar)
	repairer := relations.NewRepairer(docStore, relationSet, sugar)
	entityService := directors.NewEntityService(docStore, relationSet, repairer, bus, config, sugar)
	detailService := directors.NewDetailService(docStore, relationSet, repairer, entityService, bus, config, sugar)

	// Initialize the singleton
	directors.InitServiceManager(entityService, detailService, auditor, repairer, relationSet, bus, sugar)

	server := &Server{
		Host:              config.Host,
		Port:              config.Port,
		ActiveConnections: make(map[string]*Connection),
		store:             docStore,
		bus:               bus,
		logger:            sugar,
	}

	return server, nil
}

// Start begins listening for incoming connections
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("error starting server on %s: %w", addr, err)
	}

	s.Listener = listener
	s.running.Store(true)

	log.Printf("TourCraft server listening on %s", addr)

	go s.acceptConnections()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.running.Store(false)

	// Close all active connections
	s.mu.Lock()
	for id, conn := range s.ActiveConnections {
		conn.Conn.Close()
		delete(s.ActiveConnections, id)
	}
	s.mu.Unlock()

	// Close the listener
	var listenerErr error
	if s.Listener != nil {
		listenerErr = s.Listener.Close()
	}

	s.wg.Wait()

	// Retire the event bus and the store connection
	s.bus.Shutdown()
	if err := s.store.Close(context.Background()); err != nil {
		s.logger.Warnf("Error closing document store: %v", err)
	}

	// Flush any buffered log entries
	s.logger.Info("Server shutdown complete")
	s.logger.Sync()

	return listenerErr
}

// acceptConnections handles incoming connection requests
func (s *Server) acceptConnections() {
	s.logger.Info("Server started accepting connections",
		zap.String("host", s.Host),
		zap.Int("port", s.Port))

	for s.running.Load() {
		conn, err := s.Listener.Accept()
		if err != nil {
			if s.running.Load() { // Only log if we're still supposed to be running
				s.logger.Errorw("Error accepting connection", "error", err)
			}
			continue
		}
		s.wg.Add(1)

		s.logger.Info("New connection received",
			zap.String("remoteAddr", conn.RemoteAddr().String()))

		// Handle each connection in a new goroutine
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConnection(c)
		}(conn)
	}
}

// handleConnection processes a single client connection
func (s *Server) handleConnection(conn net.Conn) {
	connID := generateConnectionID()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	// Create a connection-specific logger with connection ID context
	connLogger := s.logger
	if settings.GetSettings().Verbose {
		connLogger = connLogger.With(
			zap.String("connID", connID),
			zap.String("remoteAddr", conn.RemoteAddr().String()))
	}

	connection := &Connection{
		ID:         connID,
		Conn:       conn,
		Reader:     reader,
		Writer:     writer,
		LastActive: time.Now(),
		Logger:     connLogger,
	}

	// Register the connection
	s.mu.Lock()
	s.ActiveConnections[connID] = connection
	s.mu.Unlock()

	// Ensure connection is removed when this function exits
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.ActiveConnections, connID)
		s.mu.Unlock()
		connLogger.Infof("Connection closed: %s", connID)
		connLogger.Sync()
	}()

	// Send welcome message
	writer.WriteString(welcomeMessage + "\n")
	writer.Flush()

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if s.running.Load() {
				connLogger.Infof("Client %s disconnected: %v", connID, err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		connection.LastActive = time.Now()

		if strings.EqualFold(line, "QUIT") || strings.EqualFold(line, "EXIT") {
			sendSuccess(writer, "bye")
			return
		}

		result, err := s.processCommand(connection, line)
		if err != nil {
			sendError(writer, err.Error())
		} else {
			sendResult(writer, result, connLogger)
		}
	}
}

// Process a client command
func (s *Server) processCommand(conn *Connection, command string) (interface{}, error) {
	logger := s.logger.With("connID", conn.ID)
	logger.Infow("Received from client", "data", command)

	serviceManager := directors.GetServiceManager()
	return directors.CommandDirector(context.Background(), *serviceManager, command, logger)
}

// Helper functions
func sendError(writer *bufio.Writer, message string) {
	response := map[string]interface{}{
		"status":  "error",
		"message": message,
	}
	jsonResponse, _ := json.Marshal(response)
	writer.WriteString(string(jsonResponse) + "\n")
	writer.Flush()
}

func sendSuccess(writer *bufio.Writer, message string) {
	response := map[string]interface{}{
		"status":  "success",
		"message": message,
	}
	jsonResponse, _ := json.Marshal(response)
	writer.WriteString(string(jsonResponse) + "\n")
	writer.Flush()
}

func sendResult(writer *bufio.Writer, result interface{}, logger *zap.SugaredLogger) {
	switch typedResult := result.(type) {
	case *string:
		if typedResult != nil {
			// For string pointers, just write the string directly
			writer.WriteString(*typedResult + "\n")
			writer.Flush()
			return
		}
	case string:
		// For direct strings
		writer.WriteString(typedResult + "\n")
		writer.Flush()
		return
	default:
		// For other types, marshal to JSON
		data, _ := json.Marshal(result)
		logger.Debugf("Sending result: %s", data)
		writer.WriteString(string(data) + "\n")
		writer.Flush()
	}
}

func generateConnectionID() string {
	now := time.Now().UnixNano()
	return fmt.Sprintf("conn_%x", now)
}
