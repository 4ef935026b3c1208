// Package app provides application initialization and dependency injection.
//
// App is the container that wires all components together: the database
// pool, Genkit with the DeepSeek model, the arXiv search tool, the chat
// store and service, and the HTTP server. Setup builds it, Close tears
// it down.
package app

import (
	"net/http"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/papergent/papergent/internal/agent"
	"github.com/papergent/papergent/internal/chat"
	"github.com/papergent/papergent/internal/config"
	"github.com/papergent/papergent/internal/log"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit *genkit.Genkit
	DBPool *pgxpool.Pool

	Store   *chat.Store
	Service *chat.Service
	Agent   *agent.Agent

	// Handler is the fully assembled HTTP handler, ready to serve.
	Handler http.Handler
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.logger().Info("shutting down application")

	if a.DBPool != nil {
		a.DBPool.Close()
		a.logger().Info("database pool closed")
	}

	return nil
}

func (a *App) logger() log.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return log.NewNop()
}
