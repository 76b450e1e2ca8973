package app

import (
	"net/http"

	"federation-gateway/internal/common/logging"
	"federation-gateway/internal/handlers"
	"federation-gateway/internal/server"

	"github.com/gorilla/mux"
)

// Handler builds the HTTP handler with all routes configured
func (app *App) Handler() http.Handler {
	h := handlers.New(app.Storage, app.Store, app.Dispatcher, app.Logger.WithFields(logging.Field{Key: "component", Value: "handlers"}),
		handlers.WithKeyInvalidator(app.Keys),
		handlers.WithClock(app.Now),
	)

	router := mux.NewRouter()
	app.SetupRoutes(router, h)
	return router
}

// RunServer creates the HTTP server and starts the maintenance scheduler
func (app *App) RunServer() (*server.Server, error) {
	if err := app.StartMaintenance(); err != nil {
		return nil, err
	}
	return server.New(app.Handler(), app.Config.Port, app.Config.TLSCertFile, app.Config.TLSKeyFile), nil
}
