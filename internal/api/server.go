// Package api exposes the agent's HTTP control surface: bind-card commands,
// cookie reads, the bounded log ring with a live SSE stream, and the
// persisted settings document.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/w457602/atm_agent/internal/logstore"
	"github.com/w457602/atm_agent/internal/protocol"
	"github.com/w457602/atm_agent/internal/settings"
)

// Commands is the message dispatch entry point the HTTP surface drives.
type Commands interface {
	HandleMessage(ctx context.Context, msg protocol.Message, from protocol.Sender) protocol.Response
}

// Status reports agent liveness details for the health endpoint.
type Status interface {
	TabCount() int
}

// Server bundles the dependencies of the HTTP handlers.
type Server struct {
	commands Commands
	status   Status
	logs     *logstore.Store
	broker   *logstore.Broker
	settings *settings.Store
}

func NewServer(commands Commands, status Status, logs *logstore.Store, broker *logstore.Broker, set *settings.Store) http.Handler {
	s := &Server{commands: commands, status: status, logs: logs, broker: broker, settings: set}

	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("ATM Agent API", "1.0.0")
	api := humachi.New(router, cfg)

	router.Get("/api/v1/logs/stream", s.streamLogs)

	s.registerCommandHandlers(api)
	s.registerCookieHandlers(api)
	s.registerLogHandlers(api)
	s.registerSettingsHandlers(api)
	s.registerHealthHandlers(api)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *protocol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case protocol.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case protocol.CodeTabNotFound:
			return huma.Error404NotFound(coded.Message)
		case protocol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case protocol.CodeCDPUnavailable, protocol.CodeSendFailed:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
