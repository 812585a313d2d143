package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/w457602/atm_agent/internal/logstore"
	"github.com/w457602/atm_agent/internal/protocol"
	"github.com/w457602/atm_agent/internal/settings"
)

type commandOutput struct {
	Body struct {
		Success bool   `json:"success"`
		Message string `json:"message,omitempty"`
	}
}

func (s *Server) registerCommandHandlers(api huma.API) {
	type bindCardInput struct {
		Body struct {
			OnlyFill bool `json:"only_fill,omitempty" doc:"Fill fields without navigation side effects"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "bind-card", Method: http.MethodPost, Path: "/api/v1/commands/bind-card", Summary: "Trigger one-click bind on the active tab", Tags: []string{"Commands"}},
		func(ctx context.Context, input *bindCardInput) (*commandOutput, error) {
			resp := s.commands.HandleMessage(ctx, protocol.Message{
				Action:   protocol.ActionBindCard,
				OnlyFill: input.Body.OnlyFill,
			}, protocol.Sender{})
			out := &commandOutput{}
			out.Body.Success = resp.Success
			out.Body.Message = resp.Message
			if !resp.Success && out.Body.Message == "" {
				out.Body.Message = resp.Error
			}
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "fill-only", Method: http.MethodPost, Path: "/api/v1/commands/fill-only", Summary: "Trigger fill-only bind on the active tab", Tags: []string{"Commands"}},
		func(ctx context.Context, input *struct{}) (*commandOutput, error) {
			resp := s.commands.HandleMessage(ctx, protocol.Message{
				Action:   protocol.ActionBindCard,
				OnlyFill: true,
			}, protocol.Sender{})
			out := &commandOutput{}
			out.Body.Success = resp.Success
			out.Body.Message = resp.Message
			return out, nil
		})

	type messageInput struct {
		Body protocol.Message
	}
	type messageOutput struct {
		Body protocol.Response
	}
	huma.Register(api, huma.Operation{OperationID: "post-message", Method: http.MethodPost, Path: "/api/v1/messages", Summary: "Dispatch a raw protocol message", Tags: []string{"Commands"}},
		func(ctx context.Context, input *messageInput) (*messageOutput, error) {
			out := &messageOutput{}
			out.Body = s.commands.HandleMessage(ctx, input.Body, protocol.Sender{})
			return out, nil
		})
}

func (s *Server) registerCookieHandlers(api huma.API) {
	type cookiesInput struct {
		Domain string `query:"domain" required:"true" doc:"Cookie domain to match"`
	}
	type cookiesOutput struct {
		Body protocol.Response
	}
	huma.Register(api, huma.Operation{OperationID: "get-cookies", Method: http.MethodGet, Path: "/api/v1/cookies", Summary: "List cookies for a domain", Tags: []string{"Cookies"}},
		func(ctx context.Context, input *cookiesInput) (*cookiesOutput, error) {
			resp := s.commands.HandleMessage(ctx, protocol.Message{
				Action: protocol.ActionGetCookies,
				Domain: input.Domain,
			}, protocol.Sender{})
			if !resp.Success {
				return nil, huma.Error400BadRequest(resp.Error)
			}
			return &cookiesOutput{Body: resp}, nil
		})

	type cookieInput struct {
		Name   string `path:"name"`
		Domain string `query:"domain" doc:"Cookie domain"`
		URL    string `query:"url" doc:"Page URL; alternative to domain"`
	}
	huma.Register(api, huma.Operation{OperationID: "get-cookie", Method: http.MethodGet, Path: "/api/v1/cookies/{name}", Summary: "Read a single cookie", Tags: []string{"Cookies"}},
		func(ctx context.Context, input *cookieInput) (*cookiesOutput, error) {
			resp := s.commands.HandleMessage(ctx, protocol.Message{
				Action: protocol.ActionGetCookie,
				Name:   input.Name,
				Domain: input.Domain,
				URL:    input.URL,
			}, protocol.Sender{})
			if !resp.Success {
				return nil, huma.Error400BadRequest(resp.Error)
			}
			return &cookiesOutput{Body: resp}, nil
		})
}

func (s *Server) registerLogHandlers(api huma.API) {
	type logsOutput struct {
		Body struct {
			Entries []logstore.Entry `json:"entries"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-logs", Method: http.MethodGet, Path: "/api/v1/logs", Summary: "List retained log entries, oldest first", Tags: []string{"Logs"}},
		func(ctx context.Context, input *struct{}) (*logsOutput, error) {
			out := &logsOutput{}
			out.Body.Entries = s.logs.Entries()
			if out.Body.Entries == nil {
				out.Body.Entries = []logstore.Entry{}
			}
			return out, nil
		})
}

func (s *Server) registerSettingsHandlers(api huma.API) {
	type settingsOutput struct {
		Body settings.Values
	}
	huma.Register(api, huma.Operation{OperationID: "get-settings", Method: http.MethodGet, Path: "/api/v1/settings", Summary: "Read the settings document", Tags: []string{"Settings"}},
		func(ctx context.Context, input *struct{}) (*settingsOutput, error) {
			return &settingsOutput{Body: s.settings.Snapshot()}, nil
		})

	type settingsInput struct {
		Body settings.Values
	}
	huma.Register(api, huma.Operation{OperationID: "put-settings", Method: http.MethodPut, Path: "/api/v1/settings", Summary: "Replace the settings document", Tags: []string{"Settings"}},
		func(ctx context.Context, input *settingsInput) (*settingsOutput, error) {
			if err := s.settings.Update(func(v *settings.Values) {
				*v = input.Body
			}); err != nil {
				return nil, mapErr(err)
			}
			return &settingsOutput{Body: s.settings.Snapshot()}, nil
		})
}

func (s *Server) registerHealthHandlers(api huma.API) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
			Tabs   int    `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.Tabs = s.status.TabCount()
			return out, nil
		})
}
