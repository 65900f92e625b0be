// Package server exposes the control tower over HTTP: session login,
// persona-scoped order views, ticket and escalation mutations, and the
// audit log, with webhook fan-out for external listeners.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"controltower/internal/derive"
	"controltower/internal/domain"
	"controltower/internal/engine"
	"controltower/internal/refdata"
	"controltower/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid ticket status transition Open -> In Progress"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns the HTTP handler and starts the webhook dispatcher when
// webhooks are configured.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine))
	hcfg := huma.DefaultConfig("Control Tower API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerAuth(group, cfg.Engine, cfg.Auth)
	registerOrders(group, cfg.Engine)
	registerInbox(group, cfg.Engine)
	registerSummary(group, cfg.Engine)
	registerTickets(group, cfg.Engine)
	registerEscalations(group, cfg.Engine)
	registerEvents(group, cfg.Engine)

	startWebhookDispatcher(cfg.Engine)
	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body:   apiErrorBody{Code: code, Message: message, Details: details},
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "invalid_transition"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// handleError maps the engine's error taxonomy onto HTTP statuses.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_error", err.Error(), map[string]any{"field": ve.Field})
	}
	var ae *engine.AuthenticationError
	if errors.As(err, &ae) {
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", err.Error(), nil)
	}
	var fe *engine.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	var nfe *domain.NotFoundError
	if errors.As(err, &nfe) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"kind": nfe.Kind})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var ite *engine.InvalidTransitionError
	if errors.As(err, &ite) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"from": string(ite.From), "to": string(ite.To),
		})
	}
	var dse *refdata.DataSourceError
	if errors.As(err, &dse) {
		return newAPIError(http.StatusInternalServerError, "data_source_error", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerAuth(api huma.API, e engine.Engine, auth AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Authenticate and open a session",
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		s, err := e.Authenticate(ctx, input.Body.LoginID, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		resp := LoginResponse{
			Token:     s.Token,
			LoginID:   s.LoginID,
			POCName:   s.POCName,
			Persona:   string(s.Persona),
			OrderID:   s.OrderID,
			ExpiresAt: s.ExpiresAt,
		}
		if auth.JWTSecret != "" {
			signed, err := issueJWT(auth.JWTSecret, s)
			if err != nil {
				return nil, handleError(err)
			}
			resp.JWT = signed
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "logout",
		Method:      http.MethodPost,
		Path:        "/auth/logout",
		Summary:     "Close the current session",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		s, authErr := requireSession(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if s.Token != "" {
			if err := e.Logout(ctx, s.Token); err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "logged out"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current session",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Session `json:"body"`
	}, error) {
		s, authErr := requireSession(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s.Token = ""
		return &struct {
			Body domain.Session `json:"body"`
		}{Body: s}, nil
	})
}

// visibleOrders applies persona scoping: customers only see their own
// order, everyone else sees the whole portfolio.
func visibleOrders(e engine.Engine, s domain.Session) []domain.Order {
	if s.Persona == domain.PersonaCustomer {
		if o, ok := e.Ref.Order(s.OrderID); ok {
			return []domain.Order{o}
		}
		return nil
	}
	return e.Ref.Orders()
}

func ensureOrderVisible(s domain.Session, orderID string) huma.StatusError {
	if s.Persona == domain.PersonaCustomer && s.OrderID != orderID {
		return newAPIError(http.StatusForbidden, "forbidden", "order not visible to this session", nil)
	}
	return nil
}

func registerOrders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-orders",
		Method:      http.MethodGet,
		Path:        "/orders",
		Summary:     "List orders with derived health",
	}, func(ctx context.Context, input *struct {
		Lifecycle []string `query:"lifecycle"`
		RAG       []string `query:"rag"`
		OrderType []string `query:"order_type"`
		SLABreach string   `query:"sla_breach" enum:"true,false"`
	}) (*struct {
		Body []OrderView `json:"body"`
	}, error) {
		s, authErr := requireSession(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f := derive.OrderFilter{OrderTypes: input.OrderType}
		for _, v := range input.Lifecycle {
			f.Lifecycles = append(f.Lifecycles, domain.Stage(v))
		}
		for _, v := range input.RAG {
			f.RAGs = append(f.RAGs, domain.RAG(v))
		}
		if input.SLABreach != "" {
			f.SLABreach = []bool{input.SLABreach == "true"}
		}
		orders := derive.FilterOrders(visibleOrders(e, s), f)
		return &struct {
			Body []OrderView `json:"body"`
		}{Body: toOrderViews(orders, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-order-tasks",
		Method:      http.MethodGet,
		Path:        "/orders/{order_id}/tasks",
		Summary:     "Tasks for an order with ageing and hold decode",
	}, func(ctx context.Context, input *struct {
		OrderID string `path:"order_id"`
	}) (*struct {
		Body []TaskView `json:"body"`
	}, error) {
		s, authErr := requireSession(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := ensureOrderVisible(s, input.OrderID); err != nil {
			return nil, err
		}
		if _, ok := e.Ref.Order(input.OrderID); !ok {
			return nil, handleError(&domain.NotFoundError{Kind: "order", ID: input.OrderID})
		}
		return &struct {
			Body []TaskView `json:"body"`
		}{Body: toTaskViews(e.Ref, e.Ref.TasksForOrder(input.OrderID), e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-order",
		Method:      http.MethodGet,
		Path:        "/orders/{order_id}",
		Summary:     "Order deep dive",
	}, func(ctx context.Context, input *struct {
		OrderID string `path:"order_id"`
	}) (*struct {
		Body OrderDetail `json:"body"`
	}, error) {
		s, authErr := requireSession(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := ensureOrderVisible(s, input.OrderID); err != nil {
			return nil, err
		}
		o, ok := e.Ref.Order(input.OrderID)
		if !ok {
			return nil, handleError(&domain.NotFoundError{Kind: "order", ID: input.OrderID})
		}
		now := e.Now()
		tickets, err := e.TicketsForOrder(ctx, o.ID)
		if err != nil {
			return nil, handleError(err)
		}
		escalations, err := e.EscalationsForOrder(ctx, o.ID)
		if err != nil {
			return nil, handleError(err)
		}
		detail := OrderDetail{
			OrderView:   toOrderView(o, now),
			Tasks:       toTaskViews(e.Ref, e.Ref.TasksForOrder(o.ID), now),
			Timeline:    derive.MilestoneTimeline(o.Lifecycle),
			Tickets:     tickets,
			Escalations: escalations,
		}
		return &struct {
			Body OrderDetail `json:"body"`
		}{Body: detail}, nil
	})
}

func registerInbox(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "inbox",
		Method:      http.MethodGet,
		Path:        "/inbox",
		Summary:     "My active tasks and assigned tickets",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body InboxResponse `json:"body"`
	}, error) {
		s, authErr := requireSession(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks := derive.MyActiveTasks(e.Ref.Tasks(), s.LoginID)
		tickets, err := e.TicketsForAssignee(ctx, s.LoginID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InboxResponse `json:"body"`
		}{Body: InboxResponse{
			Assignee: s.LoginID,
			Tasks:    toTaskViews(e.Ref, tasks, e.Now()),
			Tickets:  tickets,
		}}, nil
	})
}

func registerSummary(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "summary",
		Method:      http.MethodGet,
		Path:        "/summary",
		Summary:     "Portfolio rollup and hold statistics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SummaryResponse `json:"body"`
	}, error) {
		s, authErr := requireSession(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if s.Persona == domain.PersonaCustomer {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "summary is not available to customers", nil)
		}
		return &struct {
			Body SummaryResponse `json:"body"`
		}{Body: SummaryResponse{
			PortfolioSummary: derive.Summarize(e.Ref, e.Now()),
			Holds:            derive.HoldStats(e.Ref),
		}}, nil
	})
}

func registerTickets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-ticket",
		Method:        http.MethodPost,
		Path:          "/tickets",
		Summary:       "Raise a support ticket",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body SubmitTicketRequest `json:"body"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		s, authErr := requireSession(ctx)
		if authErr != nil {
			return nil, authErr
		}
		orderID := input.Body.OrderID
		if s.Persona == domain.PersonaCustomer {
			// Customers always raise against their own order.
			orderID = s.OrderID
		}
		t, err := e.SubmitTicket(ctx, engine.SubmitTicketOptions{
			OrderID:     orderID,
			Customer:    s.POCName,
			Category:    domain.TicketCategory(input.Body.Category),
			Description: input.Body.Description,
			ActorID:     s.LoginID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tickets",
		Method:      http.MethodGet,
		Path:        "/tickets",
		Summary:     "List tickets",
	}, func(ctx context.Context, input *struct {
		Scope   string `query:"scope" enum:"all,mine,team" default:"all"`
		OrderID string `query:"order_id"`
		Status  string `query:"status"`
	}) (*struct {
		Body []domain.Ticket `json:"body"`
	}, error) {
		s, authErr := requireSession(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var tickets []domain.Ticket
		var err error
		switch {
		case s.Persona == domain.PersonaCustomer:
			tickets, err = e.TicketsForOrder(ctx, s.OrderID)
		case input.Scope == "mine":
			tickets, err = e.TicketsForAssignee(ctx, s.LoginID)
		case input.Scope == "team":
			tickets, err = e.TeamTickets(ctx, s.LoginID)
		default:
			tickets, err = e.ListTickets(ctx, repo.TicketFilters{OrderID: input.OrderID, Status: domain.TicketStatus(input.Status)})
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Ticket `json:"body"`
		}{Body: tickets}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-ticket",
		Method:      http.MethodGet,
		Path:        "/tickets/{ticket_id}",
		Summary:     "Get one ticket",
	}, func(ctx context.Context, input *struct {
		TicketID string `path:"ticket_id"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		s, authErr := requireSession(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTicket(ctx, input.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := ensureOrderVisible(s, t.OrderID); err != nil {
			return nil, err
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	transition := func(opID, pathSuffix, summary string, op func(context.Context, string, string) (domain.Ticket, error)) {
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        "/tickets/{ticket_id}/" + pathSuffix,
			Summary:     summary,
		}, func(ctx context.Context, input *struct {
			TicketID string `path:"ticket_id"`
		}) (*struct {
			Body domain.Ticket `json:"body"`
		}, error) {
			s, authErr := requireSession(ctx)
			if authErr != nil {
				return nil, authErr
			}
			if s.Persona == domain.PersonaCustomer || s.Persona == domain.PersonaLeadership {
				return nil, newAPIError(http.StatusForbidden, "forbidden", "ticket transitions are an operations action", nil)
			}
			t, err := op(ctx, input.TicketID, s.LoginID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.Ticket `json:"body"`
			}{Body: t}, nil
		})
	}
	transition("acknowledge-ticket", "acknowledge", "Acknowledge an open ticket", e.AcknowledgeTicket)
	transition("start-ticket", "start", "Start work on a ticket", e.StartTicketWork)
	transition("resolve-ticket", "resolve", "Resolve a ticket", e.ResolveTicket)

	huma.Register(api, huma.Operation{
		OperationID: "reassign-ticket",
		Method:      http.MethodPost,
		Path:        "/tickets/{ticket_id}/reassign",
		Summary:     "Reassign a ticket to another engineer",
	}, func(ctx context.Context, input *struct {
		TicketID string                `path:"ticket_id"`
		Body     ReassignTicketRequest `json:"body"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		s, authErr := requireSession(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ReassignTicket(ctx, input.TicketID, input.Body.Assignee, s.LoginID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})
}

func registerEscalations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "trigger-escalation",
		Method:        http.MethodPost,
		Path:          "/escalations",
		Summary:       "Escalate an at-risk order task",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body TriggerEscalationRequest `json:"body"`
	}) (*struct {
		Body domain.Escalation `json:"body"`
	}, error) {
		s, authErr := requireSession(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if s.Persona != domain.PersonaProgramManager {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "only program managers escalate", nil)
		}
		esc, err := e.TriggerEscalation(ctx, input.Body.OrderID, input.Body.TaskID,
			domain.EscalationTarget(input.Body.Target), input.Body.Reason, s.LoginID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Escalation `json:"body"`
		}{Body: esc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-escalations",
		Method:      http.MethodGet,
		Path:        "/escalations",
		Summary:     "List escalations",
	}, func(ctx context.Context, input *struct {
		OrderID string `query:"order_id"`
	}) (*struct {
		Body []domain.Escalation `json:"body"`
	}, error) {
		s, authErr := requireSession(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if s.Persona == domain.PersonaCustomer {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "escalations are internal", nil)
		}
		var escs []domain.Escalation
		var err error
		if input.OrderID != "" {
			escs, err = e.EscalationsForOrder(ctx, input.OrderID)
		} else {
			escs, err = e.ListEscalations(ctx)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Escalation `json:"body"`
		}{Body: escs}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "tail-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the audit log",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		s, authErr := requireSession(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if s.Persona == domain.PersonaCustomer {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "audit log is internal", nil)
		}
		events, err := e.Repo.TailEvents(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: events}, nil
	})
}
