package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"secretsanta/internal/domain"
	"secretsanta/internal/engine"
	"secretsanta/internal/engine/auth"
	"secretsanta/internal/i18n"
)

// Action names accepted by the action endpoint.
const (
	ActionLogin           = "login"
	ActionGetStatus       = "getStatus"
	ActionGetUserData     = "getUserData"
	ActionGetRecipient    = "getRecipient"
	ActionSubmitGift      = "submitGift"
	ActionGetParticipants = "getParticipants"
	ActionAddUser         = "addUser"
	ActionRunDistribution = "runDistribution"
)

type actionFunc func(ctx context.Context, req ActionRequest) (ActionResponse, error)

type actionHandler struct {
	engine  engine.Engine
	auth    auth.Authenticator
	tokens  *auth.TokenIssuer
	tr      *i18n.Translator
	log     *slog.Logger
	actions map[string]actionFunc
}

func newActionHandler(e engine.Engine, a auth.Authenticator, tokens *auth.TokenIssuer, tr *i18n.Translator, log *slog.Logger) *actionHandler {
	h := &actionHandler{engine: e, auth: a, tokens: tokens, tr: tr, log: log}
	h.actions = map[string]actionFunc{
		ActionLogin:           h.login,
		ActionGetStatus:       h.getStatus,
		ActionGetUserData:     h.getUserData,
		ActionGetRecipient:    h.getRecipient,
		ActionSubmitGift:      h.submitGift,
		ActionGetParticipants: h.getParticipants,
		ActionAddUser:         h.addUser,
		ActionRunDistribution: h.runDistribution,
	}
	return h
}

type actionOutput struct {
	Body ActionResponse
}

// dispatch runs the named action. Domain failures are part of the envelope and
// keep status 200; anything else surfaces as a 500.
func (h *actionHandler) dispatch(ctx context.Context, locale string, req ActionRequest) (*actionOutput, error) {
	locale = h.tr.Match(locale)
	fn, ok := h.actions[req.Action]
	if !ok {
		return &actionOutput{Body: ActionResponse{
			Code:    "unknown_action",
			Message: h.tr.T(locale, "unknown_action", nil),
		}}, nil
	}
	resp, err := fn(ctx, req)
	if err != nil {
		code := domain.Code(err)
		if code == "" {
			h.log.Error("action failed", "action", req.Action, "err", err)
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", h.tr.T(locale, "internal_error", nil))
		}
		h.log.Debug("action rejected", "action", req.Action, "code", code)
		return &actionOutput{Body: ActionResponse{Code: code, Message: h.tr.Error(locale, err)}}, nil
	}
	resp.Success = true
	return &actionOutput{Body: resp}, nil
}

func (h *actionHandler) issueToken(s auth.Session) (string, error) {
	if h.tokens == nil || len(h.tokens.Secret) == 0 {
		return "", nil
	}
	return h.tokens.Issue(s)
}

func (h *actionHandler) login(ctx context.Context, req ActionRequest) (ActionResponse, error) {
	s, err := resolveSession(ctx, h.auth, req.Password, req.AdminPassword)
	if err != nil {
		return ActionResponse{}, err
	}
	token, err := h.issueToken(s)
	if err != nil {
		return ActionResponse{}, err
	}
	if s.Kind == auth.Admin {
		return ActionResponse{IsAdmin: boolPtr(true), Token: token}, nil
	}
	view, err := h.engine.UserView(ctx, s.Participant.ID)
	if err != nil {
		return ActionResponse{}, err
	}
	return ActionResponse{IsAdmin: boolPtr(false), User: &view, Token: token}, nil
}

func (h *actionHandler) getStatus(ctx context.Context, _ ActionRequest) (ActionResponse, error) {
	s, err := h.engine.Status(ctx)
	if err != nil {
		return ActionResponse{}, err
	}
	return ActionResponse{Status: statusResponse(s)}, nil
}

func (h *actionHandler) getUserData(ctx context.Context, req ActionRequest) (ActionResponse, error) {
	s, err := requireUser(ctx, h.auth, req)
	if err != nil {
		return ActionResponse{}, err
	}
	view, err := h.engine.UserView(ctx, s.Participant.ID)
	if err != nil {
		return ActionResponse{}, err
	}
	return ActionResponse{User: &view}, nil
}

func (h *actionHandler) getRecipient(ctx context.Context, req ActionRequest) (ActionResponse, error) {
	s, err := requireUser(ctx, h.auth, req)
	if err != nil {
		return ActionResponse{}, err
	}
	r, err := h.engine.Recipient(ctx, s.Participant.ID)
	if err != nil {
		return ActionResponse{}, err
	}
	return ActionResponse{Recipient: &r}, nil
}

func (h *actionHandler) submitGift(ctx context.Context, req ActionRequest) (ActionResponse, error) {
	s, err := requireUser(ctx, h.auth, req)
	if err != nil {
		return ActionResponse{}, err
	}
	if err := h.engine.SubmitGift(ctx, s.Participant.ID, req.Text, req.Link, s.ActorID()); err != nil {
		return ActionResponse{}, err
	}
	return ActionResponse{}, nil
}

func (h *actionHandler) getParticipants(ctx context.Context, req ActionRequest) (ActionResponse, error) {
	if _, err := requireAdmin(ctx, h.auth, req); err != nil {
		return ActionResponse{}, err
	}
	parts, err := h.engine.Participants(ctx)
	if err != nil {
		return ActionResponse{}, err
	}
	return ActionResponse{Participants: mapCredentials(parts)}, nil
}

func (h *actionHandler) addUser(ctx context.Context, req ActionRequest) (ActionResponse, error) {
	s, err := requireAdmin(ctx, h.auth, req)
	if err != nil {
		return ActionResponse{}, err
	}
	password := req.Password
	if req.AdminPassword == "" && bearerFromContext(ctx) == "" {
		// password carried the admin credential, not the new participant's
		password = ""
	}
	p, err := h.engine.AddParticipant(ctx, engine.AddParticipantOptions{Name: req.Name, Password: password, ActorID: s.ActorID()})
	if err != nil {
		return ActionResponse{}, err
	}
	return ActionResponse{Password: p.Password}, nil
}

func (h *actionHandler) runDistribution(ctx context.Context, req ActionRequest) (ActionResponse, error) {
	s, err := requireAdmin(ctx, h.auth, req)
	if err != nil {
		return ActionResponse{}, err
	}
	if _, err := h.engine.RunDistribution(ctx, s.ActorID()); err != nil {
		return ActionResponse{}, err
	}
	status, err := h.engine.Status(ctx)
	if err != nil {
		return ActionResponse{}, err
	}
	return ActionResponse{Status: statusResponse(status)}, nil
}

func registerActions(api huma.API, h *actionHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "post-action",
		Method:      http.MethodPost,
		Path:        "/action",
		Summary:     "Run an action",
		Description: "Single action endpoint. Domain failures return 200 with success=false and a stable code.",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		AcceptLanguage string `header:"Accept-Language"`
		Body           ActionRequest
	}) (*actionOutput, error) {
		return h.dispatch(ctx, input.AcceptLanguage, input.Body)
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-action",
		Method:      http.MethodGet,
		Path:        "/action",
		Summary:     "Run an action (query string form)",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		AcceptLanguage string `header:"Accept-Language"`
		Action         string `query:"action"`
		Password       string `query:"password"`
		AdminPassword  string `query:"adminPassword"`
		Name           string `query:"name"`
		Text           string `query:"text"`
		Link           string `query:"link"`
	}) (*actionOutput, error) {
		return h.dispatch(ctx, input.AcceptLanguage, ActionRequest{
			Action:        input.Action,
			Password:      input.Password,
			AdminPassword: input.AdminPassword,
			Name:          input.Name,
			Text:          input.Text,
			Link:          input.Link,
		})
	})
}
