package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"puzzlepass/internal/domain"
	"puzzlepass/internal/domain/model"
	"puzzlepass/internal/infra/logging"
	"puzzlepass/internal/infra/metrics"
	"puzzlepass/internal/usecase"
)

const maxCallableBody = 64 << 10

// CheckoutService is the checkout surface exposed to clients.
type CheckoutService interface {
	Create(ctx context.Context, caller usecase.Caller, req usecase.CreateCheckoutRequest) (*usecase.CreateCheckoutResult, error)
	Verify(ctx context.Context, caller usecase.Caller, sessionID string) (*usecase.VerifyResult, error)
}

// EpisodeService is the gameplay surface exposed to clients.
type EpisodeService interface {
	Start(ctx context.Context, userID, episodeID string) (*usecase.EpisodeState, error)
	Submit(ctx context.Context, userID, episodeID, sceneID string, action model.Action) (*usecase.SubmitResult, error)
	Restart(ctx context.Context, userID, episodeID string) (*usecase.EpisodeState, error)
}

type episodeRequest struct {
	EpisodeID string `json:"episodeId" validate:"required"`
}

type submitActionRequest struct {
	EpisodeID string       `json:"episodeId" validate:"required"`
	SceneID   string       `json:"sceneId" validate:"required"`
	Action    model.Action `json:"action"`
}

type createCheckoutRequest struct {
	EpisodeID  string `json:"episodeId" validate:"required"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

type verifyCheckoutRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
}

// handlerFunc runs one callable with its decoded arguments.
type handlerFunc func(ctx context.Context, caller usecase.Caller, data json.RawMessage) (any, error)

type callable struct {
	handle   handlerFunc
	appCheck bool
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode unmarshals data into dst and validates it, reporting the first
// failing field as invalid-argument.
func decode(data json.RawMessage, dst any) error {
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return domain.NewError(domain.CodeInvalidArgument, "Bad Request")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Tag() == "required" {
				return domain.Errorf(domain.CodeInvalidArgument, "Missing %s.", fe.Field())
			}
			return domain.Errorf(domain.CodeInvalidArgument, "Invalid %s.", fe.Field())
		}
		return domain.NewError(domain.CodeInvalidArgument, "Bad Request")
	}
	return nil
}

func (s *Server) callables() map[string]callable {
	return map[string]callable{
		"startEpisode": {handle: func(ctx context.Context, c usecase.Caller, data json.RawMessage) (any, error) {
			var req episodeRequest
			if err := decode(data, &req); err != nil {
				return nil, err
			}
			return s.episodes.Start(ctx, c.UserID, req.EpisodeID)
		}},
		"submitAction": {handle: func(ctx context.Context, c usecase.Caller, data json.RawMessage) (any, error) {
			var req submitActionRequest
			if err := decode(data, &req); err != nil {
				return nil, err
			}
			return s.episodes.Submit(ctx, c.UserID, req.EpisodeID, req.SceneID, req.Action)
		}},
		"restartEpisode": {handle: func(ctx context.Context, c usecase.Caller, data json.RawMessage) (any, error) {
			var req episodeRequest
			if err := decode(data, &req); err != nil {
				return nil, err
			}
			return s.episodes.Restart(ctx, c.UserID, req.EpisodeID)
		}},
		"createCheckoutSession": {appCheck: true, handle: func(ctx context.Context, c usecase.Caller, data json.RawMessage) (any, error) {
			var req createCheckoutRequest
			if err := decode(data, &req); err != nil {
				return nil, err
			}
			return s.checkout.Create(ctx, c, usecase.CreateCheckoutRequest{
				ItemID:     req.EpisodeID,
				SuccessURL: req.SuccessURL,
				CancelURL:  req.CancelURL,
			})
		}},
		"verifyCheckoutSession": {appCheck: true, handle: func(ctx context.Context, c usecase.Caller, data json.RawMessage) (any, error) {
			var req verifyCheckoutRequest
			if err := decode(data, &req); err != nil {
				return nil, err
			}
			return s.checkout.Verify(ctx, c, req.SessionID)
		}},
	}
}

// handleCallable serves POST /v1/{name} with a {"data": ...} body and a
// {"result": ...} or {"error": ...} response.
func (s *Server) handleCallable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ctx := r.Context()
	l := logging.With(ctx, s.log).With().Str("function", name).Logger()

	fn, ok := s.functions[name]
	if !ok {
		writeError(w, domain.Errorf(domain.CodeNotFound, "Function %s not found.", name))
		return
	}
	fail := func(err error) {
		code := domain.CodeOf(err)
		metrics.IncCallable(name, string(code))
		if code == domain.CodeInternal {
			l.Error().Err(err).Msg("callable failed")
		} else {
			l.Info().Str("code", string(code)).Str("reason", domain.MessageOf(err)).Msg("callable rejected")
		}
		writeError(w, err)
	}

	caller, ok := CallerFrom(ctx)
	if !ok {
		fail(domain.NewError(domain.CodeUnauthenticated, "Sign in required."))
		return
	}
	if fn.appCheck && s.appCheck != nil {
		if err := s.appCheck.Verify(r.Header.Get(appCheckHeader)); err != nil {
			fail(domain.NewError(domain.CodeUnauthenticated, "App Check verification failed."))
			return
		}
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallableBody))
	if err != nil {
		fail(domain.NewError(domain.CodeInvalidArgument, "Bad Request"))
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &env); err != nil {
			fail(domain.NewError(domain.CodeInvalidArgument, "Bad Request"))
			return
		}
	}

	res, err := fn.handle(ctx, caller, env.Data)
	if err != nil {
		fail(err)
		return
	}
	metrics.IncCallable(name, "ok")
	writeJSON(w, http.StatusOK, map[string]any{"result": res})
}
