// Package api exposes the policy manager over HTTP: the policy and policy
// type routes plus the per-rule journal history.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/solatis/pmengine/internal/core/journal"
	"github.com/solatis/pmengine/internal/core/manager"
	"github.com/solatis/pmengine/internal/types"
)

// HistoryReader reads the recorded transitions of a rule.
type HistoryReader interface {
	History(ctx context.Context, ruleID int) ([]journal.Event, error)
}

// Service implements the REST routes. Handlers are thin: they decode path
// and body, call the manager and render its Response.
type Service struct {
	manager      *manager.Manager
	history      HistoryReader
	maxBodyBytes int64
	logger       *zap.Logger
}

// NewService creates a Service. history may be nil when no journal is configured.
func NewService(m *manager.Manager, history HistoryReader, maxBodyBytes int64, logger *zap.Logger) (*Service, error) {
	if m == nil {
		return nil, fmt.Errorf("manager cannot be nil")
	}
	if maxBodyBytes <= 0 {
		return nil, fmt.Errorf("maxBodyBytes must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		manager:      m,
		history:      history,
		maxBodyBytes: maxBodyBytes,
		logger:       logger.With(zap.String("component", "api")),
	}, nil
}

// Routes registers every route on r.
func (s *Service) Routes(r chi.Router) {
	r.Route("/policies", func(r chi.Router) {
		r.Get("/", s.listPolicies)
		r.Post("/", s.pushPolicies)
		r.Delete("/", s.deleteAll)

		r.Get("/active", s.activePolicies)
		r.Get("/num", s.countPolicies)
		r.Get("/types", s.policyTypes)
		r.Get("/id/{id}", s.getPolicy)
		r.Get("/state/{state}", s.policiesByState)
		r.Get("/type/{type}", s.policiesByType)

		r.Get("/activate/{id}", s.activate)
		r.Delete("/deactivate/{id}", s.deactivate)

		r.Delete("/{id}", s.deletePolicy)
		r.Get("/{id}/history", s.policyHistory)
		r.Put("/{id}/priority/{priority}", s.reprioritize)
	})

	r.Route("/policytype", func(r chi.Router) {
		r.Put("/register/{type}", s.registerType)
		r.Delete("/deregister/{type}", s.deregisterType)
	})
}

func (s *Service) listPolicies(w http.ResponseWriter, r *http.Request) {
	writeRules(w, http.StatusOK, s.manager.All())
}

func (s *Service) activePolicies(w http.ResponseWriter, r *http.Request) {
	writeRules(w, http.StatusOK, s.manager.Active())
}

func (s *Service) getPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	rule, err := s.manager.Get(id)
	if err != nil {
		writeResponse(w, manager.Response{
			Code:     types.CodeFormalError,
			Messages: []string{fmt.Sprintf("No Policy with ID %d", id)},
			Err:      err,
		})
		return
	}
	writeRules(w, http.StatusOK, []types.Rule{rule})
}

func (s *Service) policiesByState(w http.ResponseWriter, r *http.Request) {
	state, err := types.ParseState(chi.URLParam(r, "state"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	writeRules(w, http.StatusOK, s.manager.ByState(state))
}

func (s *Service) policiesByType(w http.ResponseWriter, r *http.Request) {
	writeRules(w, http.StatusOK, s.manager.ByType(chi.URLParam(r, "type")))
}

func (s *Service) countPolicies(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, manager.Response{
		Code:     types.CodeSuccess,
		Success:  true,
		Messages: []string{fmt.Sprintf("The number of policies is %d", s.manager.Count())},
	})
}

func (s *Service) policyTypes(w http.ResponseWriter, r *http.Request) {
	names := s.manager.Types()
	if len(names) == 0 {
		names = []string{"No policy types available"}
	}
	writeResponse(w, manager.Response{Code: types.CodeSuccess, Success: true, Messages: names})
}

func (s *Service) pushPolicies(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		writeMessage(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}
	rs, err := decodeRuleSet(body, r.Header.Get("Content-Type"))
	if err != nil {
		s.logger.Info("rejected unparsable rule set", zap.Error(err))
		writeMessage(w, http.StatusBadRequest, parseErrorMessage)
		return
	}

	result := s.manager.Push(r.Context(), rs)
	s.logger.Info("rule set pushed",
		zap.Int("rules", len(rs.Policies)),
		zap.Int("code", int(result.Code)),
		zap.Ints("ids", result.IDs))
	writeJSON(w, statusFor(result.Response), result)
}

func (s *Service) activate(w http.ResponseWriter, r *http.Request) {
	if id, ok := pathInt(w, r, "id"); ok {
		writeResponse(w, s.manager.Activate(r.Context(), id))
	}
}

func (s *Service) deactivate(w http.ResponseWriter, r *http.Request) {
	if id, ok := pathInt(w, r, "id"); ok {
		writeResponse(w, s.manager.Deactivate(r.Context(), id))
	}
}

func (s *Service) deletePolicy(w http.ResponseWriter, r *http.Request) {
	if id, ok := pathInt(w, r, "id"); ok {
		writeResponse(w, s.manager.Delete(r.Context(), id))
	}
}

func (s *Service) deleteAll(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, s.manager.DeleteAll(r.Context()))
}

func (s *Service) reprioritize(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	priority, ok := pathInt(w, r, "priority")
	if !ok {
		return
	}
	writeResponse(w, s.manager.Reprioritize(r.Context(), id, priority))
}

func (s *Service) registerType(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, s.manager.RegisterType(r.Context(), chi.URLParam(r, "type")))
}

// deregisterType answers with the rules deleted along with the type, so the
// caller can re-home them.
func (s *Service) deregisterType(w http.ResponseWriter, r *http.Request) {
	policyType := strings.ToUpper(chi.URLParam(r, "type"))
	orphans, resp := s.manager.DeregisterType(r.Context(), policyType)
	s.logger.Info("policy type deregistered", zap.String("type", policyType), zap.Ints("orphans", resp.IDs))
	writeRules(w, statusFor(resp), orphans)
}

func (s *Service) policyHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	if s.history == nil {
		writeMessage(w, http.StatusNotFound, "No journal configured")
		return
	}
	events, err := s.history.History(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to read history", zap.Int("id", id), zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Failed to read policy history")
		return
	}
	if events == nil {
		events = []journal.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "events": events})
}

// pathInt parses a path parameter as an int, answering 400 itself when it is not one.
func pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := chi.URLParam(r, name)
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s %q", name, raw))
		return 0, false
	}
	return v, true
}
