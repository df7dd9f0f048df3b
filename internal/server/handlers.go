package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clockguard/clockguard/internal/errs"
	"github.com/clockguard/clockguard/internal/model"
)

type authTokenRequest struct {
	Secret string `json:"secret"`
}

func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req authTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}
	if !s.secretMatches(req.Secret) {
		writeJSON(w, http.StatusUnauthorized, errorResponse("invalid pairing secret"))
		return
	}
	token, err := MintToken(s.secret, time.Now())
	if err != nil {
		s.logger.Error("mint control token", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type loginRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("authorization code is required"))
		return
	}
	session, err := s.sessions.Login(r.Context(), req.Code)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"user_id": session.CurrentUserID})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(r.Context()); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.cd.Clear()
	s.hub.OffTheClock()
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	LoggedIn  bool            `json:"logged_in"`
	Clock     clockState      `json:"clock"`
	Countdown countdownStatus `json:"countdown"`
}

type countdownStatus struct {
	Ticking   bool   `json:"ticking"`
	Remaining *int64 `json:"remaining_seconds"`
	JobcodeID int64  `json:"jobcode_id,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	_, err := s.store.LoadSession(r.Context())
	loggedIn := err == nil
	if err != nil && !errors.Is(err, errs.ErrNoSession) {
		s.writeServiceError(w, err)
		return
	}
	cd := s.cd.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		LoggedIn: loggedIn,
		Clock:    s.hub.snapshot(),
		Countdown: countdownStatus{
			Ticking:   cd.Ticking,
			Remaining: cd.Remaining,
			JobcodeID: cd.JobcodeID,
		},
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.recon.Run(r.Context()); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type jobcodeResponse struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	ParentID         int64  `json:"parent_id"`
	ParentPathName   string `json:"parent_path_name"`
	HasChildren      bool   `json:"has_children"`
	SecondsCompleted int64  `json:"seconds_completed"`
	SecondsAssigned  *int64 `json:"seconds_assigned"`
	IsFavourite      bool   `json:"is_favourite"`
}

func (s *Server) handleListJobcodes(w http.ResponseWriter, r *http.Request) {
	profile, err := s.currentProfile(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]jobcodeResponse, 0, len(profile.Jobcodes))
	for _, jc := range profile.Jobcodes {
		out = append(out, jobcodeResponse{
			ID:               jc.ID,
			Name:             jc.Name,
			ParentID:         jc.ParentID,
			ParentPathName:   jc.ParentPathName,
			HasChildren:      jc.HasChildren,
			SecondsCompleted: jc.SecondsCompleted,
			SecondsAssigned:  jc.SecondsAssigned,
			IsFavourite:      jc.IsFavourite,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ParentPathName != out[j].ParentPathName {
			return out[i].ParentPathName < out[j].ParentPathName
		}
		return out[i].Name < out[j].Name
	})
	writeJSON(w, http.StatusOK, out)
}

type budgetRequest struct {
	Seconds *int64 `json:"seconds"`
}

func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	jobcodeID, ok := pathInt64(w, r, "jobcode_id")
	if !ok {
		return
	}
	var req budgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}
	if req.Seconds != nil && *req.Seconds < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("seconds must not be negative"))
		return
	}
	userID, err := s.currentUserID(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if err := s.alerts.SetBudget(r.Context(), userID, jobcodeID, req.Seconds); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type favouriteRequest struct {
	Favourite bool `json:"favourite"`
}

func (s *Server) handleSetFavourite(w http.ResponseWriter, r *http.Request) {
	jobcodeID, ok := pathInt64(w, r, "jobcode_id")
	if !ok {
		return
	}
	var req favouriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}
	userID, err := s.currentUserID(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if err := s.alerts.SetFavourite(r.Context(), userID, jobcodeID, req.Favourite); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type themeRequest struct {
	Theme string `json:"theme"`
}

func (s *Server) handleSetTheme(w http.ResponseWriter, r *http.Request) {
	var req themeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Theme == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("theme is required"))
		return
	}
	userID, err := s.currentUserID(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if err := s.alerts.SetTheme(r.Context(), userID, req.Theme); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	userID, err := s.currentUserID(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	rules, err := s.alerts.List(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if rules == nil {
		rules = []model.AlertRule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleAddAlert(w http.ResponseWriter, r *http.Request) {
	var rule model.AlertRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}
	userID, err := s.currentUserID(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	created, err := s.alerts.Add(r.Context(), userID, rule)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "rule_id")
	userID, err := s.currentUserID(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if err := s.alerts.Remove(r.Context(), userID, ruleID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type uploadSoundRequest struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

func (s *Server) handleUploadSound(w http.ResponseWriter, r *http.Request) {
	var req uploadSoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("data must be base64 encoded"))
		return
	}
	id, err := s.alerts.AddCustomSound(r.Context(), req.Name, data)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) currentUserID(r *http.Request) (int64, error) {
	session, err := s.store.LoadSession(r.Context())
	if err != nil {
		return 0, err
	}
	return session.CurrentUserID, nil
}

func (s *Server) currentProfile(r *http.Request) (*model.UserProfile, error) {
	userID, err := s.currentUserID(r)
	if err != nil {
		return nil, err
	}
	profiles, err := s.store.LoadProfiles(r.Context())
	if err != nil {
		return nil, err
	}
	profile, ok := profiles[userID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return profile, nil
}

func pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid "+name))
		return 0, false
	}
	return v, true
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, errs.ErrNoSession):
		writeJSON(w, http.StatusUnauthorized, errorResponse("not logged in"))
	case errors.Is(err, errs.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorResponse("session rejected by remote"))
	case errors.Is(err, errs.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse("not found"))
	case errors.Is(err, errs.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse("conflicting alert already exists"))
	case errors.Is(err, errs.ErrRemoteUnavailable):
		writeJSON(w, http.StatusBadGateway, errorResponse("remote service unavailable"))
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal error"))
	}
}
