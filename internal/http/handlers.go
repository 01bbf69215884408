package http

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"hostingspace/app/internal/auth"
	"hostingspace/app/internal/db"
	"hostingspace/app/internal/sites"
	"hostingspace/app/internal/templates"
)

const (
	htmlContentType      = "text/html; charset=utf-8"
	errorFallbackMessage = "We couldn't process your request right now."
	siteNotFoundMessage  = "No site is published at this address."
)

type htmlResponse struct {
	Status      int
	ContentType string `header:"Content-Type"`
	Body        []byte
}

type routeInput struct {
	RouteName string `path:"routeName" maxLength:"255"`
}

type availabilityOutput struct {
	Body struct {
		Status string `json:"status" enum:"available,taken,invalid"`
	}
}

type createSiteInput struct {
	Body struct {
		Name      string `json:"name,omitempty"`
		RouteName string `json:"routeName,omitempty"`
		BuildType string `json:"buildType,omitempty"`
		Prompt    string `json:"prompt,omitempty"`
	}
}

type siteOutput struct {
	Status int
	Body   struct {
		Site *sites.Site `json:"site"`
	}
}

type siteListOutput struct {
	Body struct {
		Sites []sites.Site `json:"sites"`
	}
}

type updateCodeInput struct {
	RouteName string `path:"routeName"`
	Body      struct {
		Code string `json:"code,omitempty"`
	}
}

type editInput struct {
	RouteName string `path:"routeName"`
	Body      struct {
		Instruction string `json:"instruction,omitempty"`
	}
}

type editOutput struct {
	Body struct {
		HTML string `json:"html"`
	}
}

type aiSettingsInput struct {
	Body struct {
		Provider string `json:"provider,omitempty"`
		APIKey   string `json:"apiKey,omitempty"`
	}
}

type aiSettingsOutput struct {
	Body sites.AISettings
}

type healthResponse struct {
	Status int
	Body   struct {
		Status   string `json:"status"`
		Database string `json:"database"`
		Store    string `json:"store"`
	}
}

func (s *Server) registerHealthRoute() {
	huma.Get(s.api, "/healthz", s.healthHandler, func(op *huma.Operation) {
		op.Summary = "Health check"
	})
}

func (s *Server) registerAvailabilityRoute() {
	huma.Get(s.api, "/api/routes/{routeName}/availability", s.availabilityHandler, authenticated("Check route availability"))
}

func (s *Server) registerSiteRoutes() {
	huma.Get(s.api, "/api/sites", s.listSitesHandler, authenticated("List sites"))
	huma.Post(s.api, "/api/sites", s.createSiteHandler, authenticated("Create site"), withDefaultStatus(stdhttp.StatusCreated))
	huma.Delete(s.api, "/api/sites/{routeName}", s.deleteSiteHandler, authenticated("Delete site"), withDefaultStatus(stdhttp.StatusNoContent))
	huma.Put(s.api, "/api/sites/{routeName}/code", s.updateCodeHandler, authenticated("Update site code"), withDefaultStatus(stdhttp.StatusNoContent))
	huma.Post(s.api, "/api/sites/{routeName}/edit", s.editHandler, authenticated("Edit site with AI"))
}

func (s *Server) registerSettingsRoutes() {
	huma.Get(s.api, "/api/settings/ai", s.getSettingsHandler, authenticated("Get AI provider settings"))
	huma.Put(s.api, "/api/settings/ai", s.putSettingsHandler, authenticated("Save AI provider settings"))
	huma.Delete(s.api, "/api/settings/ai", s.deleteSettingsHandler, authenticated("Remove AI provider settings"), withDefaultStatus(stdhttp.StatusNoContent))
}

func (s *Server) registerPublicSiteRoute() {
	huma.Get(s.api, "/{routeName}", s.publicSiteHandler, htmlOperation(
		"Serve published site",
		stdhttp.StatusNotFound,
		stdhttp.StatusInternalServerError,
	))
}

func (s *Server) availabilityHandler(ctx context.Context, input *routeInput) (*availabilityOutput, error) {
	availability, err := s.sites.CheckRoute(ctx, input.RouteName)
	if err != nil {
		return nil, s.apiError(ctx, err, "checking route availability", logrus.Fields{"route_name": input.RouteName})
	}

	out := &availabilityOutput{}
	out.Body.Status = string(availability)
	return out, nil
}

func (s *Server) listSitesHandler(ctx context.Context, _ *struct{}) (*siteListOutput, error) {
	identity, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}

	list, err := s.sites.ListSites(ctx, identity.AuthID)
	if err != nil {
		return nil, s.apiError(ctx, err, "listing sites", nil)
	}

	out := &siteListOutput{}
	out.Body.Sites = list
	if out.Body.Sites == nil {
		out.Body.Sites = []sites.Site{}
	}
	return out, nil
}

func (s *Server) createSiteHandler(ctx context.Context, input *createSiteInput) (*siteOutput, error) {
	identity, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}

	site, err := s.sites.CreateSite(ctx, identity.AuthID, sites.CreateSiteInput{
		Name:      input.Body.Name,
		RouteName: input.Body.RouteName,
		BuildType: input.Body.BuildType,
		Prompt:    input.Body.Prompt,
	})
	if err != nil {
		return nil, s.apiError(ctx, err, "creating site", logrus.Fields{"route_name": input.Body.RouteName})
	}

	out := &siteOutput{Status: stdhttp.StatusCreated}
	out.Body.Site = site
	return out, nil
}

func (s *Server) deleteSiteHandler(ctx context.Context, input *routeInput) (*struct{}, error) {
	identity, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.sites.DeleteSite(ctx, identity.AuthID, input.RouteName); err != nil {
		return nil, s.apiError(ctx, err, "deleting site", logrus.Fields{"route_name": input.RouteName})
	}
	return nil, nil
}

func (s *Server) updateCodeHandler(ctx context.Context, input *updateCodeInput) (*struct{}, error) {
	identity, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.sites.UpdateCode(ctx, identity.AuthID, input.RouteName, input.Body.Code); err != nil {
		return nil, s.apiError(ctx, err, "updating site code", logrus.Fields{"route_name": input.RouteName})
	}
	return nil, nil
}

func (s *Server) editHandler(ctx context.Context, input *editInput) (*editOutput, error) {
	identity, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}

	html, err := s.sites.EditWithAI(ctx, identity.AuthID, input.RouteName, input.Body.Instruction)
	if err != nil {
		return nil, s.apiError(ctx, err, "editing site with ai", logrus.Fields{"route_name": input.RouteName})
	}

	out := &editOutput{}
	out.Body.HTML = html
	return out, nil
}

func (s *Server) getSettingsHandler(ctx context.Context, _ *struct{}) (*aiSettingsOutput, error) {
	identity, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}

	settings, err := s.sites.AISettings(ctx, identity.AuthID)
	if err != nil {
		return nil, s.apiError(ctx, err, "reading ai settings", nil)
	}
	return &aiSettingsOutput{Body: settings}, nil
}

func (s *Server) putSettingsHandler(ctx context.Context, input *aiSettingsInput) (*aiSettingsOutput, error) {
	identity, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}

	settings, err := s.sites.SetAISettings(ctx, identity.AuthID, input.Body.Provider, input.Body.APIKey)
	if err != nil {
		return nil, s.apiError(ctx, err, "saving ai settings", nil)
	}
	return &aiSettingsOutput{Body: settings}, nil
}

func (s *Server) deleteSettingsHandler(ctx context.Context, _ *struct{}) (*struct{}, error) {
	identity, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.sites.RemoveAISettings(ctx, identity.AuthID); err != nil {
		return nil, s.apiError(ctx, err, "removing ai settings", nil)
	}
	return nil, nil
}

func (s *Server) publicSiteHandler(ctx context.Context, input *routeInput) (*htmlResponse, error) {
	html, err := s.sites.PublishedHTML(ctx, input.RouteName)
	if err != nil {
		status, _ := classifyError(err)
		if status == stdhttp.StatusNotFound {
			return s.renderErrorResponse(ctx, stdhttp.StatusNotFound, siteNotFoundMessage)
		}
		s.recordError(ctx, err, "serving published site", logrus.Fields{"route_name": input.RouteName})
		return s.renderErrorResponse(ctx, stdhttp.StatusInternalServerError, errorFallbackMessage)
	}

	body, err := templates.Render(ctx, templates.PublishedSite(html))
	if err != nil {
		s.recordError(ctx, err, "writing published site", logrus.Fields{"route_name": input.RouteName})
		return s.renderErrorResponse(ctx, stdhttp.StatusInternalServerError, errorFallbackMessage)
	}

	return newHTMLResponse(stdhttp.StatusOK, body), nil
}

func (s *Server) healthHandler(ctx context.Context, _ *struct{}) (*healthResponse, error) {
	resp := &healthResponse{}
	resp.Body.Status = "ok"
	resp.Body.Database = "ok"
	resp.Body.Store = "ok"

	sqlDB, err := db.SQLDB(s.db)
	if err != nil {
		s.recordError(ctx, err, "obtaining sql db", nil)
		resp.Body.Status = "degraded"
		resp.Body.Database = "error"
		resp.Status = stdhttp.StatusServiceUnavailable
	} else if pingErr := sqlDB.PingContext(ctx); pingErr != nil {
		s.recordError(ctx, pingErr, "pinging database", nil)
		resp.Body.Status = "degraded"
		resp.Body.Database = "error"
		resp.Status = stdhttp.StatusServiceUnavailable
	}

	if s.store == nil {
		resp.Body.Store = "unconfigured"
	} else if err := s.store.Connect(ctx); err != nil {
		s.recordError(ctx, err, "pinging site store", nil)
		resp.Body.Status = "degraded"
		resp.Body.Store = "error"
		resp.Status = stdhttp.StatusServiceUnavailable
	}

	if resp.Status == 0 {
		resp.Status = stdhttp.StatusOK
	}

	return resp, nil
}

func (s *Server) identity(ctx context.Context) (auth.Identity, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return auth.Identity{}, huma.Error401Unauthorized("Unauthorized")
	}
	return identity, nil
}

func newHTMLResponse(status int, body []byte) *htmlResponse {
	return &htmlResponse{
		Status:      status,
		ContentType: htmlContentType,
		Body:        body,
	}
}

func authenticated(summary string) func(op *huma.Operation) {
	return func(op *huma.Operation) {
		op.Summary = summary
		op.Security = []map[string][]string{{bearerScheme: {}}}
	}
}

func withDefaultStatus(status int) func(op *huma.Operation) {
	return func(op *huma.Operation) {
		op.DefaultStatus = status
	}
}

func htmlOperation(summary string, statuses ...int) func(op *huma.Operation) {
	return func(op *huma.Operation) {
		if summary != "" {
			op.Summary = summary
		}
		if op.Responses == nil {
			op.Responses = map[string]*huma.Response{}
		}

		statusCodes := append([]int{stdhttp.StatusOK}, statuses...)
		for _, status := range statusCodes {
			code := strconv.Itoa(status)
			op.Responses[code] = &huma.Response{
				Description: stdhttp.StatusText(status),
				Content: map[string]*huma.MediaType{
					htmlContentType: {
						Schema: &huma.Schema{Type: "string"},
					},
				},
			}
		}
	}
}

func (s *Server) renderErrorResponse(ctx context.Context, status int, message string) (*htmlResponse, error) {
	label := fmt.Sprintf("%d | %s", status, stdhttp.StatusText(status))
	body, err := templates.Render(ctx, templates.ErrorPage(templates.ErrorPageData{
		StatusLabel: label,
		Message:     message,
	}))
	if err != nil {
		s.recordError(ctx, err, "rendering error page", logrus.Fields{"status": status})
		fallback := []byte(fmt.Sprintf("<html><body><h1>%s</h1><p>%s</p></body></html>", label, message))
		return newHTMLResponse(status, fallback), nil
	}

	return newHTMLResponse(status, body), nil
}

func (s *Server) recordError(ctx context.Context, err error, message string, fields logrus.Fields) {
	if err == nil {
		return
	}

	if s.logger != nil {
		entry := s.logger.WithField("error", err.Error())
		if fields != nil {
			entry = entry.WithFields(fields)
		}
		if requestID := RequestIDFromContext(ctx); requestID != "" {
			entry = entry.WithField("request_id", requestID)
		}
		entry.Error(message)
	}

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	if s.sentry != nil {
		s.sentry.CaptureException(err)
	}
}
