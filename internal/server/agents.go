package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/lib/pq"

	"github.com/mohammad-safakhou/switchboard/internal/registry"
	"github.com/mohammad-safakhou/switchboard/internal/runtime"
	"github.com/mohammad-safakhou/switchboard/internal/store"
)

// AgentsHandler serves the agent registry API: public listing and search plus
// owner-only mutation.
type AgentsHandler struct {
	Store     *store.Store
	Directory *registry.Directory
	// AllowPrivateURLs permits agent endpoints resolving to private address
	// space. Development only.
	AllowPrivateURLs bool
	Resolver         *net.Resolver
}

func (h *AgentsHandler) Register(g *echo.Group, secret []byte) {
	g.GET("", h.list)
	g.GET("/search", h.search)
	g.GET("/:id", h.get)

	authed := g.Group("")
	authed.Use(runtime.EchoAuthMiddleware(secret))
	authed.GET("/mine", h.mine)
	authed.POST("", h.create)
	authed.PUT("/:id", h.update)
	authed.DELETE("/:id", h.delete)
}

func toAgentResponse(a store.Agent) AgentResponse {
	return AgentResponse{
		ID:          a.ID,
		Name:        a.Name,
		URL:         a.URL,
		OwnerID:     a.OwnerID,
		Visibility:  a.Visibility,
		Categories:  a.Categories,
		Description: a.Description,
	}
}

// list returns all public agents.
func (h *AgentsHandler) list(c echo.Context) error {
	agents, err := h.Store.ListAllAgents(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		if a.Visibility == store.VisibilityPublic {
			out = append(out, toAgentResponse(a))
		}
	}
	return c.JSON(http.StatusOK, out)
}

// search runs a full-text query over the public agent directory.
func (h *AgentsHandler) search(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	hits, err := h.Directory.Search(q, 20)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]AgentResponse, 0, len(hits))
	for _, d := range hits {
		out = append(out, AgentResponse{
			ID:          d.ID,
			Name:        d.Name,
			URL:         d.URL,
			OwnerID:     d.OwnerID,
			Visibility:  d.Visibility,
			Categories:  d.Categories,
			Description: d.Description,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AgentsHandler) get(c echo.Context) error {
	a, found, err := h.Store.GetAgent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "agent not found")
	}
	if a.Visibility != store.VisibilityPublic {
		sub, _ := runtime.SubjectFromContext(c.Request().Context())
		if sub != a.OwnerID {
			return echo.NewHTTPError(http.StatusNotFound, "agent not found")
		}
	}
	return c.JSON(http.StatusOK, toAgentResponse(a))
}

func (h *AgentsHandler) mine(c echo.Context) error {
	ownerID := c.Get("user_id").(string)
	agents, err := h.Store.ListAgentsByOwner(c.Request().Context(), ownerID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, toAgentResponse(a))
	}
	return c.JSON(http.StatusOK, out)
}

// Create agent
//
//	@Summary	Register an agent
//	@Tags		agents
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		AgentRequest	true	"Agent payload"
//	@Success	201		{object}	AgentResponse
//	@Failure	400		{object}	HTTPError
//	@Failure	409		{object}	HTTPError
//	@Router		/api/agents [post]
func (h *AgentsHandler) create(c echo.Context) error {
	ownerID := c.Get("user_id").(string)
	var req AgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.buildAgent(c.Request().Context(), req, ownerID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.Store.CreateAgent(c.Request().Context(), a); err != nil {
		if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" {
			return echo.NewHTTPError(http.StatusConflict, "agent id already exists")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	_ = h.Directory.Index(registry.FromStore(a))
	return c.JSON(http.StatusCreated, toAgentResponse(a))
}

func (h *AgentsHandler) update(c echo.Context) error {
	ownerID := c.Get("user_id").(string)
	var req AgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.ID = c.Param("id")
	a, err := h.buildAgent(c.Request().Context(), req, ownerID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.Store.UpdateAgent(c.Request().Context(), a); err != nil {
		if err == store.ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "agent not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	_ = h.Directory.Index(registry.FromStore(a))
	return c.JSON(http.StatusOK, toAgentResponse(a))
}

func (h *AgentsHandler) delete(c echo.Context) error {
	ownerID := c.Get("user_id").(string)
	id := c.Param("id")
	if err := h.Store.DeleteAgent(c.Request().Context(), id, ownerID); err != nil {
		if err == store.ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "agent not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	_ = h.Directory.Remove(id)
	return c.NoContent(http.StatusNoContent)
}

func (h *AgentsHandler) buildAgent(ctx context.Context, req AgentRequest, ownerID string) (store.Agent, error) {
	if req.ID == "" || req.Name == "" {
		return store.Agent{}, fmt.Errorf("id and name required")
	}
	if len(req.Categories) == 0 {
		return store.Agent{}, fmt.Errorf("at least one category required")
	}
	visibility := req.Visibility
	if visibility == "" {
		visibility = store.VisibilityPrivate
	}
	if visibility != store.VisibilityPublic && visibility != store.VisibilityPrivate {
		return store.Agent{}, fmt.Errorf("visibility must be public or private")
	}
	if err := h.validateAgentURL(ctx, req.URL); err != nil {
		return store.Agent{}, err
	}
	return store.Agent{
		ID:          req.ID,
		Name:        req.Name,
		URL:         req.URL,
		OwnerID:     ownerID,
		Visibility:  visibility,
		Categories:  req.Categories,
		Description: req.Description,
		PublicKey:   req.PublicKey,
	}, nil
}

// validateAgentURL rejects endpoints that would make the dispatcher call into
// private address space on a caller's behalf.
func (h *AgentsHandler) validateAgentURL(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https")
	}
	if u.Hostname() == "" {
		return fmt.Errorf("url host required")
	}
	if h.AllowPrivateURLs {
		return nil
	}
	resolver := h.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, u.Hostname())
	if err != nil {
		return fmt.Errorf("url host does not resolve: %w", err)
	}
	for _, addr := range addrs {
		ip := addr.IP
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("url resolves to a disallowed address: %s", ip)
		}
	}
	return nil
}
