package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/switchboard/internal/engine"
	"github.com/mohammad-safakhou/switchboard/internal/quota"
	"github.com/mohammad-safakhou/switchboard/internal/runtime"
	"github.com/mohammad-safakhou/switchboard/internal/stream"
)

// QueryProcessor runs one query and reports progress through the emitter.
type QueryProcessor interface {
	Process(ctx context.Context, q engine.Query, em *stream.Emitter) error
}

// SearchHandler serves the orchestrated search endpoint as a newline-delimited
// JSON stream of progress events.
type SearchHandler struct {
	Engine QueryProcessor
	Secret []byte
}

func (h *SearchHandler) Register(g *echo.Group) {
	g.POST("/search", h.search)
}

// Search
//
//	@Summary		Orchestrated search
//	@Description	Streams progress events as NDJSON: quota, category, agents, final (or error)
//	@Tags			search
//	@Accept			json
//	@Produce		json
//	@Param			payload	body	SearchRequest	true	"Search payload"
//	@Success		200
//	@Failure		400	{object}	HTTPError
//	@Router			/api/search [post]
func (h *SearchHandler) search(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}

	caller := h.resolveCaller(c)

	c.Response().Header().Set(echo.HeaderContentType, "application/x-ndjson")
	c.Response().WriteHeader(http.StatusOK)

	em := stream.NewEmitter(stream.NDJSON(c.Response(), func() { c.Response().Flush() }))
	// The stream is already committed; pipeline failures surface as error
	// events, not HTTP errors.
	_ = h.Engine.Process(c.Request().Context(), engine.Query{Text: req.Query, Caller: caller}, em)
	return nil
}

// resolveCaller maps the request to a quota caller: the JWT subject when a
// valid token is present, otherwise a fingerprint of the client address.
func (h *SearchHandler) resolveCaller(c echo.Context) quota.Caller {
	if tok := runtime.ExtractToken(c); tok != "" {
		if sub, err := runtime.ParseSubject(tok, h.Secret); err == nil {
			return quota.Caller{Key: sub, Class: quota.ClassUser}
		}
	}
	return quota.Caller{Key: guestFingerprint(c.RealIP()), Class: quota.ClassGuest}
}

func guestFingerprint(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}
