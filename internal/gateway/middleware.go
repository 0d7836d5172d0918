package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/protobound/gateway/internal/gatewayerr"
)

// Context is what a Middleware sees for one HTTP request, before it reaches
// the GraphQL handler. Extensions carries arbitrary request-scoped data one
// middleware wants to hand to a later one (e.g. an authenticated user ID).
type Context struct {
	Request    *http.Request
	Extensions map[string]any
}

func (c *Context) Set(key string, value any) { c.Extensions[key] = value }
func (c *Context) Get(key string) (any, bool) { v, ok := c.Extensions[key]; return v, ok }

// Middleware inspects/augments a request's Context before the GraphQL
// handler runs. Returning an error short-circuits the chain and the error is
// sent to the client as a GraphQL-shaped error response.
type Middleware interface {
	Call(ctx context.Context, mc *Context) error
}

// MiddlewareFunc adapts a plain function to Middleware.
type MiddlewareFunc func(ctx context.Context, mc *Context) error

func (f MiddlewareFunc) Call(ctx context.Context, mc *Context) error { return f(ctx, mc) }

// chain runs middlewares in registration order, stopping at the first error.
type chain struct {
	middlewares []Middleware
}

func (c *chain) run(ctx context.Context, mc *Context) error {
	for _, m := range c.middlewares {
		if err := m.Call(ctx, mc); err != nil {
			return err
		}
	}
	return nil
}

// CORSMiddleware records the comma-joined AllowOrigins in the request
// Context under the "cors.allow-origins" extension key. It does not answer
// preflight requests and does not set any response header; AllowMethods and
// AllowHeaders are not read by Call.
type CORSMiddleware struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
}

func NewCORSMiddleware() *CORSMiddleware {
	return &CORSMiddleware{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}
}

func (m *CORSMiddleware) Call(ctx context.Context, mc *Context) error {
	mc.Set("cors.allow-origins", strings.Join(m.AllowOrigins, ", "))
	return nil
}

// AuthMiddleware validates the Authorization header with a caller-supplied
// function, failing the request as Unauthorized when the header is empty or
// the function returns false.
type AuthMiddleware struct {
	Validate func(token string) bool
}

func (m *AuthMiddleware) Call(ctx context.Context, mc *Context) error {
	auth := mc.Request.Header.Get("Authorization")
	if auth != "" && m.Validate(auth) {
		return nil
	}
	return gatewayerr.New(gatewayerr.Unauthorized, "invalid or missing authorization")
}
