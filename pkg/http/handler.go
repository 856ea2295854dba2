package http

import "github.com/labstack/echo/v4"

// Handler mounts a component's routes. NewServer calls RegisterRoutes once per
// handler, in order, after the shared middleware is installed.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

// Routes lets a plain registration func act as a Handler.
type Routes func(e *echo.Echo)

func (r Routes) RegisterRoutes(e *echo.Echo) { r(e) }
