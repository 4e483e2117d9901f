package controller

import (
	"vita-be/internal/dto"
	"vita-be/internal/pkg/serverutils"
	"vita-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type ISessionController interface {
	RegisterRoutes(r fiber.Router)
	Debug(ctx *fiber.Ctx) error
	Ask(ctx *fiber.Ctx) error
	Show(ctx *fiber.Ctx) error
	Resume(ctx *fiber.Ctx) error
	Cancel(ctx *fiber.Ctx) error
	Delete(ctx *fiber.Ctx) error
}

type sessionController struct {
	service   service.ISessionService
	jwtSecret string
}

func NewSessionController(service service.ISessionService, jwtSecret string) ISessionController {
	return &sessionController{service: service, jwtSecret: jwtSecret}
}

func (c *sessionController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/session/v1")
	h.Use(serverutils.JwtMiddleware(c.jwtSecret))
	h.Post("debug", c.Debug)
	h.Post("ask", c.Ask)
	h.Get(":id", c.Show)
	h.Post(":id/resume", c.Resume)
	h.Post(":id/cancel", c.Cancel)
	h.Delete(":id", c.Delete)
}

func (c *sessionController) Debug(ctx *fiber.Ctx) error {
	var req dto.DebugRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	h, err := c.service.Debug(ctx.UserContext(), req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success start debug session", h.Snapshot()))
}

func (c *sessionController) Ask(ctx *fiber.Ctx) error {
	var req dto.AskRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.Ask(ctx.UserContext(), req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success answer question", res))
}

func (c *sessionController) Show(ctx *fiber.Ctx) error {
	h, err := c.service.Get(ctx.Params("id"))
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success show session", h.Snapshot()))
}

func (c *sessionController) Resume(ctx *fiber.Ctx) error {
	var req dto.ResumeRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	h, err := c.service.Get(ctx.Params("id"))
	if err != nil {
		return err
	}

	if req.Async {
		err = h.ResumeInBackground(ctx.UserContext(), req.Text)
	} else {
		err = h.ResumeWith(ctx.UserContext(), req.Text)
	}
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success resume session", h.Snapshot()))
}

func (c *sessionController) Cancel(ctx *fiber.Ctx) error {
	h, err := c.service.Get(ctx.Params("id"))
	if err != nil {
		return err
	}

	h.Cancel()

	return ctx.JSON(serverutils.SuccessResponse("Success cancel session", h.Snapshot()))
}

func (c *sessionController) Delete(ctx *fiber.Ctx) error {
	if err := c.service.Close(ctx.Params("id")); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Success delete session", nil))
}
