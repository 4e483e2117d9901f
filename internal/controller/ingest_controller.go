package controller

import (
	"vita-be/internal/dto"
	"vita-be/internal/pkg/serverutils"
	"vita-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IIngestController interface {
	RegisterRoutes(r fiber.Router)
	Enqueue(ctx *fiber.Ctx) error
	Show(ctx *fiber.Ctx) error
}

type ingestController struct {
	service   service.IIngestService
	jwtSecret string
}

func NewIngestController(service service.IIngestService, jwtSecret string) IIngestController {
	return &ingestController{service: service, jwtSecret: jwtSecret}
}

func (c *ingestController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/ingest/v1")
	h.Use(serverutils.JwtMiddleware(c.jwtSecret))
	h.Post("", c.Enqueue)
	h.Get(":id", c.Show)
}

func (c *ingestController) Enqueue(ctx *fiber.Ctx) error {
	var req dto.IngestRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.Enqueue(ctx.UserContext(), req)
	if err != nil {
		return err
	}

	return ctx.Status(fiber.StatusAccepted).JSON(serverutils.SuccessResponse("Success queue ingestion", res))
}

func (c *ingestController) Show(ctx *fiber.Ctx) error {
	res, err := c.service.Job(ctx.Params("id"))
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success show ingestion", res))
}
