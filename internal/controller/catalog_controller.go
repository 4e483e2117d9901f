package controller

import (
	"vita-be/internal/dto"
	"vita-be/internal/pkg/serverutils"
	"vita-be/pkg/persona"

	"github.com/gofiber/fiber/v2"
)

type ICatalogController interface {
	RegisterRoutes(r fiber.Router)
	Personas(ctx *fiber.Ctx) error
	Models(ctx *fiber.Ctx) error
}

type catalogController struct {
	registry *persona.Registry
}

func NewCatalogController(registry *persona.Registry) ICatalogController {
	return &catalogController{registry: registry}
}

func (c *catalogController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/catalog/v1")
	h.Get("personas", c.Personas)
	h.Get("models", c.Models)
}

func (c *catalogController) Personas(ctx *fiber.Ctx) error {
	personas := c.registry.ListPersonas()
	res := make([]dto.PersonaSummary, 0, len(personas))
	for _, p := range personas {
		res = append(res, dto.NewPersonaSummary(p))
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get all personas", res))
}

func (c *catalogController) Models(ctx *fiber.Ctx) error {
	models := c.registry.ListModels()
	res := make([]dto.ModelSummary, 0, len(models))
	for _, m := range models {
		res = append(res, dto.NewModelSummary(m))
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get all models", res))
}
