// Package api exposes the entity provider over HTTP.
package api

import (
	"github.com/gofiber/fiber/v2"

	"portal/internal/metadata"
	"portal/internal/provider"
)

type Handler struct {
	provider provider.Provider
	registry *metadata.Registry
}

func NewHandler(p provider.Provider, reg *metadata.Registry) *Handler {
	return &Handler{provider: p, registry: reg}
}

func RegisterRoutes(app *fiber.App, h *Handler) {
	api := app.Group("/api/entities")

	api.Get("/", h.ListTypes)
	api.Get("/:type", h.Query)
	api.Get("/:type/:id", h.Get)
	api.Post("/:type", h.Create)
	api.Put("/:type/:id", h.Update)
	api.Delete("/:type/:id", h.Delete)
}

func (h *Handler) resolveType(c *fiber.Ctx) (metadata.EntityMetadataType, error) {
	name := c.Params("type")
	t, ok := h.registry.TypeByName(name)
	if !ok {
		return t, UnknownTypeError(name)
	}
	return t, nil
}

func (h *Handler) ListTypes(c *fiber.Ctx) error {
	types := h.registry.Types()
	names := make([]fiber.Map, 0, len(types))
	for _, t := range types {
		names = append(names, fiber.Map{
			"name":       t.String(),
			"pointQuery": h.provider.SupportsPointQueryForType(t),
			"fieldNames": h.registry.FieldNames(t),
		})
	}
	return c.JSON(fiber.Map{"data": names, "provider": h.provider.Name()})
}

func (h *Handler) Get(c *fiber.Ctx) error {
	t, err := h.resolveType(c)
	if err != nil {
		return err
	}
	md, err := h.provider.GetMetadata(c.UserContext(), t, c.Params("id"))
	if err != nil {
		return fromProviderError(err)
	}
	body, err := h.render(md)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": body})
}

func (h *Handler) Query(c *fiber.Ctx) error {
	t, err := h.resolveType(c)
	if err != nil {
		return err
	}
	q, err := parseQuery(c)
	if err != nil {
		return err
	}
	rows, err := h.provider.FixedQueryMetadata(c.UserContext(), t, q)
	if err != nil {
		return fromProviderError(err)
	}
	data := make([]map[string]any, 0, len(rows))
	for _, md := range rows {
		body, err := h.render(md)
		if err != nil {
			return err
		}
		data = append(data, body)
	}
	return c.JSON(fiber.Map{"data": data})
}

func (h *Handler) Create(c *fiber.Ctx) error {
	t, err := h.resolveType(c)
	if err != nil {
		return err
	}
	md, err := h.parseBody(c, t, "")
	if err != nil {
		return err
	}
	if err := h.provider.SetMetadata(c.UserContext(), md); err != nil {
		return fromProviderError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": fiber.Map{"id": md.EntityID}})
}

func (h *Handler) Update(c *fiber.Ctx) error {
	t, err := h.resolveType(c)
	if err != nil {
		return err
	}
	md, err := h.parseBody(c, t, c.Params("id"))
	if err != nil {
		return err
	}
	if err := h.provider.UpdateMetadata(c.UserContext(), md); err != nil {
		return fromProviderError(err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": md.EntityID}})
}

func (h *Handler) Delete(c *fiber.Ctx) error {
	t, err := h.resolveType(c)
	if err != nil {
		return err
	}
	md, err := h.provider.GetMetadata(c.UserContext(), t, c.Params("id"))
	if err != nil {
		return fromProviderError(err)
	}
	if err := h.provider.DeleteMetadata(c.UserContext(), md); err != nil {
		return fromProviderError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// render converts a row into its business object and back to a field map,
// so responses carry typed values. Aggregate rows are returned as stored.
func (h *Handler) render(md *metadata.EntityMetadata) (map[string]any, error) {
	if md.EntityID == "" {
		return md.Fields, nil
	}
	deserialize, err := h.provider.DeserializationHelper(md.EntityType)
	if err != nil {
		return nil, err
	}
	obj, err := deserialize(md)
	if err != nil {
		return nil, err
	}
	return metadata.ObjectFieldValues(obj)
}

// parseBody decodes a JSON field map into a new business object and
// serializes it for the provider. A non-empty id overrides the body's id.
func (h *Handler) parseBody(c *fiber.Ctx, t metadata.EntityMetadataType, id string) (*metadata.EntityMetadata, error) {
	var fields map[string]any
	if err := c.BodyParser(&fields); err != nil || fields == nil {
		return nil, NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest, "Invalid JSON body")
	}
	if id != "" {
		idField, err := h.registry.IDFieldName(t)
		if err != nil {
			return nil, err
		}
		fields[idField] = id
	}

	obj, err := h.registry.InstantiateObject(t)
	if err != nil {
		return nil, err
	}
	if err := metadata.ApplyFieldValues(fields, obj); err != nil {
		return nil, NewAppError("VALIDATION_FAILED", fiber.StatusUnprocessableEntity, err.Error())
	}
	serialize, err := h.provider.SerializationHelper(t)
	if err != nil {
		return nil, err
	}
	md, err := serialize(obj)
	if err != nil {
		return nil, NewAppError("VALIDATION_FAILED", fiber.StatusUnprocessableEntity, err.Error())
	}
	return md, nil
}
