package api

import (
	"github.com/gofiber/fiber/v2"

	"portal/internal/metadata"
)

var queryArgs = []string{"organizationId", "corporateId", "id", "repositoryName", "electionId"}

// parseQuery reads the fixed query a list request names in ?query=. The
// remaining parameters are the query's arguments.
func parseQuery(c *fiber.Ctx) (metadata.FixedQuery, error) {
	args := make(map[string]string, len(queryArgs))
	for _, name := range queryArgs {
		if v := c.Query(name); v != "" {
			args[name] = v
		}
	}
	q, err := metadata.ParseFixedQuery(c.Query("query", "all"), args)
	if err != nil {
		return nil, InvalidQueryError(err.Error())
	}
	return q, nil
}
