package metadata

import "fmt"

// FixedQueryType is the discriminator shared by every backend.
type FixedQueryType string

const (
	FixedQueryAll                                FixedQueryType = "all"
	FixedQueryByOrganizationID                   FixedQueryType = "by organization id"
	FixedQueryByCorporateID                      FixedQueryType = "by corporate id"
	FixedQueryByAlternateID                      FixedQueryType = "by alternate id"
	FixedQueryByOrganizationAndRepositoryName    FixedQueryType = "by organization and repository name"
	FixedQueryDistinctOrganizationIDs            FixedQueryType = "distinct organization ids"
	FixedQueryVoteCountsByElection               FixedQueryType = "vote counts by election"
	FixedQueryDeleteByOrganizationID             FixedQueryType = "delete by organization id"
)

// FixedQuery is a closed set of query requests. Backend builders switch on
// the concrete type.
type FixedQuery interface {
	FixedQueryType() FixedQueryType
	fixedQuery()
}

type QueryAll struct{}

type QueryByOrganizationID struct {
	OrganizationID string
}

type QueryByCorporateID struct {
	CorporateID string
}

// QueryByAlternateID finds a row by its durable id when the storage key does
// not encode it. Table providers use it for types without point queries.
type QueryByAlternateID struct {
	ID string
}

type QueryByOrganizationAndRepositoryName struct {
	OrganizationID string
	RepositoryName string
}

// QueryDistinctOrganizationIDs returns one row per organization id, with the
// id under the "organizationId" field.
type QueryDistinctOrganizationIDs struct{}

// QueryVoteCountsByElection returns one row per nominee with "nominee" and
// "votes" fields.
type QueryVoteCountsByElection struct {
	ElectionID string
}

// QueryDeleteByOrganizationID returns the rows a caller should delete when an
// organization is removed.
type QueryDeleteByOrganizationID struct {
	OrganizationID string
}

func (QueryAll) FixedQueryType() FixedQueryType { return FixedQueryAll }
func (QueryByOrganizationID) FixedQueryType() FixedQueryType { return FixedQueryByOrganizationID }
func (QueryByCorporateID) FixedQueryType() FixedQueryType { return FixedQueryByCorporateID }
func (QueryByAlternateID) FixedQueryType() FixedQueryType { return FixedQueryByAlternateID }
func (QueryByOrganizationAndRepositoryName) FixedQueryType() FixedQueryType {
	return FixedQueryByOrganizationAndRepositoryName
}
func (QueryDistinctOrganizationIDs) FixedQueryType() FixedQueryType {
	return FixedQueryDistinctOrganizationIDs
}
func (QueryVoteCountsByElection) FixedQueryType() FixedQueryType { return FixedQueryVoteCountsByElection }
func (QueryDeleteByOrganizationID) FixedQueryType() FixedQueryType {
	return FixedQueryDeleteByOrganizationID
}

func (QueryAll) fixedQuery()                             {}
func (QueryByOrganizationID) fixedQuery()                {}
func (QueryByCorporateID) fixedQuery()                   {}
func (QueryByAlternateID) fixedQuery()                   {}
func (QueryByOrganizationAndRepositoryName) fixedQuery() {}
func (QueryDistinctOrganizationIDs) fixedQuery()         {}
func (QueryVoteCountsByElection) fixedQuery()            {}
func (QueryDeleteByOrganizationID) fixedQuery()          {}

// ParseFixedQuery builds a query from its short name and string arguments,
// as used by the HTTP API and the command line.
func ParseFixedQuery(name string, args map[string]string) (FixedQuery, error) {
	arg := func(key string) (string, error) {
		if v := args[key]; v != "" {
			return v, nil
		}
		return "", fmt.Errorf("query %q requires %s", name, key)
	}

	switch name {
	case "", "all":
		return QueryAll{}, nil
	case "organization", "delete-organization":
		org, err := arg("organizationId")
		if err != nil {
			return nil, err
		}
		if name == "delete-organization" {
			return QueryDeleteByOrganizationID{OrganizationID: org}, nil
		}
		return QueryByOrganizationID{OrganizationID: org}, nil
	case "corporate":
		id, err := arg("corporateId")
		if err != nil {
			return nil, err
		}
		return QueryByCorporateID{CorporateID: id}, nil
	case "alternate":
		id, err := arg("id")
		if err != nil {
			return nil, err
		}
		return QueryByAlternateID{ID: id}, nil
	case "repository":
		org, err := arg("organizationId")
		if err != nil {
			return nil, err
		}
		repo, err := arg("repositoryName")
		if err != nil {
			return nil, err
		}
		return QueryByOrganizationAndRepositoryName{OrganizationID: org, RepositoryName: repo}, nil
	case "organizations":
		return QueryDistinctOrganizationIDs{}, nil
	case "votes":
		election, err := arg("electionId")
		if err != nil {
			return nil, err
		}
		return QueryVoteCountsByElection{ElectionID: election}, nil
	default:
		return nil, fmt.Errorf("unknown query %q", name)
	}
}
