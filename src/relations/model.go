package relations

import (
	"fmt"

	"tourcraft/src/models"
	"tourcraft/src/settings"
)

// CardinalityOneToOne is the only relation cardinality the engine
// supports: one scalar foreign key on the owner, one back-reference
// array on the related entity.
const CardinalityOneToOne = "one-to-one"

// Declaration describes one bidirectional relation: the owner entity
// holds a scalar foreign key, the related entity holds an array of
// owner ids. Declarations are configuration, validated once at startup.
type Declaration struct {
	// Name is the relation name as the owner's forms know it
	// (artiste, lieu, programmateur, structure).
	Name string

	// OwnerCollection is the collection holding the scalar foreign key.
	OwnerCollection string

	// RelatedCollection is the collection holding the back-reference array.
	RelatedCollection string

	// FKField is the scalar foreign key field on the owner (artisteId).
	FKField string

	// InverseField is the back-reference array field on the related
	// entity (concertsIds).
	InverseField string

	// NameField is the display-name field on the related entity, used
	// to denormalize a label onto the owner at save time.
	NameField string

	// Cardinality must be one-to-one.
	Cardinality string
}

// Set is a validated table of relation declarations with lookup
// indexes by owner collection, related collection and name.
type Set struct {
	decls     []Declaration
	byOwner   map[string][]Declaration
	byRelated map[string][]Declaration
	byName    map[string]Declaration
}

// NewSet validates the declarations and builds the lookup table.
func NewSet(decls ...Declaration) (*Set, error) {
	set := &Set{
		byOwner:   make(map[string][]Declaration),
		byRelated: make(map[string][]Declaration),
		byName:    make(map[string]Declaration),
	}

	for _, d := range decls {
		if d.Cardinality == "" {
			d.Cardinality = CardinalityOneToOne
		}
		if err := validateDeclaration(d); err != nil {
			return nil, err
		}

		key := d.OwnerCollection + "." + d.Name
		if _, exists := set.byName[key]; exists {
			return nil, fmt.Errorf("duplicate relation '%s' on collection '%s'", d.Name, d.OwnerCollection)
		}
		for _, other := range set.byOwner[d.OwnerCollection] {
			if other.FKField == d.FKField {
				return nil, fmt.Errorf("relations '%s' and '%s' on collection '%s' share foreign key field '%s'",
					other.Name, d.Name, d.OwnerCollection, d.FKField)
			}
		}

		set.decls = append(set.decls, d)
		set.byOwner[d.OwnerCollection] = append(set.byOwner[d.OwnerCollection], d)
		set.byRelated[d.RelatedCollection] = append(set.byRelated[d.RelatedCollection], d)
		set.byName[key] = d
	}

	return set, nil
}

func validateDeclaration(d Declaration) error {
	if d.Name == "" {
		return fmt.Errorf("relation declaration is missing a name")
	}
	if d.OwnerCollection == "" || d.RelatedCollection == "" {
		return fmt.Errorf("relation '%s' is missing a collection name", d.Name)
	}
	if d.FKField == "" {
		return fmt.Errorf("relation '%s' is missing its foreign key field", d.Name)
	}
	if d.InverseField == "" {
		return fmt.Errorf("relation '%s' is missing its inverse array field", d.Name)
	}
	if d.Cardinality != CardinalityOneToOne {
		return fmt.Errorf("relation '%s' has unsupported cardinality '%s'", d.Name, d.Cardinality)
	}
	return nil
}

// All returns every declaration in the set.
func (s *Set) All() []Declaration {
	return s.decls
}

// ForOwner returns the relations whose scalar foreign key lives on the
// given collection.
func (s *Set) ForOwner(collection string) []Declaration {
	return s.byOwner[collection]
}

// ForRelated returns the relations whose back-reference array lives on
// the given collection.
func (s *Set) ForRelated(collection string) []Declaration {
	return s.byRelated[collection]
}

// Find looks up one relation by owner collection and relation name.
func (s *Set) Find(ownerCollection, name string) (Declaration, bool) {
	d, ok := s.byName[ownerCollection+"."+name]
	return d, ok
}

// DefaultDeclarations returns the built-in TourCraft relation table:
// every concert points at up to one artiste, lieu, programmateur and
// structure, each of which files the concert in its concertsIds array.
func DefaultDeclarations() []Declaration {
	return []Declaration{
		{
			Name:              "artiste",
			OwnerCollection:   models.CollectionConcerts,
			RelatedCollection: models.CollectionArtistes,
			FKField:           "artisteId",
			InverseField:      "concertsIds",
			NameField:         "nom",
			Cardinality:       CardinalityOneToOne,
		},
		{
			Name:              "lieu",
			OwnerCollection:   models.CollectionConcerts,
			RelatedCollection: models.CollectionLieux,
			FKField:           "lieuId",
			InverseField:      "concertsIds",
			NameField:         "nom",
			Cardinality:       CardinalityOneToOne,
		},
		{
			Name:              "programmateur",
			OwnerCollection:   models.CollectionConcerts,
			RelatedCollection: models.CollectionProgrammateurs,
			FKField:           "programmateurId",
			InverseField:      "concertsIds",
			NameField:         "nom",
			Cardinality:       CardinalityOneToOne,
		},
		{
			Name:              "structure",
			OwnerCollection:   models.CollectionConcerts,
			RelatedCollection: models.CollectionStructures,
			FKField:           "structureId",
			InverseField:      "concertsIds",
			NameField:         "raisonSociale",
			Cardinality:       CardinalityOneToOne,
		},
	}
}

// DefaultSet builds the built-in relation table. It panics on error
// because the built-in declarations are static.
func DefaultSet() *Set {
	set, err := NewSet(DefaultDeclarations()...)
	if err != nil {
		panic(fmt.Sprintf("built-in relation declarations are invalid: %v", err))
	}
	return set
}

// FromConfig converts config-file relation entries into declarations
// and merges them with the built-in table.
func FromConfig(cfgs []settings.RelationConfig) (*Set, error) {
	decls := DefaultDeclarations()
	for _, c := range cfgs {
		decls = append(decls, Declaration{
			Name:              c.Name,
			OwnerCollection:   c.Owner,
			RelatedCollection: c.Related,
			FKField:           c.ForeignKey,
			InverseField:      c.Inverse,
			NameField:         c.NameField,
			Cardinality:       CardinalityOneToOne,
		})
	}
	return NewSet(decls...)
}
