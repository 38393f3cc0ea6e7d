package models

// Collection names for the TourCraft data set. Every entity document
// lives in exactly one of these.
const (
	CollectionConcerts       = "concerts"
	CollectionArtistes       = "artistes"
	CollectionLieux          = "lieux"
	CollectionProgrammateurs = "programmateurs"
	CollectionStructures     = "structures"
)

// KnownCollections lists every collection the service manages.
var KnownCollections = []string{
	CollectionConcerts,
	CollectionArtistes,
	CollectionLieux,
	CollectionProgrammateurs,
	CollectionStructures,
}

// IsKnownCollection reports whether name is one of the managed collections.
func IsKnownCollection(name string) bool {
	for _, c := range KnownCollections {
		if c == name {
			return true
		}
	}
	return false
}

type Concert struct {
	// ID is the unique identifier for the concert.
	ID string `bson:"_id" json:"id"`

	// Titre is the display title of the concert.
	Titre string `bson:"titre" json:"titre"`

	// Date is the concert date in ISO form (yyyy-mm-dd).
	Date string `bson:"date,omitempty" json:"date,omitempty"`

	// Montant is the negotiated fee in euros.
	Montant float64 `bson:"montant,omitempty" json:"montant,omitempty"`

	// Statut is the business status (contact, option, confirme, annule).
	Statut string `bson:"statut,omitempty" json:"statut,omitempty"`

	// Scalar foreign keys. Empty means the relation is not set.
	ArtisteID       string `bson:"artisteId,omitempty" json:"artisteId,omitempty"`
	LieuID          string `bson:"lieuId,omitempty" json:"lieuId,omitempty"`
	ProgrammateurID string `bson:"programmateurId,omitempty" json:"programmateurId,omitempty"`
	StructureID     string `bson:"structureId,omitempty" json:"structureId,omitempty"`

	// Denormalized display fields, copied from the related entities at
	// save time so list views do not need extra reads.
	ArtisteNom       string `bson:"artisteNom,omitempty" json:"artisteNom,omitempty"`
	LieuNom          string `bson:"lieuNom,omitempty" json:"lieuNom,omitempty"`
	LieuVille        string `bson:"lieuVille,omitempty" json:"lieuVille,omitempty"`
	ProgrammateurNom string `bson:"programmateurNom,omitempty" json:"programmateurNom,omitempty"`
	StructureNom     string `bson:"structureNom,omitempty" json:"structureNom,omitempty"`
}

type Artiste struct {
	// ID is the unique identifier for the artist.
	ID string `bson:"_id" json:"id"`

	// Nom is the artist or band name.
	Nom string `bson:"nom" json:"nom"`

	// Style is the musical style.
	Style string `bson:"style,omitempty" json:"style,omitempty"`

	// ConcertsIds is the back-reference array of concerts that point at
	// this artist through their artisteId field.
	ConcertsIds []string `bson:"concertsIds" json:"concertsIds"`
}

type Lieu struct {
	// ID is the unique identifier for the venue.
	ID string `bson:"_id" json:"id"`

	// Nom is the venue name.
	Nom string `bson:"nom" json:"nom"`

	// Ville is the city the venue is in.
	Ville string `bson:"ville,omitempty" json:"ville,omitempty"`

	// CodePostal is the postal code.
	CodePostal string `bson:"codePostal,omitempty" json:"codePostal,omitempty"`

	// Capacite is the audience capacity.
	Capacite int `bson:"capacite,omitempty" json:"capacite,omitempty"`

	// ConcertsIds is the back-reference array of concerts held here.
	ConcertsIds []string `bson:"concertsIds" json:"concertsIds"`
}

type Programmateur struct {
	// ID is the unique identifier for the promoter contact.
	ID string `bson:"_id" json:"id"`

	// Nom is the contact's full name.
	Nom string `bson:"nom" json:"nom"`

	// Email is the contact email address.
	Email string `bson:"email,omitempty" json:"email,omitempty"`

	// Telephone is the contact phone number.
	Telephone string `bson:"telephone,omitempty" json:"telephone,omitempty"`

	// StructureID links the contact to the structure that employs them.
	StructureID string `bson:"structureId,omitempty" json:"structureId,omitempty"`

	// ConcertsIds is the back-reference array of concerts this contact
	// is programming.
	ConcertsIds []string `bson:"concertsIds" json:"concertsIds"`
}

type Structure struct {
	// ID is the unique identifier for the structure (company/association).
	ID string `bson:"_id" json:"id"`

	// RaisonSociale is the registered company name.
	RaisonSociale string `bson:"raisonSociale" json:"raisonSociale"`

	// Type is the legal form (association, SARL, ...).
	Type string `bson:"type,omitempty" json:"type,omitempty"`

	// Ville is the city of the registered office.
	Ville string `bson:"ville,omitempty" json:"ville,omitempty"`

	// ConcertsIds is the back-reference array of concerts filed under
	// this structure.
	ConcertsIds []string `bson:"concertsIds" json:"concertsIds"`
}
