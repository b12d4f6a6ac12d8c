/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures of the HTTP API that are not already
  served as registry views. Views (CommuneView, VoieView, NumeroView,
  CommuneSummary) are returned as-is: they are already projections.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Communes:
    UpdateCommuneRequest, AskCompositionResponse

  Compositions:
    PendingCompositionsResponse, CompositionJobDTO

  Force certification:
    ForceCertificationRequest, ForceCertificationDTO,
    ForceCertificationResponse

  Tiles:
    TileResponse

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - registry/views.go: view payloads
*/
package api

import (
	"time"

	"github.com/warp/ban-registry/geojson"
	"github.com/warp/ban-registry/queue"
	"github.com/warp/ban-registry/registry"
)

// =============================================================================
// COMMUNE DTOs
// =============================================================================

// UpdateCommuneRequest is a partial update of the commune summary.
// Absent fields are left untouched.
type UpdateCommuneRequest struct {
	NomCommune         *string                    `json:"nomCommune,omitempty"`
	Departement        *registry.Area             `json:"departement,omitempty"`
	Region             *registry.Area             `json:"region,omitempty"`
	NbVoies            *int                       `json:"nbVoies,omitempty"`
	NbNumeros          *int                       `json:"nbNumeros,omitempty"`
	NbNumerosCertifies *int                       `json:"nbNumerosCertifies,omitempty"`
	NbLieuxDits        *int                       `json:"nbLieuxDits,omitempty"`
	Population         *int                       `json:"population,omitempty"`
	TypeComposition    *string                    `json:"typeComposition,omitempty"`
	AnalyseAdressage   *registry.AnalyseAdressage `json:"analyseAdressage,omitempty"`
	DisplayBBox        registry.BBox              `json:"displayBBox,omitempty"`
	IDRevision         *string                    `json:"idRevision,omitempty"`
	DateRevision       *time.Time                 `json:"dateRevision,omitempty"`
}

// Patch converts the request to a store patch.
func (r UpdateCommuneRequest) Patch() registry.CommunePatch {
	return registry.CommunePatch{
		NomCommune:         r.NomCommune,
		Departement:        r.Departement,
		Region:             r.Region,
		NbVoies:            r.NbVoies,
		NbNumeros:          r.NbNumeros,
		NbNumerosCertifies: r.NbNumerosCertifies,
		NbLieuxDits:        r.NbLieuxDits,
		Population:         r.Population,
		TypeComposition:    r.TypeComposition,
		AnalyseAdressage:   r.AnalyseAdressage,
		DisplayBBox:        r.DisplayBBox,
		IDRevision:         r.IDRevision,
		DateRevision:       r.DateRevision,
	}
}

// AskCompositionResponse is returned by POST /api/communes/{code}/compose.
type AskCompositionResponse struct {
	CodeCommune string `json:"codeCommune"`
}

// =============================================================================
// COMPOSITION DTOs
// =============================================================================

// PendingCompositionsResponse lists communes waiting for a composition.
type PendingCompositionsResponse struct {
	Codes  []string `json:"codes"`
	Queued int      `json:"queued"`
}

// CompositionJobDTO is a job handed to the composition pipeline.
type CompositionJobDTO struct {
	ID                 string    `json:"id"`
	CodeCommune        string    `json:"codeCommune"`
	CompositionAskedAt time.Time `json:"compositionAskedAt"`
	EnqueuedAt         time.Time `json:"enqueuedAt"`
}

func toCompositionJobDTO(item queue.Item) CompositionJobDTO {
	return CompositionJobDTO{
		ID:                 item.ID,
		CodeCommune:        item.Job.CodeCommune,
		CompositionAskedAt: item.Job.CompositionAskedAt,
		EnqueuedAt:         item.EnqueuedAt,
	}
}

// =============================================================================
// FORCE CERTIFICATION DTOs
// =============================================================================

// ForceCertificationRequest is the complete desired set.
type ForceCertificationRequest struct {
	Codes []string `json:"codes"`
}

// ForceCertificationDTO is the currently flagged set.
type ForceCertificationDTO struct {
	Codes []string `json:"codes"`
}

// ForceCertificationResponse reports a reconciliation.
type ForceCertificationResponse struct {
	ToAdd    []string          `json:"toAdd"`
	ToRemove []string          `json:"toRemove"`
	Failures map[string]string `json:"failures,omitempty"`
}

func toForceCertificationResponse(result *registry.ForceCertificationResult) ForceCertificationResponse {
	resp := ForceCertificationResponse{ToAdd: result.ToAdd, ToRemove: result.ToRemove}
	if len(result.Failures) > 0 {
		resp.Failures = make(map[string]string, len(result.Failures))
		for code, err := range result.Failures {
			resp.Failures[code] = err.Error()
		}
	}
	return resp
}

// =============================================================================
// TILE DTOs
// =============================================================================

// TileResponse holds the two feature layers of a tile.
type TileResponse struct {
	Tile    string                    `json:"tile"`
	Numeros geojson.FeatureCollection `json:"numeros"`
	Voies   geojson.FeatureCollection `json:"voies"`
	Orphans []string                  `json:"orphans,omitempty"`
}

func toTileResponse(tf *registry.TileFeatures) TileResponse {
	return TileResponse{
		Tile:    tf.Tile,
		Numeros: geojson.Collection(tf.Numeros),
		Voies:   geojson.Collection(tf.Voies),
		Orphans: tf.Orphans,
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
