package bdns

import "encoding/json"

// Wire shapes for the BDNS public API (Base de Datos Nacional de
// Subvenciones). Field tags follow the remote JSON; exported names follow
// this codebase.

type SearchPage struct {
	Content       []SearchItem `json:"content"`
	Last          bool         `json:"last"`
	TotalPages    int          `json:"totalPages"`
	TotalElements int64        `json:"totalElements"`
	Number        int          `json:"number"`
	Size          int          `json:"size"`
}

type SearchItem struct {
	ID          int64  `json:"id"`
	Code        string `json:"numeroConvocatoria"`
	Description string `json:"descripcion"`
	ReceivedAt  string `json:"fechaRecepcion"`
	OrganLevel1 string `json:"nivel1"`
	OrganLevel2 string `json:"nivel2"`
	OrganLevel3 string `json:"nivel3"`
	Recovery    bool   `json:"mrr"`
}

// RefValue is a categorical reference as the API reports it. Some catalogs
// carry an explicit code, others only a description; ResolutionKey picks
// whichever is usable for catalog lookup.
type RefValue struct {
	ID          int64  `json:"id"`
	Code        string `json:"codigo"`
	Description string `json:"descripcion"`
}

func (r RefValue) ResolutionKey() string {
	if r.Code != "" {
		return r.Code
	}
	return r.Description
}

type Organ struct {
	Level1 string `json:"nivel1"`
	Level2 string `json:"nivel2"`
	Level3 string `json:"nivel3"`
}

type DocumentRef struct {
	ID          int64  `json:"id"`
	Description string `json:"descripcion"`
	FileName    string `json:"nombreFic"`
	SizeBytes   int64  `json:"long"`
	ModifiedAt  string `json:"datMod"`
	PublishedAt string `json:"datPublicacion"`
}

type AnnouncementRef struct {
	Number      int64  `json:"numAnuncio"`
	Title       string `json:"titulo"`
	TitleLang   string `json:"tituloLeng"`
	Text        string `json:"texto"`
	URL         string `json:"url"`
	Gazette     string `json:"desDiarioOficial"`
	PublishedAt string `json:"datPublicacion"`
}

type ObjectiveRef struct {
	Description string `json:"descripcion"`
}

type CallDetail struct {
	ID                  int64    `json:"id"`
	Code                string   `json:"codigoBDNS"`
	Title               string   `json:"descripcion"`
	RegulationText      string   `json:"descripcionBasesReguladoras"`
	RegulationURL       string   `json:"urlBasesReguladoras"`
	ElectronicOffice    string   `json:"sedeElectronica"`
	ReceivedAt          string   `json:"fechaRecepcion"`
	ApplicationOpensAt  string   `json:"fechaInicioSolicitud"`
	ApplicationClosesAt string   `json:"fechaFinSolicitud"`
	Open                bool     `json:"abierto"`
	BudgetTotal         *float64 `json:"presupuestoTotal"`
	RecoveryFunded      bool     `json:"mrr"`

	Organ   Organ     `json:"organo"`
	Purpose *RefValue `json:"finalidad"`

	BeneficiaryTypes []RefValue `json:"tiposBeneficiarios"`
	Instruments      []RefValue `json:"instrumentos"`
	Regions          []RefValue `json:"regiones"`
	Funds            []RefValue `json:"fondos"`
	Sectors          []RefValue `json:"sectores"`

	Documents     []DocumentRef     `json:"documentos"`
	Announcements []AnnouncementRef `json:"anuncios"`
	Objectives    []ObjectiveRef    `json:"objetivos"`

	// Raw is the body as received, kept for the store's jsonb snapshot.
	Raw json.RawMessage `json:"-"`
}
