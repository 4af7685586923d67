package funnel

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/ciplastic/funnel-dashboard/internal/model"
)

// Stage keys, in pipeline order. These are also the porEtapa map keys.
const (
	KeyNuevoLead           = "e1_nuevoLead"
	KeyInteres             = "e2_interes"
	KeySeguimiento         = "e3_seguimiento"
	KeyFotosRecibidas      = "e4_fotosRecibidas"
	KeyValoracionVirtual   = "e5_valoracionVirtual"
	KeyVVReagendada        = "vvReagendada"
	KeyNoContesto          = "e6_noContesto"
	KeyValoracionRealizada = "e7_valoracionRealizada"
	KeySeguimientoCierre   = "e8_seguimientoCierre"
	KeyDeposito            = "e9_deposito"
	KeyFechaCirugia        = "e10_fechaCirugia"
)

// StageCount is the number of stages in the pipeline.
const StageCount = 11

var stageKeyOrder = []string{
	KeyNuevoLead,
	KeyInteres,
	KeySeguimiento,
	KeyFotosRecibidas,
	KeyValoracionVirtual,
	KeyVVReagendada,
	KeyNoContesto,
	KeyValoracionRealizada,
	KeySeguimientoCierre,
	KeyDeposito,
	KeyFechaCirugia,
}

// StageKeys returns the stage keys in pipeline order.
func StageKeys() []string {
	return append([]string(nil), stageKeyOrder...)
}

// Stage groups, expressed as stage keys and resolved to ids per taxonomy.
var (
	scheduledKeys = []string{KeyValoracionVirtual, KeyVVReagendada, KeyNoContesto, KeyValoracionRealizada, KeySeguimientoCierre, KeyDeposito, KeyFechaCirugia}
	quotedKeys    = []string{KeyValoracionRealizada, KeySeguimientoCierre, KeyDeposito, KeyFechaCirugia}
	closingKeys   = []string{KeySeguimientoCierre, KeyDeposito, KeyFechaCirugia}
	closedKeys    = []string{KeyDeposito, KeyFechaCirugia}
)

var defaultStages = []model.Stage{
	{Key: KeyNuevoLead, ID: "a99b16a6-01b6-4570-b4c6-6bacc2fbf072", DisplayName: "E1. NUEVO LEAD"},
	{Key: KeyInteres, ID: "2d74b32b-c5d7-4e8a-9049-78d9ea7231c9", DisplayName: "E2. INTERES EN VV"},
	{Key: KeySeguimiento, ID: "6e4785c2-cd9a-4bf5-860c-bb27129678c7", DisplayName: "E3. SEGUIMIENTO FOTOS"},
	{Key: KeyFotosRecibidas, ID: "d278fd60-a732-494a-b099-6ff1048c9331", DisplayName: "E4. FOTOS RECIBIDAS"},
	{Key: KeyValoracionVirtual, ID: "f5b43424-4061-4feb-8f91-d4603751c9d2", DisplayName: "E5. VALORACION VIRTUAL"},
	{Key: KeyVVReagendada, ID: "2542b349-23ea-45d0-bc0a-2e61e7f5fd71", DisplayName: "VV RE AGENDADA"},
	{Key: KeyNoContesto, ID: "e8091013-0c09-448c-99ac-282e3caa7542", DisplayName: "E6. NO CONTESTO"},
	{Key: KeyValoracionRealizada, ID: "9628011f-7a90-4e8e-82b0-0e0a15b22552", DisplayName: "E7. VALORACION REALIZADA"},
	{Key: KeySeguimientoCierre, ID: "3f2b42a3-aff7-4c5a-b3ac-d7880414c2f2", DisplayName: "E8. SEGUIMIENTO CIERRE"},
	{Key: KeyDeposito, ID: "3a5c8cb1-b051-45c2-8469-260ff9e82703", DisplayName: "E9. DEPOSITO REALIZADO"},
	{Key: KeyFechaCirugia, ID: "ee8a731e-0713-4cd6-996d-431561b26a6c", DisplayName: "E10. FECHA CIRUGIA"},
}

// Taxonomy is the ordered stage list plus the named stage groups. Group
// membership is always decided by stage id; display names are for rendering.
type Taxonomy struct {
	stages []model.Stage
	byID   map[string]int
	byKey  map[string]string

	scheduled map[string]struct{}
	quoted    map[string]struct{}
	closing   map[string]struct{}
	closed    map[string]struct{}
}

// DefaultTaxonomy returns the clinic's production pipeline.
func DefaultTaxonomy() *Taxonomy {
	t, err := NewTaxonomy(defaultStages)
	if err != nil {
		panic(err)
	}
	return t
}

// NewTaxonomy builds a taxonomy from stages. Every stage key must appear
// exactly once and ids must be unique; input order is ignored in favor of
// the canonical pipeline order.
func NewTaxonomy(stages []model.Stage) (*Taxonomy, error) {
	if len(stages) != StageCount {
		return nil, eris.Errorf("funnel: taxonomy needs %d stages, got %d", StageCount, len(stages))
	}
	if len(lo.UniqBy(stages, func(s model.Stage) string { return s.ID })) != len(stages) {
		return nil, eris.New("funnel: duplicate stage id in taxonomy")
	}

	byKey := lo.KeyBy(stages, func(s model.Stage) string { return s.Key })
	t := &Taxonomy{
		stages: make([]model.Stage, 0, StageCount),
		byID:   make(map[string]int, StageCount),
		byKey:  make(map[string]string, StageCount),
	}
	for i, key := range stageKeyOrder {
		s, ok := byKey[key]
		if !ok {
			return nil, eris.Errorf("funnel: taxonomy missing stage %q", key)
		}
		if s.ID == "" {
			return nil, eris.Errorf("funnel: stage %q has empty id", key)
		}
		if s.DisplayName == "" {
			s.DisplayName = key
		}
		s.Ordinal = i
		t.stages = append(t.stages, s)
		t.byID[s.ID] = i
		t.byKey[key] = s.ID
	}

	t.scheduled = t.idSet(scheduledKeys)
	t.quoted = t.idSet(quotedKeys)
	t.closing = t.idSet(closingKeys)
	t.closed = t.idSet(closedKeys)
	return t, nil
}

type taxonomyFile struct {
	Stages []model.Stage `yaml:"stages"`
}

// LoadTaxonomy reads a YAML stage list. An empty path yields the default.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	if path == "" {
		return DefaultTaxonomy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "funnel: read taxonomy %s", path)
	}
	var f taxonomyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "funnel: parse taxonomy %s", path)
	}
	return NewTaxonomy(f.Stages)
}

func (t *Taxonomy) idSet(keys []string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[t.byKey[k]] = struct{}{}
	}
	return out
}

// Stages returns the stages in pipeline order.
func (t *Taxonomy) Stages() []model.Stage {
	out := make([]model.Stage, len(t.stages))
	copy(out, t.stages)
	return out
}

// StageID returns the id of the stage with the given key.
func (t *Taxonomy) StageID(key string) string {
	return t.byKey[key]
}

// Lookup returns the stage with the given id.
func (t *Taxonomy) Lookup(id string) (model.Stage, bool) {
	i, ok := t.byID[id]
	if !ok {
		return model.Stage{}, false
	}
	return t.stages[i], true
}

// LookupByName finds a stage by display name. Used only to map CRMs that
// report stage names instead of ids.
func (t *Taxonomy) LookupByName(name string) (model.Stage, bool) {
	return lo.Find(t.stages, func(s model.Stage) bool { return s.DisplayName == name })
}

// Known reports whether id belongs to the taxonomy.
func (t *Taxonomy) Known(id string) bool {
	_, ok := t.byID[id]
	return ok
}

// IsNewLead reports whether id is the first stage.
func (t *Taxonomy) IsNewLead(id string) bool { return id == t.byKey[KeyNuevoLead] }

// IsQualified reports whether the record has moved past the first stage.
func (t *Taxonomy) IsQualified(id string) bool { return !t.IsNewLead(id) }

// IsNoAnswer reports whether id is the no-answer stage.
func (t *Taxonomy) IsNoAnswer(id string) bool { return id == t.byKey[KeyNoContesto] }

// IsScheduled reports membership in the scheduled-for-review group.
func (t *Taxonomy) IsScheduled(id string) bool { return in(t.scheduled, id) }

// IsQuoted reports membership in the reviewed-with-quote group.
func (t *Taxonomy) IsQuoted(id string) bool { return in(t.quoted, id) }

// IsClosing reports membership in the in-closing group.
func (t *Taxonomy) IsClosing(id string) bool { return in(t.closing, id) }

// IsClosed reports membership in the closed group.
func (t *Taxonomy) IsClosed(id string) bool { return in(t.closed, id) }

func in(set map[string]struct{}, id string) bool {
	_, ok := set[id]
	return ok
}
