package appointment

import (
	"context"
	"net/url"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/sitwo-project/clinic-portal/internal/apiclient"
	"github.com/sitwo-project/clinic-portal/internal/model"
)

const (
	catalogTTL     = 5 * time.Minute
	catalogCleanup = 15 * time.Minute

	keyOdontologos   = "odontologos"
	keyHorarios      = "horarios"
	keyTiposConsulta = "tipos-consulta"
	keyPacientes     = "pacientes"
)

// Catalog fetches the read-only reference entities used to populate
// selection inputs. Entries are cached with a short TTL since the clinic
// rarely changes them mid-session.
type Catalog struct {
	api   *apiclient.Client
	cache *gocache.Cache
}

func NewCatalog(api *apiclient.Client) *Catalog {
	return &Catalog{
		api:   api,
		cache: gocache.New(catalogTTL, catalogCleanup),
	}
}

// Invalidate drops all cached reference data.
func (c *Catalog) Invalidate() {
	c.cache.Flush()
}

func (c *Catalog) Odontologos(ctx context.Context) ([]*model.Odontologo, error) {
	if cached, ok := c.cache.Get(keyOdontologos); ok {
		return cached.([]*model.Odontologo), nil
	}
	var page model.OdontologoPage
	if err := c.api.Get(ctx, "/odontologos/", nil, &page); err != nil {
		return nil, err
	}
	c.cache.SetDefault(keyOdontologos, page.Results)
	return page.Results, nil
}

func (c *Catalog) Horarios(ctx context.Context) ([]*model.Horario, error) {
	if cached, ok := c.cache.Get(keyHorarios); ok {
		return cached.([]*model.Horario), nil
	}
	var page model.HorarioPage
	if err := c.api.Get(ctx, "/horarios/", nil, &page); err != nil {
		return nil, err
	}
	c.cache.SetDefault(keyHorarios, page.Results)
	return page.Results, nil
}

func (c *Catalog) TiposConsulta(ctx context.Context) ([]*model.TipoConsulta, error) {
	if cached, ok := c.cache.Get(keyTiposConsulta); ok {
		return cached.([]*model.TipoConsulta), nil
	}
	var page model.TipoConsultaPage
	if err := c.api.Get(ctx, "/tipos-consulta/", nil, &page); err != nil {
		return nil, err
	}
	c.cache.SetDefault(keyTiposConsulta, page.Results)
	return page.Results, nil
}

func (c *Catalog) Pacientes(ctx context.Context) ([]*model.Paciente, error) {
	if cached, ok := c.cache.Get(keyPacientes); ok {
		return cached.([]*model.Paciente), nil
	}
	var page model.PacientePage
	if err := c.api.Get(ctx, "/pacientes/", nil, &page); err != nil {
		return nil, err
	}
	c.cache.SetDefault(keyPacientes, page.Results)
	return page.Results, nil
}

// PacienteByCodigo resolves the patient record owned by a usuario codigo.
func (c *Catalog) PacienteByCodigo(ctx context.Context, codigo int) (*model.Paciente, error) {
	pacientes, err := c.Pacientes(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range pacientes {
		if p.CodUsuario.Codigo == codigo {
			return p, nil
		}
	}
	return nil, nil
}

// AvailableSlots fetches the free slots for a provider on a date. Never
// cached: availability is the authoritative guard and must be fresh.
func (c *Catalog) AvailableSlots(ctx context.Context, providerCodigo int, fecha string) ([]*model.Horario, error) {
	query := url.Values{}
	query.Set("fecha", fecha)
	query.Set("odontologo_id", strconv.Itoa(providerCodigo))

	var page model.HorarioPage
	if err := c.api.Get(ctx, "/horarios-disponibles/", query, &page); err != nil {
		return nil, err
	}
	return page.Results, nil
}
