package stubserver

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sitwo-project/clinic-portal/internal/model"
	"github.com/sitwo-project/clinic-portal/pkg/security"
)

var (
	errNotFound   = errors.New("consulta not found")
	errSlotTaken  = errors.New("slot already booked")
	errTerminal   = errors.New("consulta is in a terminal state")
	errNotOwner   = errors.New("consulta belongs to another patient")
	errNoPaciente = errors.New("paciente not found")
)

type account struct {
	user         model.User
	usuario      model.Usuario
	passwordHash string
}

type consulta struct {
	id             int
	fecha          string // YYYY-MM-DD
	codPaciente    int
	codOdontologo  int
	idHorario      int
	idTipoConsulta int
	estadoID       int
	motivo         string
}

// Data is the in-memory backing state of the stub backend. It enforces the
// authoritative guards the client defers to: slot uniqueness, terminal
// states, ownership, and stale pruning on list.
type Data struct {
	mu sync.Mutex

	accounts  map[string]*account // by email
	byCodigo  map[int]*account
	pacientes []*model.Paciente
	horarios  []*model.Horario
	tipos     []*model.TipoConsulta
	consultas map[int]*consulta
	nextID    int

	now func() time.Time
}

func NewData(hasher security.PasswordHasher) *Data {
	d := &Data{
		accounts:  make(map[string]*account),
		byCodigo:  make(map[int]*account),
		consultas: make(map[int]*consulta),
		nextID:    1,
		now:       time.Now,
	}
	d.seed(hasher)
	return d
}

func strptr(s string) *string { return &s }

func (d *Data) seed(hasher security.PasswordHasher) {
	for i, h := range []string{"09:00", "10:00", "11:00", "12:00", "14:00", "15:00", "16:00", "17:00"} {
		d.horarios = append(d.horarios, &model.Horario{ID: i + 1, Hora: h})
	}
	d.tipos = []*model.TipoConsulta{
		{ID: 1, NombreConsulta: "Limpieza"},
		{ID: 2, NombreConsulta: "Ortodoncia"},
		{ID: 3, NombreConsulta: "Extracción"},
		{ID: 4, NombreConsulta: "Control"},
	}

	seedUsers := []struct {
		codigo   int
		nombre   string
		apellido string
		email    string
		subtipo  string
		tipoID   int
		password string
	}{
		{1, "Alma", "Rojas", "admin@clinica.test", "administrador", 1, "admin-secret-1"},
		{2, "Pedro", "Ibanez", "paciente@clinica.test", "paciente", 2, "paciente-secret"},
		{3, "Diana", "Mendez", "odontologa@clinica.test", "odontologo", 3, "odonto-secret-1"},
		{4, "Rita", "Flores", "recepcion@clinica.test", "recepcionista", 4, "recep-secret-1"},
		{5, "Quima", "Soliz", "paciente2@clinica.test", "paciente", 2, "paciente-secret2"},
	}

	for _, u := range seedUsers {
		hash, _ := hasher.Hash(u.password)
		acc := &account{
			user: model.User{
				ID:        u.codigo,
				Email:     u.email,
				FirstName: u.nombre,
				LastName:  u.apellido,
				IsActive:  true,
			},
			usuario: model.Usuario{
				Codigo:                u.codigo,
				Nombre:                u.nombre,
				Apellido:              u.apellido,
				Telefono:              strptr("555-0100"),
				Subtipo:               u.subtipo,
				IDTipoUsuario:         u.tipoID,
				RecibirNotificaciones: true,
			},
			passwordHash: hash,
		}
		d.accounts[u.email] = acc
		d.byCodigo[u.codigo] = acc

		switch u.subtipo {
		case "paciente":
			d.pacientes = append(d.pacientes, &model.Paciente{
				CarnetIdentidad: fmt.Sprintf("CI-%04d", u.codigo),
				Direccion:       "Av. Siempre Viva 123",
				FechaNacimiento: "1990-01-01",
				CodUsuario:      model.UsuarioRef{Codigo: u.codigo, Nombre: u.nombre, Apellido: u.apellido},
			})
		}
	}
}

func (d *Data) authenticate(email, password string, hasher security.PasswordHasher) (*account, bool) {
	d.mu.Lock()
	acc, ok := d.accounts[email]
	d.mu.Unlock()
	if !ok {
		return nil, false
	}
	if err := hasher.Compare(acc.passwordHash, password); err != nil {
		return nil, false
	}
	return acc, true
}

func (d *Data) accountByCodigo(codigo int) (*account, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	acc, ok := d.byCodigo[codigo]
	return acc, ok
}

func (d *Data) setNotifications(codigo int, enabled bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	acc, ok := d.byCodigo[codigo]
	if !ok {
		return false
	}
	acc.usuario.RecibirNotificaciones = enabled
	return true
}

func (d *Data) pacienteByCodigo(codigo int) (*model.Paciente, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.pacientes {
		if p.CodUsuario.Codigo == codigo {
			return p, true
		}
	}
	return nil, false
}

// slotHeld reports whether a non-cancelled consulta other than exclID holds
// the (odontologo, fecha, horario) tuple. Caller holds d.mu.
func (d *Data) slotHeld(codOdontologo int, fecha string, idHorario, exclID int) bool {
	for _, c := range d.consultas {
		if c.id == exclID {
			continue
		}
		if c.codOdontologo == codOdontologo && c.fecha == fecha && c.idHorario == idHorario &&
			c.estadoID != model.EstadoCancelada {
			return true
		}
	}
	return false
}

func (d *Data) createConsulta(req *model.CreateAppointmentRequest) (*consulta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	found := false
	for _, p := range d.pacientes {
		if p.CodUsuario.Codigo == req.CodPaciente {
			found = true
			break
		}
	}
	if !found {
		return nil, errNoPaciente
	}

	if d.slotHeld(req.CodOdontologo, req.Fecha, req.IDHorario, 0) {
		return nil, errSlotTaken
	}

	c := &consulta{
		id:             d.nextID,
		fecha:          req.Fecha,
		codPaciente:    req.CodPaciente,
		codOdontologo:  req.CodOdontologo,
		idHorario:      req.IDHorario,
		idTipoConsulta: req.IDTipoConsulta,
		estadoID:       model.EstadoAgendada,
	}
	d.nextID++
	d.consultas[c.id] = c
	return c, nil
}

func (d *Data) confirmConsulta(id int) (*consulta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.consultas[id]
	if !ok {
		return nil, errNotFound
	}
	switch c.estadoID {
	case model.EstadoConfirmada:
		return c, nil // double confirm tolerated
	case model.EstadoCancelada, model.EstadoFinalizada:
		return nil, errTerminal
	}
	c.estadoID = model.EstadoConfirmada
	return c, nil
}

func (d *Data) cancelConsulta(id int, motivo string, actor *account) (*consulta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.consultas[id]
	if !ok {
		return nil, errNotFound
	}
	if actor.usuario.Subtipo == "paciente" && c.codPaciente != actor.usuario.Codigo {
		return nil, errNotOwner
	}
	if c.estadoID == model.EstadoCancelada || c.estadoID == model.EstadoFinalizada {
		return nil, errTerminal
	}
	c.estadoID = model.EstadoCancelada
	c.motivo = motivo
	return c, nil
}

func (d *Data) rescheduleConsulta(id int, fecha string, idHorario int, actor *account) (*consulta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.consultas[id]
	if !ok {
		return nil, errNotFound
	}
	if actor.usuario.Subtipo == "paciente" && c.codPaciente != actor.usuario.Codigo {
		return nil, errNotOwner
	}
	if c.estadoID == model.EstadoCancelada || c.estadoID == model.EstadoFinalizada {
		return nil, errTerminal
	}
	if d.slotHeld(c.codOdontologo, fecha, idHorario, c.id) {
		return nil, errSlotTaken
	}

	// The old slot is released and the new one claimed in the same critical
	// section; the record keeps its id and reverts to Agendada.
	c.fecha = fecha
	c.idHorario = idHorario
	c.estadoID = model.EstadoAgendada
	return c, nil
}

// listConsultas prunes stale entries, then returns the remaining ones,
// optionally filtered by patient. A consulta whose slot time has passed
// without reaching a terminal state is removed outright.
func (d *Data) listConsultas(codPaciente int) []*consulta {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, c := range d.consultas {
		if c.estadoID != model.EstadoAgendada && c.estadoID != model.EstadoConfirmada {
			continue
		}
		if end, err := d.slotTime(c); err == nil && end.Before(now) {
			delete(d.consultas, id)
		}
	}

	out := make([]*consulta, 0, len(d.consultas))
	for _, c := range d.consultas {
		if codPaciente != 0 && c.codPaciente != codPaciente {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (d *Data) slotTime(c *consulta) (time.Time, error) {
	hora := ""
	for _, h := range d.horarios {
		if h.ID == c.idHorario {
			hora = h.Hora
			break
		}
	}
	return time.ParseInLocation("2006-01-02 15:04", c.fecha+" "+hora, time.Local)
}

func (d *Data) availableSlots(codOdontologo int, fecha string) []*model.Horario {
	d.mu.Lock()
	defer d.mu.Unlock()

	free := make([]*model.Horario, 0, len(d.horarios))
	for _, h := range d.horarios {
		if !d.slotHeldLocked(codOdontologo, fecha, h.ID) {
			free = append(free, h)
		}
	}
	return free
}

func (d *Data) slotHeldLocked(codOdontologo int, fecha string, idHorario int) bool {
	return d.slotHeld(codOdontologo, fecha, idHorario, 0)
}

func (d *Data) odontologos() []*model.Odontologo {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := []*model.Odontologo{}
	for _, acc := range d.byCodigo {
		if acc.usuario.Subtipo == "odontologo" {
			out = append(out, &model.Odontologo{
				CodUsuario: model.UsuarioRef{
					Codigo:   acc.usuario.Codigo,
					Nombre:   acc.usuario.Nombre,
					Apellido: acc.usuario.Apellido,
				},
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CodUsuario.Codigo < out[j].CodUsuario.Codigo })
	return out
}

// render projects a consulta into the nested wire shape.
func (d *Data) render(c *consulta) *model.Appointment {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.renderLocked(c)
}

func (d *Data) renderLocked(c *consulta) *model.Appointment {
	apt := &model.Appointment{
		ID:                c.id,
		Fecha:             c.fecha,
		MotivoCancelacion: c.motivo,
	}

	if acc, ok := d.byCodigo[c.codPaciente]; ok {
		apt.Paciente = model.PatientRef{CodUsuario: model.UsuarioRef{
			Codigo: acc.usuario.Codigo, Nombre: acc.usuario.Nombre, Apellido: acc.usuario.Apellido,
		}}
	}
	if acc, ok := d.byCodigo[c.codOdontologo]; ok {
		apt.Odontologo = model.ProviderRef{CodUsuario: model.UsuarioRef{
			Codigo: acc.usuario.Codigo, Nombre: acc.usuario.Nombre, Apellido: acc.usuario.Apellido,
		}}
	}
	for _, h := range d.horarios {
		if h.ID == c.idHorario {
			apt.Horario = *h
			break
		}
	}
	for _, t := range d.tipos {
		if t.ID == c.idTipoConsulta {
			apt.TipoConsulta = *t
			break
		}
	}

	status := model.StatusFromEstado(c.estadoID)
	apt.Estado = model.Estado{ID: c.estadoID, Estado: status.EstadoName()}
	return apt
}
