package model

import "fmt"

type AppointmentStatus string

const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
)

// Wire-level estado ids used by the consultas endpoints.
const (
	EstadoAgendada   = 1
	EstadoConfirmada = 2
	EstadoCancelada  = 3
	EstadoFinalizada = 4
)

// StatusFromEstado maps a wire estado id to a status.
func StatusFromEstado(id int) AppointmentStatus {
	switch id {
	case EstadoAgendada:
		return AppointmentStatusScheduled
	case EstadoConfirmada:
		return AppointmentStatusConfirmed
	case EstadoCancelada:
		return AppointmentStatusCancelled
	case EstadoFinalizada:
		return AppointmentStatusCompleted
	}
	return ""
}

// EstadoID maps a status to its wire estado id.
func (s AppointmentStatus) EstadoID() int {
	switch s {
	case AppointmentStatusScheduled:
		return EstadoAgendada
	case AppointmentStatusConfirmed:
		return EstadoConfirmada
	case AppointmentStatusCancelled:
		return EstadoCancelada
	case AppointmentStatusCompleted:
		return EstadoFinalizada
	}
	return 0
}

// EstadoName is the display name the backend stores next to the id.
func (s AppointmentStatus) EstadoName() string {
	switch s {
	case AppointmentStatusScheduled:
		return "Agendada"
	case AppointmentStatusConfirmed:
		return "Confirmada"
	case AppointmentStatusCancelled:
		return "Cancelada"
	case AppointmentStatusCompleted:
		return "Finalizada"
	}
	return ""
}

// Terminal reports whether no further transition is accepted from s.
func (s AppointmentStatus) Terminal() bool {
	return s == AppointmentStatusCancelled || s == AppointmentStatusCompleted
}

// UsuarioRef is the embedded usuario projection inside reference entities.
type UsuarioRef struct {
	Codigo   int    `json:"codigo"`
	Nombre   string `json:"nombre"`
	Apellido string `json:"apellido"`
}

// ProviderRef references an odontólogo inside an appointment.
type ProviderRef struct {
	CodUsuario UsuarioRef `json:"codusuario"`
}

// PatientRef references a paciente inside an appointment.
type PatientRef struct {
	CodUsuario UsuarioRef `json:"codusuario"`
}

// Horario is a fixed bookable time-of-day slot.
type Horario struct {
	ID   int    `json:"id"`
	Hora string `json:"hora"`
}

// TipoConsulta is a consultation type reference entity.
type TipoConsulta struct {
	ID             int    `json:"id"`
	NombreConsulta string `json:"nombreconsulta"`
}

// Estado is the embedded status projection on the wire.
type Estado struct {
	ID     int    `json:"id"`
	Estado string `json:"estado"`
}

// Appointment is the consulta record as returned by /consultas/.
type Appointment struct {
	ID                int          `json:"id"`
	Fecha             string       `json:"fecha"` // YYYY-MM-DD
	Paciente          PatientRef   `json:"codpaciente"`
	Odontologo        ProviderRef  `json:"cododontologo"`
	Horario           Horario      `json:"idhorario"`
	TipoConsulta      TipoConsulta `json:"idtipoconsulta"`
	Estado            Estado       `json:"idestadoconsulta"`
	MotivoCancelacion string       `json:"motivo_cancelacion,omitempty"`
}

// Status returns the lifecycle status of the appointment.
func (a *Appointment) Status() AppointmentStatus {
	return StatusFromEstado(a.Estado.ID)
}

// SlotKey identifies the (provider, date, slot) tuple the appointment holds.
func (a *Appointment) SlotKey() string {
	return fmt.Sprintf("%d|%s|%d", a.Odontologo.CodUsuario.Codigo, a.Fecha, a.Horario.ID)
}

// CreateAppointmentRequest is the booking payload for POST /consultas/.
type CreateAppointmentRequest struct {
	Fecha            string `json:"fecha" binding:"required" validate:"required"`
	CodPaciente      int    `json:"codpaciente" binding:"required" validate:"required"`
	CodOdontologo    int    `json:"cododontologo" binding:"required" validate:"required"`
	IDHorario        int    `json:"idhorario" binding:"required" validate:"required"`
	IDTipoConsulta   int    `json:"idtipoconsulta" binding:"required" validate:"required"`
	IDEstadoConsulta int    `json:"idestadoconsulta"`
}

// UpdateAppointmentRequest is the PATCH /consultas/{id}/ payload. Only the
// status transition (confirm) travels this way.
type UpdateAppointmentRequest struct {
	IDEstadoConsulta int `json:"idestadoconsulta" binding:"required" validate:"required"`
}

// CancelAppointmentRequest is the POST /consultas/{id}/cancelar/ payload.
type CancelAppointmentRequest struct {
	Motivo string `json:"motivo,omitempty" validate:"max=500"`
}

// RescheduleAppointmentRequest is the PATCH /consultas/{id}/reprogramar/ payload.
type RescheduleAppointmentRequest struct {
	Fecha     string `json:"fecha" binding:"required" validate:"required"`
	IDHorario int    `json:"idhorario" binding:"required" validate:"required"`
}

// AppointmentPage is a DRF-style paginated consultas response.
type AppointmentPage struct {
	Count   int            `json:"count"`
	Results []*Appointment `json:"results"`
}
