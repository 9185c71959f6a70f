// Package appointment implements the booking workflow: create, confirm,
// cancel and reschedule, with the availability guard and the stale cleanup
// reconciliation. The server-side guard stays authoritative; client-side
// checks only produce earlier, friendlier failures.
package appointment

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"

	"github.com/sitwo-project/clinic-portal/internal/apiclient"
	"github.com/sitwo-project/clinic-portal/internal/model"
	"github.com/sitwo-project/clinic-portal/internal/session"
	apperrors "github.com/sitwo-project/clinic-portal/pkg/errors"
	"github.com/sitwo-project/clinic-portal/pkg/logger"
)

const maxCancelReasonLen = 500

// Notice is a one-time informational message surfaced when a list refresh
// shows the backend pruned stale appointments, as opposed to a cancellation
// the user performed.
type Notice struct {
	Removed int
	Message string
}

// SessionSource provides the acting identity. Satisfied by
// *session.Manager and by test fakes.
type SessionSource interface {
	Snapshot() session.Snapshot
}

// Engine drives the appointment lifecycle for the acting identity.
type Engine struct {
	api      *apiclient.Client
	sessions SessionSource
	catalog  *Catalog
	logger   *logger.Logger

	mu         sync.Mutex
	activeSeen map[int]map[int]struct{} // patient codigo -> active appointment ids at last observation
}

func NewEngine(api *apiclient.Client, sessions SessionSource, catalog *Catalog, log *logger.Logger) *Engine {
	return &Engine{
		api:        api,
		sessions:   sessions,
		catalog:    catalog,
		logger:     log.WithComponent("appointment"),
		activeSeen: make(map[int]map[int]struct{}),
	}
}

func (e *Engine) actor() (session.Snapshot, error) {
	snap := e.sessions.Snapshot()
	if !snap.Authenticated() {
		return snap, apperrors.Authentication("no active session", nil)
	}
	return snap, nil
}

// Create books a slot for the acting patient. Patients book only for
// themselves; the patient record is resolved from the session identity.
func (e *Engine) Create(ctx context.Context, providerCodigo int, fecha string, horarioID, tipoConsultaID int) (*model.Appointment, error) {
	snap, err := e.actor()
	if err != nil {
		return nil, err
	}
	if snap.Identity.Role() != model.RolePatient {
		return nil, apperrors.Permission("only patients book through this flow; staff manage the clinic agenda")
	}

	paciente, err := e.catalog.PacienteByCodigo(ctx, snap.Identity.Codigo)
	if err != nil {
		return nil, err
	}
	if paciente == nil {
		return nil, apperrors.NotFound("patient record for this account")
	}

	if err := e.checkSlotFree(ctx, providerCodigo, fecha, horarioID); err != nil {
		return nil, err
	}

	req := model.CreateAppointmentRequest{
		Fecha:            fecha,
		CodPaciente:      paciente.CodUsuario.Codigo,
		CodOdontologo:    providerCodigo,
		IDHorario:        horarioID,
		IDTipoConsulta:   tipoConsultaID,
		IDEstadoConsulta: model.EstadoAgendada,
	}

	var created model.Appointment
	if err := e.api.Post(ctx, "/consultas/", &req, &created); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if seen, ok := e.activeSeen[snap.Identity.Codigo]; ok {
		seen[created.ID] = struct{}{}
	}
	e.mu.Unlock()

	e.logger.Info("appointment booked", "id", created.ID, "fecha", created.Fecha)
	return &created, nil
}

// checkSlotFree is the client-side availability precheck. The server re-runs
// the same guard on write; this only avoids a doomed round trip.
func (e *Engine) checkSlotFree(ctx context.Context, providerCodigo int, fecha string, horarioID int) error {
	slots, err := e.catalog.AvailableSlots(ctx, providerCodigo, fecha)
	if err != nil {
		// Availability lookup failing must not block the booking attempt;
		// the server guard is authoritative.
		e.logger.Warn("availability precheck skipped", "fecha", fecha)
		return nil
	}
	for _, s := range slots {
		if s.ID == horarioID {
			return nil
		}
	}
	return apperrors.Conflict("the selected slot is no longer available")
}

// Confirm transitions Scheduled to Confirmed. Confirming an appointment that
// is already Confirmed is a no-op success so a double-click never errors.
func (e *Engine) Confirm(ctx context.Context, id int) error {
	snap, err := e.actor()
	if err != nil {
		return err
	}
	if !snap.Identity.Role().CanConfirm() {
		return apperrors.Permission("patients cannot confirm appointments")
	}

	req := model.UpdateAppointmentRequest{IDEstadoConsulta: model.EstadoConfirmada}
	return e.api.Patch(ctx, fmt.Sprintf("/consultas/%d/", id), &req, nil)
}

// Cancel moves an appointment to Cancelled with an optional audit reason.
// Permitted for the owning patient and for staff; a terminal appointment
// yields a conflict.
func (e *Engine) Cancel(ctx context.Context, id int, reason string) error {
	snap, err := e.actor()
	if err != nil {
		return err
	}
	role := snap.Identity.Role()
	if role != model.RolePatient && !role.IsStaff() {
		return apperrors.Permission("this role cannot cancel appointments")
	}
	if len(reason) > maxCancelReasonLen {
		return apperrors.Validation("", map[string]string{
			"motivo": fmt.Sprintf("must not exceed %d characters", maxCancelReasonLen),
		})
	}

	req := model.CancelAppointmentRequest{Motivo: reason}
	if err := e.api.Post(ctx, fmt.Sprintf("/consultas/%d/cancelar/", id), &req, nil); err != nil {
		return err
	}

	e.mu.Lock()
	if seen, ok := e.activeSeen[snap.Identity.Codigo]; ok {
		delete(seen, id)
	}
	e.mu.Unlock()

	e.logger.Info("appointment cancelled", "id", id)
	return nil
}

// Reschedule moves an appointment to a new date/slot in place, preserving
// its id and history. The server excludes the appointment's own current
// tuple from the conflict check, so rescheduling onto itself succeeds.
func (e *Engine) Reschedule(ctx context.Context, id int, fecha string, horarioID int) error {
	snap, err := e.actor()
	if err != nil {
		return err
	}
	role := snap.Identity.Role()
	if role != model.RolePatient && !role.IsStaff() {
		return apperrors.Permission("this role cannot reschedule appointments")
	}

	req := model.RescheduleAppointmentRequest{Fecha: fecha, IDHorario: horarioID}
	if err := e.api.Patch(ctx, fmt.Sprintf("/consultas/%d/reprogramar/", id), &req, nil); err != nil {
		return err
	}

	e.logger.Info("appointment rescheduled", "id", id, "fecha", fecha)
	return nil
}

// ListMine returns the acting patient's appointments ordered by date
// descending, plus a one-time notice when the backend pruned stale entries
// since the previous refresh.
func (e *Engine) ListMine(ctx context.Context) ([]*model.Appointment, *Notice, error) {
	snap, err := e.actor()
	if err != nil {
		return nil, nil, err
	}

	query := url.Values{}
	query.Set("codpaciente", strconv.Itoa(snap.Identity.Codigo))

	var page model.AppointmentPage
	if err := e.api.Get(ctx, "/consultas/", query, &page); err != nil {
		return nil, nil, err
	}

	results := page.Results
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Fecha != results[j].Fecha {
			return results[i].Fecha > results[j].Fecha
		}
		return results[i].Horario.Hora > results[j].Horario.Hora
	})

	notice := e.reconcile(snap.Identity.Codigo, results)
	return results, notice, nil
}

// reconcile compares the freshly fetched list against the active ids this
// client last observed. Only ids that vanished from the list entirely count
// as pruned; an appointment still present with a terminal status was
// cancelled or completed, not removed by the backend cleanup.
func (e *Engine) reconcile(codigo int, results []*model.Appointment) *Notice {
	present := make(map[int]struct{}, len(results))
	active := make(map[int]struct{})
	for _, apt := range results {
		present[apt.ID] = struct{}{}
		if !apt.Status().Terminal() {
			active[apt.ID] = struct{}{}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prev, seen := e.activeSeen[codigo]
	e.activeSeen[codigo] = active

	if !seen {
		return nil
	}
	removed := 0
	for id := range prev {
		if _, ok := present[id]; !ok {
			removed++
		}
	}
	if removed == 0 {
		return nil
	}
	e.logger.Info("stale appointments pruned by backend", "removed", removed)
	return &Notice{
		Removed: removed,
		Message: fmt.Sprintf("%d past appointment(s) were resolved automatically", removed),
	}
}

// ListAll returns a page of the clinic-wide agenda. Staff only.
func (e *Engine) ListAll(ctx context.Context, pageNum int) (*model.AppointmentPage, error) {
	snap, err := e.actor()
	if err != nil {
		return nil, err
	}
	if !snap.Identity.Role().IsStaff() && snap.Identity.Role() != model.RoleProvider {
		return nil, apperrors.Permission("the clinic agenda is restricted to staff")
	}

	query := url.Values{}
	if pageNum > 1 {
		query.Set("page", strconv.Itoa(pageNum))
	}

	var page model.AppointmentPage
	if err := e.api.Get(ctx, "/consultas/", query, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// AvailableSlots exposes the availability lookup for selection inputs.
func (e *Engine) AvailableSlots(ctx context.Context, providerCodigo int, fecha string) ([]*model.Horario, error) {
	if _, err := e.actor(); err != nil {
		return nil, err
	}
	return e.catalog.AvailableSlots(ctx, providerCodigo, fecha)
}
