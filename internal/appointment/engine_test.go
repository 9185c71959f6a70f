package appointment

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitwo-project/clinic-portal/internal/apiclient"
	"github.com/sitwo-project/clinic-portal/internal/model"
	"github.com/sitwo-project/clinic-portal/internal/session"
	"github.com/sitwo-project/clinic-portal/internal/stubserver"
	apperrors "github.com/sitwo-project/clinic-portal/pkg/errors"
	"github.com/sitwo-project/clinic-portal/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ErrorLevel,
		TimeFormat: time.RFC3339,
		Output:     io.Discard,
	})
}

type fakeSessions struct {
	snap session.Snapshot
}

func (f *fakeSessions) Snapshot() session.Snapshot { return f.snap }

// actor bundles one authenticated client against the shared stub backend.
type actor struct {
	api      *apiclient.Client
	sessions *fakeSessions
	engine   *Engine
}

func newClinic(t *testing.T) (*stubserver.Server, string) {
	t.Helper()
	srv := stubserver.New(stubserver.Config{}, testLogger())
	ts := httptest.NewServer(srv.Engine())
	t.Cleanup(ts.Close)
	return srv, ts.URL
}

func loginAs(t *testing.T, baseURL, email, password string) *actor {
	t.Helper()
	log := testLogger()
	api, err := apiclient.New(apiclient.Config{BaseURL: baseURL}, log, nil)
	require.NoError(t, err)

	ctx := context.Background()
	var resp model.LoginResponse
	req := model.LoginRequest{Email: email, Password: password}
	require.NoError(t, api.Post(ctx, "/auth/login/", &req, &resp))
	require.NotEmpty(t, resp.Token)
	api.SetToken(resp.Token)

	sessions := &fakeSessions{snap: session.Snapshot{
		Status:   session.StatusAuthenticated,
		Token:    resp.Token,
		Identity: model.MergeIdentity(resp.User, resp.Usuario),
	}}
	return &actor{
		api:      api,
		sessions: sessions,
		engine:   NewEngine(api, sessions, NewCatalog(api), log),
	}
}

const (
	providerCodigo = 3
	bookingDate    = "2027-03-10"
)

func TestCreateBooksSlot(t *testing.T) {
	_, url := newClinic(t)
	patient := loginAs(t, url, "paciente@clinica.test", "paciente-secret")

	apt, err := patient.engine.Create(context.Background(), providerCodigo, bookingDate, 1, 1)
	require.NoError(t, err)

	assert.Equal(t, model.AppointmentStatusScheduled, apt.Status())
	assert.Equal(t, bookingDate, apt.Fecha)
	assert.Equal(t, 2, apt.Paciente.CodUsuario.Codigo)
	assert.Equal(t, providerCodigo, apt.Odontologo.CodUsuario.Codigo)
	assert.Equal(t, "09:00", apt.Horario.Hora)
}

func TestCreateConflictOnHeldSlot(t *testing.T) {
	_, url := newClinic(t)
	first := loginAs(t, url, "paciente@clinica.test", "paciente-secret")
	second := loginAs(t, url, "paciente2@clinica.test", "paciente-secret2")
	ctx := context.Background()

	_, err := first.engine.Create(ctx, providerCodigo, bookingDate, 2, 1)
	require.NoError(t, err)

	_, err = second.engine.Create(ctx, providerCodigo, bookingDate, 2, 1)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestCreateRejectedForStaff(t *testing.T) {
	_, url := newClinic(t)
	admin := loginAs(t, url, "admin@clinica.test", "admin-secret-1")

	_, err := admin.engine.Create(context.Background(), providerCodigo, bookingDate, 1, 1)
	require.Error(t, err)
	assert.True(t, apperrors.CodeOf(err) == apperrors.ErrPermission)
}

func TestCreateRequiresSession(t *testing.T) {
	_, url := newClinic(t)
	log := testLogger()
	api, err := apiclient.New(apiclient.Config{BaseURL: url}, log, nil)
	require.NoError(t, err)

	sessions := &fakeSessions{snap: session.Snapshot{Status: session.StatusAnonymous}}
	engine := NewEngine(api, sessions, NewCatalog(api), log)

	_, err = engine.Create(context.Background(), providerCodigo, bookingDate, 1, 1)
	require.Error(t, err)
	assert.True(t, apperrors.IsAuthentication(err))
}

func TestConfirmTransitionsToConfirmed(t *testing.T) {
	_, url := newClinic(t)
	patient := loginAs(t, url, "paciente@clinica.test", "paciente-secret")
	provider := loginAs(t, url, "odontologa@clinica.test", "odonto-secret-1")
	ctx := context.Background()

	apt, err := patient.engine.Create(ctx, providerCodigo, bookingDate, 3, 1)
	require.NoError(t, err)

	require.NoError(t, provider.engine.Confirm(ctx, apt.ID))

	page, err := provider.engine.ListAll(ctx, 1)
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, model.AppointmentStatusConfirmed, page.Results[0].Status())
}

func TestConfirmTwiceIsNoOp(t *testing.T) {
	_, url := newClinic(t)
	patient := loginAs(t, url, "paciente@clinica.test", "paciente-secret")
	reception := loginAs(t, url, "recepcion@clinica.test", "recep-secret-1")
	ctx := context.Background()

	apt, err := patient.engine.Create(ctx, providerCodigo, bookingDate, 4, 1)
	require.NoError(t, err)

	require.NoError(t, reception.engine.Confirm(ctx, apt.ID))
	require.NoError(t, reception.engine.Confirm(ctx, apt.ID))
}

func TestPatientCannotConfirm(t *testing.T) {
	_, url := newClinic(t)
	patient := loginAs(t, url, "paciente@clinica.test", "paciente-secret")
	ctx := context.Background()

	apt, err := patient.engine.Create(ctx, providerCodigo, bookingDate, 5, 1)
	require.NoError(t, err)

	err = patient.engine.Confirm(ctx, apt.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsPermission(err))
}

func TestCancelReleasesSlot(t *testing.T) {
	_, url := newClinic(t)
	patient := loginAs(t, url, "paciente@clinica.test", "paciente-secret")
	other := loginAs(t, url, "paciente2@clinica.test", "paciente-secret2")
	ctx := context.Background()

	apt, err := patient.engine.Create(ctx, providerCodigo, bookingDate, 6, 1)
	require.NoError(t, err)

	require.NoError(t, patient.engine.Cancel(ctx, apt.ID, "conflicto de agenda"))

	// The freed tuple must be bookable again.
	_, err = other.engine.Create(ctx, providerCodigo, bookingDate, 6, 1)
	require.NoError(t, err)
}

func TestCancelTerminalIsConflict(t *testing.T) {
	_, url := newClinic(t)
	patient := loginAs(t, url, "paciente@clinica.test", "paciente-secret")
	ctx := context.Background()

	apt, err := patient.engine.Create(ctx, providerCodigo, bookingDate, 7, 1)
	require.NoError(t, err)

	require.NoError(t, patient.engine.Cancel(ctx, apt.ID, ""))

	err = patient.engine.Cancel(ctx, apt.ID, "")
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestCancelReasonTooLong(t *testing.T) {
	_, url := newClinic(t)
	patient := loginAs(t, url, "paciente@clinica.test", "paciente-secret")

	err := patient.engine.Cancel(context.Background(), 1, strings.Repeat("x", 501))
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Contains(t, apperrors.FieldsOf(err), "motivo")
}

func TestCancelOtherPatientsAppointmentRejected(t *testing.T) {
	_, url := newClinic(t)
	patient := loginAs(t, url, "paciente@clinica.test", "paciente-secret")
	other := loginAs(t, url, "paciente2@clinica.test", "paciente-secret2")
	ctx := context.Background()

	apt, err := patient.engine.Create(ctx, providerCodigo, bookingDate, 8, 1)
	require.NoError(t, err)

	err = other.engine.Cancel(ctx, apt.ID, "")
	require.Error(t, err)
	assert.True(t, apperrors.IsPermission(err))
}

func TestRescheduleMovesInPlace(t *testing.T) {
	_, url := newClinic(t)
	patient := loginAs(t, url, "paciente@clinica.test", "paciente-secret")
	reception := loginAs(t, url, "recepcion@clinica.test", "recep-secret-1")
	ctx := context.Background()

	apt, err := patient.engine.Create(ctx, providerCodigo, bookingDate, 1, 1)
	require.NoError(t, err)
	require.NoError(t, reception.engine.Confirm(ctx, apt.ID))

	require.NoError(t, patient.engine.Reschedule(ctx, apt.ID, "2027-03-11", 2))

	list, _, err := patient.engine.ListMine(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, apt.ID, list[0].ID, "rescheduling must keep the same id")
	assert.Equal(t, "2027-03-11", list[0].Fecha)
	assert.Equal(t, model.AppointmentStatusScheduled, list[0].Status(), "rescheduling reverts to scheduled")
}

func TestRescheduleOntoOwnSlotSucceeds(t *testing.T) {
	_, url := newClinic(t)
	patient := loginAs(t, url, "paciente@clinica.test", "paciente-secret")
	ctx := context.Background()

	apt, err := patient.engine.Create(ctx, providerCodigo, bookingDate, 1, 1)
	require.NoError(t, err)

	assert.NoError(t, patient.engine.Reschedule(ctx, apt.ID, bookingDate, 1))
}

func TestRescheduleIntoHeldSlotIsConflict(t *testing.T) {
	_, url := newClinic(t)
	patient := loginAs(t, url, "paciente@clinica.test", "paciente-secret")
	other := loginAs(t, url, "paciente2@clinica.test", "paciente-secret2")
	ctx := context.Background()

	apt, err := patient.engine.Create(ctx, providerCodigo, bookingDate, 1, 1)
	require.NoError(t, err)
	_, err = other.engine.Create(ctx, providerCodigo, bookingDate, 2, 1)
	require.NoError(t, err)

	err = patient.engine.Reschedule(ctx, apt.ID, bookingDate, 2)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestListMineOrdersByDateDescending(t *testing.T) {
	_, url := newClinic(t)
	patient := loginAs(t, url, "paciente@clinica.test", "paciente-secret")
	ctx := context.Background()

	_, err := patient.engine.Create(ctx, providerCodigo, "2027-03-10", 1, 1)
	require.NoError(t, err)
	_, err = patient.engine.Create(ctx, providerCodigo, "2027-03-12", 2, 1)
	require.NoError(t, err)
	_, err = patient.engine.Create(ctx, providerCodigo, "2027-03-12", 1, 1)
	require.NoError(t, err)

	list, _, err := patient.engine.ListMine(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)

	assert.Equal(t, "2027-03-12", list[0].Fecha)
	assert.Equal(t, "10:00", list[0].Horario.Hora)
	assert.Equal(t, "2027-03-12", list[1].Fecha)
	assert.Equal(t, "09:00", list[1].Horario.Hora)
	assert.Equal(t, "2027-03-10", list[2].Fecha)
}

func TestListMineExcludesOtherPatients(t *testing.T) {
	_, url := newClinic(t)
	patient := loginAs(t, url, "paciente@clinica.test", "paciente-secret")
	other := loginAs(t, url, "paciente2@clinica.test", "paciente-secret2")
	ctx := context.Background()

	_, err := patient.engine.Create(ctx, providerCodigo, bookingDate, 1, 1)
	require.NoError(t, err)
	_, err = other.engine.Create(ctx, providerCodigo, bookingDate, 2, 1)
	require.NoError(t, err)

	list, _, err := patient.engine.ListMine(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Paciente.CodUsuario.Codigo)
}

func TestStaleCleanupNoticeShownOnce(t *testing.T) {
	srv, url := newClinic(t)
	patient := loginAs(t, url, "paciente@clinica.test", "paciente-secret")
	ctx := context.Background()

	_, err := patient.engine.Create(ctx, providerCodigo, bookingDate, 1, 1)
	require.NoError(t, err)

	// First refresh records the baseline; nothing was pruned yet.
	list, notice, err := patient.engine.ListMine(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, notice)

	// Move the backend clock past the slot so the entry goes stale.
	srv.SetClock(func() time.Time {
		return time.Date(2027, 3, 11, 8, 0, 0, 0, time.Local)
	})

	list, notice, err = patient.engine.ListMine(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	require.NotNil(t, notice)
	assert.Equal(t, 1, notice.Removed)
	assert.NotEmpty(t, notice.Message)

	// The notice is informational and must not repeat.
	_, notice, err = patient.engine.ListMine(ctx)
	require.NoError(t, err)
	assert.Nil(t, notice)
}

func TestCancellationDoesNotTriggerStaleNotice(t *testing.T) {
	_, url := newClinic(t)
	patient := loginAs(t, url, "paciente@clinica.test", "paciente-secret")
	ctx := context.Background()

	apt, err := patient.engine.Create(ctx, providerCodigo, bookingDate, 1, 1)
	require.NoError(t, err)

	_, notice, err := patient.engine.ListMine(ctx)
	require.NoError(t, err)
	assert.Nil(t, notice)

	require.NoError(t, patient.engine.Cancel(ctx, apt.ID, "ya no puedo asistir"))

	// The client accounted for its own cancellation; no notice.
	_, notice, err = patient.engine.ListMine(ctx)
	require.NoError(t, err)
	assert.Nil(t, notice)
}

func TestStaffCancellationDoesNotTriggerStaleNotice(t *testing.T) {
	_, url := newClinic(t)
	patient := loginAs(t, url, "paciente@clinica.test", "paciente-secret")
	reception := loginAs(t, url, "recepcion@clinica.test", "recep-secret-1")
	ctx := context.Background()

	apt, err := patient.engine.Create(ctx, providerCodigo, bookingDate, 1, 1)
	require.NoError(t, err)

	_, notice, err := patient.engine.ListMine(ctx)
	require.NoError(t, err)
	assert.Nil(t, notice)

	// A cancellation by another actor leaves the record in the list with a
	// terminal status; it must not read as a backend prune.
	require.NoError(t, reception.engine.Cancel(ctx, apt.ID, "clinic closed that day"))

	list, notice, err := patient.engine.ListMine(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.AppointmentStatusCancelled, list[0].Status())
	assert.Nil(t, notice)
}

func TestListAllDeniedToPatients(t *testing.T) {
	_, url := newClinic(t)
	patient := loginAs(t, url, "paciente@clinica.test", "paciente-secret")
	admin := loginAs(t, url, "admin@clinica.test", "admin-secret-1")
	ctx := context.Background()

	_, err := patient.engine.Create(ctx, providerCodigo, bookingDate, 1, 1)
	require.NoError(t, err)

	_, err = patient.engine.ListAll(ctx, 1)
	require.Error(t, err)
	assert.True(t, apperrors.IsPermission(err))

	page, err := admin.engine.ListAll(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Count)

	provider := loginAs(t, url, "odontologa@clinica.test", "odonto-secret-1")
	page, err = provider.engine.ListAll(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Count)
}

func TestAvailableSlotsExcludeBooked(t *testing.T) {
	_, url := newClinic(t)
	patient := loginAs(t, url, "paciente@clinica.test", "paciente-secret")
	ctx := context.Background()

	before, err := patient.engine.AvailableSlots(ctx, providerCodigo, bookingDate)
	require.NoError(t, err)
	require.Len(t, before, 8)

	_, err = patient.engine.Create(ctx, providerCodigo, bookingDate, 1, 1)
	require.NoError(t, err)

	after, err := patient.engine.AvailableSlots(ctx, providerCodigo, bookingDate)
	require.NoError(t, err)
	require.Len(t, after, 7)
	for _, h := range after {
		assert.NotEqual(t, 1, h.ID)
	}
}
