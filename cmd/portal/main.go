package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/sitwo-project/clinic-portal/config"
	"github.com/sitwo-project/clinic-portal/internal/apiclient"
	"github.com/sitwo-project/clinic-portal/internal/appointment"
	"github.com/sitwo-project/clinic-portal/internal/gate"
	"github.com/sitwo-project/clinic-portal/internal/model"
	"github.com/sitwo-project/clinic-portal/internal/session"
	"github.com/sitwo-project/clinic-portal/internal/store"
	apperrors "github.com/sitwo-project/clinic-portal/pkg/errors"
	"github.com/sitwo-project/clinic-portal/pkg/logger"
	"github.com/sitwo-project/clinic-portal/pkg/metrics"
)

const usage = `usage: portal <command> [args]

commands:
  login <email> <password>        sign in and persist the session
  logout                          sign out and clear persisted state
  whoami                          show the current identity
  settings <on|off>               toggle notification preference
  book -odontologo N -fecha D -horario N -tipo N
  mine                            list my appointments
  agenda [-page N]                list the clinic agenda (staff)
  confirm <id>                    confirm an appointment (staff)
  cancel <id> [reason]            cancel an appointment
  reschedule <id> <fecha> <horario>
  slots -odontologo N -fecha D    list free slots
`

type app struct {
	sessions *session.Manager
	engine   *appointment.Engine
	catalog  *appointment.Catalog
	gate     *gate.Gate
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLog := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stderr,
	})

	st, err := buildStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open token store")
	}

	api, err := apiclient.New(apiclient.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
	}, appLog, metrics.NewClientMetrics("portal", prometheus.DefaultRegisterer))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build API client")
	}

	sessions := session.NewManager(api, st, appLog)
	catalog := appointment.NewCatalog(api)
	a := &app{
		sessions: sessions,
		engine:   appointment.NewEngine(api, sessions, catalog, appLog),
		catalog:  catalog,
		gate:     gate.New(sessions, "/login", "/dashboard"),
	}

	ctx := context.Background()
	if err := a.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", friendlyMessage(err))
		os.Exit(1)
	}
}

func buildStore(cfg *config.Config) (store.Store, error) {
	if cfg.Store.Backend == "redis" {
		return store.NewRedisStore(store.RedisConfig{URL: cfg.Redis.URL, Prefix: cfg.Redis.Prefix})
	}
	return store.NewFileStore(cfg.Store.Path)
}

// friendlyMessage phrases taxonomy errors the way the UI would.
func friendlyMessage(err error) string {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrPermission:
		return "you do not have permission for that: " + err.Error()
	case apperrors.ErrConflict:
		return "that did not go through: " + err.Error()
	case apperrors.ErrNetwork:
		return "the clinic backend is unreachable, try again: " + err.Error()
	case apperrors.ErrValidation:
		if fields := apperrors.FieldsOf(err); len(fields) > 0 {
			parts := make([]string, 0, len(fields))
			for k, v := range fields {
				parts = append(parts, k+": "+v)
			}
			return "please review: " + strings.Join(parts, "; ")
		}
	}
	return err.Error()
}

// requireSession bootstraps and waits for revalidation, then consults the
// route gate before a protected command runs.
func (a *app) requireSession(ctx context.Context, roles ...model.Role) error {
	a.sessions.Bootstrap(ctx)
	a.sessions.WaitForRevalidation()

	result := a.gate.Check(gate.Requirement{Roles: roles})
	switch result.Decision {
	case gate.DecisionAllow:
		return nil
	case gate.DecisionRedirect:
		return apperrors.Permission(fmt.Sprintf("%s (go to %s)", result.Reason, result.RedirectTo))
	}
	return apperrors.Authentication("session state unknown", nil)
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "login":
		return a.cmdLogin(ctx, args)
	case "logout":
		a.sessions.Logout(ctx)
		fmt.Println("signed out")
		return nil
	case "whoami":
		return a.cmdWhoami(ctx)
	case "settings":
		return a.cmdSettings(ctx, args)
	case "book":
		return a.cmdBook(ctx, args)
	case "mine":
		return a.cmdMine(ctx)
	case "agenda":
		return a.cmdAgenda(ctx, args)
	case "confirm":
		return a.cmdConfirm(ctx, args)
	case "cancel":
		return a.cmdCancel(ctx, args)
	case "reschedule":
		return a.cmdReschedule(ctx, args)
	case "slots":
		return a.cmdSlots(ctx, args)
	}
	fmt.Fprint(os.Stderr, usage)
	return fmt.Errorf("unknown command %q", command)
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: portal login <email> <password>")
	}
	resp, err := a.sessions.Login(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	if err := a.sessions.AdoptToken(ctx, resp.Token, &model.UserResponse{User: resp.User, Usuario: resp.Usuario}); err != nil {
		return err
	}
	snap := a.sessions.Snapshot()
	fmt.Printf("welcome %s (%s)\n", snap.Identity.DisplayName(), snap.Identity.Role())
	return nil
}

func (a *app) cmdWhoami(ctx context.Context) error {
	if err := a.requireSession(ctx); err != nil {
		return err
	}
	snap := a.sessions.Snapshot()
	fmt.Printf("%s <%s> role=%s notifications=%v\n",
		snap.Identity.DisplayName(), snap.Identity.Email, snap.Identity.Role(), snap.Identity.RecibirNotificaciones)
	return nil
}

func (a *app) cmdSettings(ctx context.Context, args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return fmt.Errorf("usage: portal settings <on|off>")
	}
	if err := a.requireSession(ctx); err != nil {
		return err
	}
	if err := a.sessions.UpdateNotificationSetting(ctx, args[0] == "on"); err != nil {
		return err
	}
	fmt.Println("notification preference updated")
	return nil
}

func (a *app) cmdBook(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("book", flag.ContinueOnError)
	odontologo := fs.Int("odontologo", 0, "provider codigo")
	fecha := fs.String("fecha", "", "date YYYY-MM-DD")
	horario := fs.Int("horario", 0, "slot id")
	tipo := fs.Int("tipo", 0, "consultation type id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.requireSession(ctx, model.RolePatient); err != nil {
		return err
	}

	apt, err := a.engine.Create(ctx, *odontologo, *fecha, *horario, *tipo)
	if err != nil {
		return err
	}
	fmt.Printf("booked #%d on %s at %s with %s %s\n", apt.ID, apt.Fecha, apt.Horario.Hora,
		apt.Odontologo.CodUsuario.Nombre, apt.Odontologo.CodUsuario.Apellido)
	return nil
}

func (a *app) cmdMine(ctx context.Context) error {
	if err := a.requireSession(ctx, model.RolePatient); err != nil {
		return err
	}
	appointments, notice, err := a.engine.ListMine(ctx)
	if err != nil {
		return err
	}
	if notice != nil {
		fmt.Println("note:", notice.Message)
	}
	if len(appointments) == 0 {
		fmt.Println("no appointments")
		return nil
	}
	for _, apt := range appointments {
		fmt.Printf("#%d %s %s %s %s (%s)\n", apt.ID, apt.Fecha, apt.Horario.Hora,
			apt.Odontologo.CodUsuario.Nombre, apt.TipoConsulta.NombreConsulta, apt.Estado.Estado)
	}
	return nil
}

func (a *app) cmdAgenda(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("agenda", flag.ContinueOnError)
	pageNum := fs.Int("page", 1, "page number")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.requireSession(ctx, model.RoleProvider, model.RoleReceptionist, model.RoleAdministrator); err != nil {
		return err
	}

	page, err := a.engine.ListAll(ctx, *pageNum)
	if err != nil {
		return err
	}
	fmt.Printf("%d appointment(s)\n", page.Count)
	for _, apt := range page.Results {
		fmt.Printf("#%d %s %s patient=%s %s provider=%s (%s)\n", apt.ID, apt.Fecha, apt.Horario.Hora,
			apt.Paciente.CodUsuario.Nombre, apt.Paciente.CodUsuario.Apellido,
			apt.Odontologo.CodUsuario.Apellido, apt.Estado.Estado)
	}
	return nil
}

func (a *app) cmdConfirm(ctx context.Context, args []string) error {
	id, err := intArg(args, 0, "confirm <id>")
	if err != nil {
		return err
	}
	if err := a.requireSession(ctx, model.RoleProvider, model.RoleReceptionist, model.RoleAdministrator); err != nil {
		return err
	}
	if err := a.engine.Confirm(ctx, id); err != nil {
		return err
	}
	fmt.Printf("appointment #%d confirmed\n", id)
	return nil
}

func (a *app) cmdCancel(ctx context.Context, args []string) error {
	id, err := intArg(args, 0, "cancel <id> [reason]")
	if err != nil {
		return err
	}
	if err := a.requireSession(ctx); err != nil {
		return err
	}
	reason := strings.Join(args[1:], " ")
	if err := a.engine.Cancel(ctx, id, reason); err != nil {
		return err
	}
	fmt.Printf("appointment #%d cancelled\n", id)
	return nil
}

func (a *app) cmdReschedule(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: portal reschedule <id> <fecha> <horario>")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid id %q", args[0])
	}
	horario, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid horario %q", args[2])
	}
	if err := a.requireSession(ctx); err != nil {
		return err
	}
	if err := a.engine.Reschedule(ctx, id, args[1], horario); err != nil {
		return err
	}
	fmt.Printf("appointment #%d moved to %s slot %d\n", id, args[1], horario)
	return nil
}

func (a *app) cmdSlots(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("slots", flag.ContinueOnError)
	odontologo := fs.Int("odontologo", 0, "provider codigo")
	fecha := fs.String("fecha", "", "date YYYY-MM-DD")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.requireSession(ctx); err != nil {
		return err
	}

	slots, err := a.engine.AvailableSlots(ctx, *odontologo, *fecha)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		fmt.Println("no free slots")
		return nil
	}
	for _, s := range slots {
		fmt.Printf("%d\t%s\n", s.ID, s.Hora)
	}
	return nil
}

func intArg(args []string, idx int, usageHint string) (int, error) {
	if len(args) <= idx {
		return 0, fmt.Errorf("usage: portal %s", usageHint)
	}
	id, err := strconv.Atoi(args[idx])
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", args[idx])
	}
	return id, nil
}
