package stubserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sitwo-project/clinic-portal/internal/model"
)

func fieldErrors(fields map[string]string) gin.H {
	body := gin.H{}
	for k, v := range fields {
		body[k] = []string{v}
	}
	return body
}

func (s *Server) bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		if fields := s.validator.Struct(dest); len(fields) > 0 {
			c.JSON(http.StatusBadRequest, fieldErrors(fields))
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Malformed request body."})
		}
		return false
	}
	return true
}

func (s *Server) login(c *gin.Context) {
	var req model.LoginRequest
	if !s.bindJSON(c, &req) {
		return
	}

	acc, ok := s.data.authenticate(req.Email, req.Password, s.hasher)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid credentials."})
		return
	}

	token, err := s.tokens.Generate(acc.usuario.Codigo, acc.user.Email, acc.usuario.Subtipo)
	if err != nil {
		s.logger.Error(err, "failed to issue token")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Token generation failed."})
		return
	}

	c.JSON(http.StatusOK, model.LoginResponse{
		OK:      true,
		Message: "Inicio de sesión exitoso",
		Token:   token,
		User:    &acc.user,
		Usuario: &acc.usuario,
	})
}

func (s *Server) currentUser(c *gin.Context) {
	acc := actorFrom(c)
	c.JSON(http.StatusOK, model.UserResponse{User: &acc.user, Usuario: &acc.usuario})
}

func (s *Server) updateSettings(c *gin.Context) {
	acc := actorFrom(c)

	var req model.SettingsUpdate
	if !s.bindJSON(c, &req) {
		return
	}
	s.data.setNotifications(acc.usuario.Codigo, req.RecibirNotificaciones)
	c.JSON(http.StatusOK, gin.H{"recibir_notificaciones": req.RecibirNotificaciones})
}

func (s *Server) listConsultas(c *gin.Context) {
	actor := actorFrom(c)

	codPaciente := 0
	if v := c.Query("codpaciente"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid codpaciente"})
			return
		}
		codPaciente = parsed
	}

	// Patients only ever see their own consultas.
	if actor.usuario.Subtipo == "paciente" {
		codPaciente = actor.usuario.Codigo
	}

	consultas := s.data.listConsultas(codPaciente)
	results := make([]*model.Appointment, 0, len(consultas))
	for _, con := range consultas {
		results = append(results, s.data.render(con))
	}
	c.JSON(http.StatusOK, model.AppointmentPage{Count: len(results), Results: results})
}

func (s *Server) createConsulta(c *gin.Context) {
	actor := actorFrom(c)

	var req model.CreateAppointmentRequest
	if !s.bindJSON(c, &req) {
		return
	}

	if actor.usuario.Subtipo == "paciente" && req.CodPaciente != actor.usuario.Codigo {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Patients may only book for themselves."})
		return
	}

	created, err := s.data.createConsulta(&req)
	if err != nil {
		switch {
		case errors.Is(err, errNoPaciente):
			c.JSON(http.StatusBadRequest, fieldErrors(map[string]string{"codpaciente": "Unknown patient."}))
		case errors.Is(err, errSlotTaken):
			c.JSON(http.StatusConflict, gin.H{"detail": "El horario ya está reservado."})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, s.data.render(created))
}

func consultaID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid consulta id"})
		return 0, false
	}
	return id, true
}

// updateConsulta handles the confirm transition.
func (s *Server) updateConsulta(c *gin.Context) {
	actor := actorFrom(c)
	id, ok := consultaID(c)
	if !ok {
		return
	}

	var req model.UpdateAppointmentRequest
	if !s.bindJSON(c, &req) {
		return
	}

	if req.IDEstadoConsulta != model.EstadoConfirmada {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Only the confirm transition is supported here."})
		return
	}
	if actor.usuario.Subtipo == "paciente" {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Patients cannot confirm appointments."})
		return
	}

	con, err := s.data.confirmConsulta(id)
	if err != nil {
		s.renderConsultaError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.data.render(con))
}

func (s *Server) cancelConsulta(c *gin.Context) {
	actor := actorFrom(c)
	id, ok := consultaID(c)
	if !ok {
		return
	}

	var req model.CancelAppointmentRequest
	if c.Request.ContentLength > 0 {
		if !s.bindJSON(c, &req) {
			return
		}
	}
	if len(req.Motivo) > 500 {
		c.JSON(http.StatusBadRequest, fieldErrors(map[string]string{"motivo": "Ensure this field has no more than 500 characters."}))
		return
	}
	if actor.usuario.Subtipo == "odontologo" {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Providers cannot cancel appointments."})
		return
	}

	con, err := s.data.cancelConsulta(id, req.Motivo, actor)
	if err != nil {
		s.renderConsultaError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.data.render(con))
}

func (s *Server) rescheduleConsulta(c *gin.Context) {
	actor := actorFrom(c)
	id, ok := consultaID(c)
	if !ok {
		return
	}

	var req model.RescheduleAppointmentRequest
	if !s.bindJSON(c, &req) {
		return
	}

	con, err := s.data.rescheduleConsulta(id, req.Fecha, req.IDHorario, actor)
	if err != nil {
		s.renderConsultaError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.data.render(con))
}

func (s *Server) renderConsultaError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": "Consulta not found."})
	case errors.Is(err, errNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"detail": "No permission over this consulta."})
	case errors.Is(err, errTerminal):
		c.JSON(http.StatusConflict, gin.H{"detail": "La consulta ya está cerrada."})
	case errors.Is(err, errSlotTaken):
		c.JSON(http.StatusConflict, gin.H{"detail": "El horario ya está reservado."})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
	}
}

func (s *Server) availableSlots(c *gin.Context) {
	fecha := c.Query("fecha")
	odontologoID, err := strconv.Atoi(c.Query("odontologo_id"))
	if fecha == "" || err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "fecha and odontologo_id are required"})
		return
	}

	slots := s.data.availableSlots(odontologoID, fecha)
	c.JSON(http.StatusOK, model.HorarioPage{Count: len(slots), Results: slots})
}

func (s *Server) listOdontologos(c *gin.Context) {
	odontologos := s.data.odontologos()
	c.JSON(http.StatusOK, model.OdontologoPage{Count: len(odontologos), Results: odontologos})
}

func (s *Server) listHorarios(c *gin.Context) {
	s.data.mu.Lock()
	horarios := append([]*model.Horario(nil), s.data.horarios...)
	s.data.mu.Unlock()
	c.JSON(http.StatusOK, model.HorarioPage{Count: len(horarios), Results: horarios})
}

func (s *Server) listTiposConsulta(c *gin.Context) {
	s.data.mu.Lock()
	tipos := append([]*model.TipoConsulta(nil), s.data.tipos...)
	s.data.mu.Unlock()
	c.JSON(http.StatusOK, model.TipoConsultaPage{Count: len(tipos), Results: tipos})
}

func (s *Server) listPacientes(c *gin.Context) {
	s.data.mu.Lock()
	pacientes := append([]*model.Paciente(nil), s.data.pacientes...)
	s.data.mu.Unlock()
	c.JSON(http.StatusOK, model.PacientePage{Count: len(pacientes), Results: pacientes})
}
