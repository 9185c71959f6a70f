package model

// Role is the capability tag attached to an identity. It is fixed for the
// lifetime of a session; a role change requires a fresh login.
type Role string

const (
	RolePatient       Role = "patient"
	RoleProvider      Role = "provider"
	RoleReceptionist  Role = "receptionist"
	RoleAdministrator Role = "administrator"
	RoleUnknown       Role = ""
)

// ParseRole maps the backend subtipo value to a Role.
func ParseRole(subtipo string) Role {
	switch subtipo {
	case "paciente":
		return RolePatient
	case "odontologo":
		return RoleProvider
	case "recepcionista":
		return RoleReceptionist
	case "administrador":
		return RoleAdministrator
	}
	return RoleUnknown
}

// Subtipo is the wire form of the role.
func (r Role) Subtipo() string {
	switch r {
	case RolePatient:
		return "paciente"
	case RoleProvider:
		return "odontologo"
	case RoleReceptionist:
		return "recepcionista"
	case RoleAdministrator:
		return "administrador"
	}
	return ""
}

// IsStaff reports whether the role manages appointments on behalf of patients.
func (r Role) IsStaff() bool {
	return r == RoleReceptionist || r == RoleAdministrator
}

// CanConfirm reports whether the role may confirm a scheduled appointment.
func (r Role) CanConfirm() bool {
	return r.IsStaff() || r == RoleProvider
}

// User is the account record returned by the auth endpoints.
type User struct {
	ID        int    `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	IsActive  bool   `json:"is_active"`
}

// Usuario is the clinic-side profile attached to a user account.
type Usuario struct {
	Codigo                int     `json:"codigo"`
	Nombre                string  `json:"nombre"`
	Apellido              string  `json:"apellido"`
	Telefono              *string `json:"telefono"`
	Sexo                  *string `json:"sexo"`
	Subtipo               string  `json:"subtipo"`
	IDTipoUsuario         int     `json:"idtipousuario"`
	RecibirNotificaciones bool    `json:"recibir_notificaciones"`
}

// Identity is the merged user+usuario snapshot held by the session and
// persisted across restarts.
type Identity struct {
	Codigo                int    `json:"codigo"`
	Nombre                string `json:"nombre"`
	Apellido              string `json:"apellido"`
	Email                 string `json:"correoelectronico"`
	Subtipo               string `json:"subtipo"`
	IDTipoUsuario         int    `json:"idtipousuario"`
	RecibirNotificaciones bool   `json:"recibir_notificaciones"`
}

// Role returns the capability tag for the identity.
func (i *Identity) Role() Role {
	if i == nil {
		return RoleUnknown
	}
	return ParseRole(i.Subtipo)
}

// DisplayName returns the human-readable name.
func (i *Identity) DisplayName() string {
	if i == nil {
		return ""
	}
	return i.Nombre + " " + i.Apellido
}

// MergeIdentity builds the session Identity from the auth payload pair.
func MergeIdentity(user *User, usuario *Usuario) *Identity {
	if user == nil || usuario == nil {
		return nil
	}
	return &Identity{
		Codigo:                usuario.Codigo,
		Nombre:                usuario.Nombre,
		Apellido:              usuario.Apellido,
		Email:                 user.Email,
		Subtipo:               usuario.Subtipo,
		IDTipoUsuario:         usuario.IDTipoUsuario,
		RecibirNotificaciones: usuario.RecibirNotificaciones,
	}
}
