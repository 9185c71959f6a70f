package model

// Reference entities fetched read-only to populate selection inputs. None of
// these are mutated by the portal core.

// Odontologo is a bookable provider.
type Odontologo struct {
	CodUsuario UsuarioRef `json:"codusuario"`
}

// Paciente is a patient record, keyed by its usuario codigo.
type Paciente struct {
	CarnetIdentidad string     `json:"carnetidentidad"`
	Direccion       string     `json:"direccion"`
	FechaNacimiento string     `json:"fechanacimiento"`
	CodUsuario      UsuarioRef `json:"codusuario"`
}

type OdontologoPage struct {
	Count   int           `json:"count"`
	Results []*Odontologo `json:"results"`
}

type PacientePage struct {
	Count   int         `json:"count"`
	Results []*Paciente `json:"results"`
}

type HorarioPage struct {
	Count   int        `json:"count"`
	Results []*Horario `json:"results"`
}

type TipoConsultaPage struct {
	Count   int             `json:"count"`
	Results []*TipoConsulta `json:"results"`
}
