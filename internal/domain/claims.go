package domain

// ClaimSet es el payload verificado de un ID token. Nunca se persiste.
type ClaimSet struct {
	Email      string `json:"email"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	Name       string `json:"name,omitempty"`
	// ExpiresAt en segundos epoch; 0 significa sin expiracion.
	ExpiresAt int64 `json:"exp,omitempty"`
}
