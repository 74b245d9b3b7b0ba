package server

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// MeResponse returns the current authenticated user id.
type MeResponse struct {
	UserID string `json:"user_id"`
}

// AgentRequest is the create/update payload for a registered agent.
type AgentRequest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	Visibility  string   `json:"visibility"`
	Categories  []string `json:"categories"`
	Description string   `json:"description"`
	PublicKey   string   `json:"public_key,omitempty"`
}

// AgentResponse is the registered agent view returned by the API.
type AgentResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	OwnerID     string   `json:"owner_id"`
	Visibility  string   `json:"visibility"`
	Categories  []string `json:"categories"`
	Description string   `json:"description"`
}

// SearchRequest is the query payload for the orchestrated search endpoint.
type SearchRequest struct {
	Query string `json:"query"`
}
