package auth

import "golang.org/x/oauth2/clientcredentials"

// Conf holds the OAuth2 client-credentials settings used to authenticate
// against the notification backend.
type Conf struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	AuthURL      string `json:"auth_url" validate:"omitempty,url"`
}

// Enabled reports whether credentials are configured.
func (c Conf) Enabled() bool {
	return c.ClientID != "" && c.AuthURL != ""
}

func (c Conf) toOauth2Config() clientcredentials.Config {
	return clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.AuthURL,
	}
}
