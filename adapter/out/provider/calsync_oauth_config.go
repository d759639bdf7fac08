package provider

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
	calendar "google.golang.org/api/calendar/v3"
)

// OAuthCredentials holds one provider's OAuth application settings.
type OAuthCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// TenantID applies to Microsoft only; "common" for multi-tenant.
	TenantID string
}

// GoogleOAuthConfig builds the oauth2 configuration for Google Calendar
// access.
func GoogleOAuthConfig(creds OAuthCredentials) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURL,
		Scopes: []string{
			calendar.CalendarScope,
			calendar.CalendarEventsScope,
		},
		Endpoint: google.Endpoint,
	}
}

// MicrosoftOAuthConfig builds the oauth2 configuration for Microsoft
// Graph calendar access.
func MicrosoftOAuthConfig(creds OAuthCredentials) *oauth2.Config {
	tenantID := creds.TenantID
	if tenantID == "" {
		tenantID = "common"
	}

	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURL,
		Scopes: []string{
			"https://graph.microsoft.com/Calendars.ReadWrite",
			"https://graph.microsoft.com/User.Read",
			"offline_access",
		},
		Endpoint: microsoft.AzureADEndpoint(tenantID),
	}
}
