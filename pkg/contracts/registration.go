// Package contracts defines the shared data model of the notification
// registration and call-session core.
//
// Registration side:
//   - A device owns one RegistrationToken identified by a client-minted TokenID
//   - The backend mirrors it as a RegistrationRecord keyed by (userId, tokenId)
//   - Authorization status gates creation and destruction of both
package contracts

import "time"

// AuthorizationStatus is the platform notification-permission state.
type AuthorizationStatus string

const (
	AuthorizationUndetermined AuthorizationStatus = "UNDETERMINED"
	AuthorizationAuthorized   AuthorizationStatus = "AUTHORIZED"
	AuthorizationDenied       AuthorizationStatus = "DENIED"
	AuthorizationProvisional  AuthorizationStatus = "PROVISIONAL"
)

// Granted reports whether the status allows registration. Provisional
// authorization is treated like full authorization.
func (s AuthorizationStatus) Granted() bool {
	return s == AuthorizationAuthorized || s == AuthorizationProvisional
}

// Environment is the push gateway environment the tokens were issued for.
type Environment string

const (
	EnvironmentDevelopment Environment = "development"
	EnvironmentProduction  Environment = "production"
)

// ParseEnvironment maps an aps-environment entitlement value to an
// Environment. Unknown values fall back to development.
func ParseEnvironment(v string) Environment {
	if Environment(v) == EnvironmentProduction {
		return EnvironmentProduction
	}
	return EnvironmentDevelopment
}

// DeviceTokens is the pair of raw platform tokens, hex encoded.
// An empty string means the token has not been issued or was invalidated.
type DeviceTokens struct {
	Push string `json:"push,omitempty"`
	VoIP string `json:"voip,omitempty"`
}

// Complete reports whether both tokens are present.
func (t DeviceTokens) Complete() bool {
	return t.Push != "" && t.VoIP != ""
}

// RegistrationToken is the local view of this device's registration.
type RegistrationToken struct {
	TokenID     string       `json:"token_id"`
	Tokens      DeviceTokens `json:"tokens"`
	Environment Environment  `json:"environment"`
	LastUpdated time.Time    `json:"last_updated"`
}

// Uploadable reports whether the token may be sent to the backend.
func (t RegistrationToken) Uploadable() bool {
	return t.TokenID != "" && t.Tokens.Complete()
}

// RegistrationRecord is the backend document for one registration.
// Field names follow the backend schema.
type RegistrationRecord struct {
	APNSToken        string      `json:"apnsToken"`
	VoIPToken        string      `json:"voipToken"`
	Environment      Environment `json:"environment"`
	ModificationDate time.Time   `json:"modificationDate"`
}

// Matches reports whether the record carries exactly the given tokens.
func (r RegistrationRecord) Matches(t DeviceTokens) bool {
	return r.APNSToken == t.Push && r.VoIPToken == t.VoIP
}

// RecordFor builds the record to upload for a registration token.
func RecordFor(t RegistrationToken) RegistrationRecord {
	return RegistrationRecord{
		APNSToken:        t.Tokens.Push,
		VoIPToken:        t.Tokens.VoIP,
		Environment:      t.Environment,
		ModificationDate: t.LastUpdated,
	}
}

// DeviceType identifies the client flavour in backend requests.
type DeviceType string

const DeviceTypeIOSApp DeviceType = "iOSApp"

// DeviceAPNSToken is the token block of an insert-or-update request.
type DeviceAPNSToken struct {
	APNS        string      `json:"apns"`
	VoIP        string      `json:"voip"`
	Environment Environment `json:"environment"`
}

// InsertOrUpdateTokenBody is the argument of the insert-or-update function.
type InsertOrUpdateTokenBody struct {
	UserID      string     `json:"userId"`
	TokenID     string     `json:"tokenId"`
	DeviceToken struct {
		APNSToken DeviceAPNSToken `json:"apnsToken"`
	} `json:"deviceToken"`
	DeviceType DeviceType `json:"deviceType"`
}

// NewInsertOrUpdateTokenBody converts a record into the function argument.
func NewInsertOrUpdateTokenBody(userID, tokenID string, rec RegistrationRecord) InsertOrUpdateTokenBody {
	body := InsertOrUpdateTokenBody{
		UserID:     userID,
		TokenID:    tokenID,
		DeviceType: DeviceTypeIOSApp,
	}
	body.DeviceToken.APNSToken = DeviceAPNSToken{
		APNS:        rec.APNSToken,
		VoIP:        rec.VoIPToken,
		Environment: rec.Environment,
	}
	return body
}

// DeleteTokenBody is the argument of the delete function.
type DeleteTokenBody struct {
	UserID  string `json:"userId"`
	TokenID string `json:"tokenId"`
}
